package toktrie

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HFTokenizer adapts a HuggingFace tokenizer.json (loaded via
// github.com/daulet/tokenizers, the same binding the BGE embedder in the
// teacher project used) into both a VocabEntry source for NewTokenEnv and a
// CanonicalFunc for TokenizeWithGreedyFallback.
//
// Tokenizer acquisition itself is explicitly out of scope for the
// constrainer core (spec.md §1); this type is the thin external-collaborator
// seam the core calls through, not part of the core.
type HFTokenizer struct {
	tk *tokenizers.Tokenizer
}

// LoadHFTokenizer opens a tokenizer.json file.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("toktrie: load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Close releases the underlying tokenizer.
func (h *HFTokenizer) Close() {
	if h.tk != nil {
		h.tk.Close()
	}
}

// VocabEntries returns every (id, bytes) pair in the tokenizer's vocabulary,
// suitable for NewTokenEnv. Byte-level BPE vocabularies already decode each
// piece back to raw bytes via the tokenizer's own byte-to-unicode mapping.
func (h *HFTokenizer) VocabEntries() []VocabEntry {
	vocab := h.tk.Vocab(true)
	entries := make([]VocabEntry, 0, len(vocab))
	for piece, id := range vocab {
		b, err := h.tk.Decode([]uint32{id}, false)
		var raw []byte
		if err == nil {
			raw = []byte(b)
		} else {
			raw = []byte(piece)
		}
		entries = append(entries, VocabEntry{ID: id, Bytes: raw})
	}
	return entries
}

// Canonical returns a CanonicalFunc backed by this tokenizer's own encoder.
// It rejects (returns ok=false) whenever the round-tripped decode does not
// reproduce the input bytes exactly, which is the signal
// TokenizeWithGreedyFallback uses to back off to greedy recovery.
func (h *HFTokenizer) Canonical() CanonicalFunc {
	return func(b []byte) ([]TokenID, bool) {
		enc := h.tk.EncodeWithOptions(string(b), false)
		ids := make([]TokenID, len(enc.IDs))
		copy(ids, enc.IDs)
		decoded, err := h.tk.Decode(ids, false)
		if err != nil || decoded != string(b) {
			return nil, false
		}
		return ids, true
	}
}
