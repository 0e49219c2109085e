// Command sampleparser is the reference CLI host for the constrainer core:
// it compiles a grammar, drives it against a tokenizer and a sample file,
// and exposes the interactive inspector and the batch executor, mirroring
// the shape of the teacher's cmd/sift CLI (a root cobra command with
// PersistentFlags, one subcommand per workflow, and a shared config/closure
// setup at the top of main).
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/screenager/llguidance/internal/config"
	"github.com/screenager/llguidance/internal/grammar"
	"github.com/screenager/llguidance/internal/matcher"
	"github.com/screenager/llguidance/internal/toktrie"
	"github.com/screenager/llguidance/internal/tui"
	"github.com/screenager/llguidance/internal/watchgrammar"
)

// exitCodeError carries spec.md §6's exit-code contract through cobra's
// generic error return so main can decide os.Exit(n) after Execute unwinds.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func usageErrf(format string, args ...interface{}) error {
	return &exitCodeError{code: 1, err: fmt.Errorf(format, args...)}
}

func compileErrf(err error) error {
	return &exitCodeError{code: 2, err: err}
}

func runtimeErrf(err error) error {
	return &exitCodeError{code: 3, err: err}
}

var (
	flagConfigPath    string
	flagLogLevel      string
	flagMaxTokens     int
	flagWorkerFrac    float64
	flagMaxItemsInRow int
)

func main() {
	root := &cobra.Command{
		Use:           "sampleparser",
		Short:         "Drive the llguidance constrainer core from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", ".llguidance.toml", "path to the TOML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "silent|error|info|debug (overrides config)")
	root.PersistentFlags().IntVar(&flagMaxTokens, "max-tokens-total", 0, "matcher-wide token ceiling (overrides config)")
	root.PersistentFlags().Float64Var(&flagWorkerFrac, "worker-fraction", 0, "batch executor worker fraction (overrides config)")
	root.PersistentFlags().IntVar(&flagMaxItemsInRow, "max-items-in-row", 0, "Earley row-width fuel (overrides config)")

	root.AddCommand(
		newMinimalCmd(),
		newSampleParserCmd(),
		newWatchCmd(),
		newTUICmd(),
		newBenchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ece *exitCodeError
		if errors.As(err, &ece) {
			os.Exit(ece.code)
		}
		os.Exit(1)
	}
}

// loadConfig resolves the three-tier precedence chain (spec.md's config
// section, carried over from the teacher's .sift.toml handling): hardcoded
// default, overlaid by flagConfigPath if present, overlaid by any
// PersistentFlags the caller actually set.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg.Apply(config.FlagOverrides{
		MaxItemsInRow:  flagMaxItemsInRow,
		MaxTokensTotal: flagMaxTokens,
		LogLevel:       flagLogLevel,
		WorkerFraction: flagWorkerFrac,
	})
	return cfg, nil
}

func readGrammarFile(path string) (*grammar.Grammar, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, usageErrf("reading grammar file %s: %v", path, err)
	}
	g, err := grammar.Compile(string(src), grammar.CompileOptions{})
	if err != nil {
		return nil, compileErrf(fmt.Errorf("compiling %s: %w", path, err))
	}
	return g, nil
}

func buildTokenEnv(tokenizerPath string) (*toktrie.TokenEnv, *toktrie.HFTokenizer, error) {
	hf, err := toktrie.LoadHFTokenizer(tokenizerPath)
	if err != nil {
		return nil, nil, usageErrf("loading tokenizer %s: %v", tokenizerPath, err)
	}
	entries := hf.VocabEntries()
	eos := toktrie.NoToken
	for _, e := range entries {
		if len(e.Bytes) > 0 && e.Bytes[0] == toktrie.SpecialMarker && string(e.Bytes[1:]) == "eos" {
			eos = e.ID
			break
		}
	}
	if eos == toktrie.NoToken {
		hf.Close()
		return nil, nil, usageErrf("tokenizer %s has no <|eos|> special token", tokenizerPath)
	}
	env, err := toktrie.NewTokenEnv(entries, toktrie.Config{EOS: eos, PAD: toktrie.NoToken, BOS: toktrie.NoToken, UNK: toktrie.NoToken, EOT: toktrie.NoToken})
	if err != nil {
		hf.Close()
		return nil, nil, usageErrf("building token environment: %v", err)
	}
	return env, hf, nil
}

// newMinimalCmd compiles a grammar file and reports success; the smallest
// possible smoke test for the grammar compiler's error-reporting exit code.
func newMinimalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "minimal <grammar-file>",
		Short: "Compile a grammar file and report success or a compile error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := readGrammarFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("grammar ok: %d rules, %d terminals\n", len(g.Symbols), len(g.Terminals))
			return nil
		},
	}
}

// newSampleParserCmd drives a matcher token-by-token over a sample file,
// printing the mask size, whether EOS is allowed, and whether the sample
// token was consumed at each step (spec.md §4.5/§4.6).
func newSampleParserCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "sample-parser <grammar-file> <tokenizer.json> <sample-file>",
		Short: "Replay a sample file through a matcher, one token at a time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return usageErrf("%v", err)
			}
			g, err := readGrammarFile(args[0])
			if err != nil {
				return err
			}
			env, hf, err := buildTokenEnv(args[1])
			if err != nil {
				return err
			}
			defer hf.Close()
			sample, err := os.ReadFile(args[2])
			if err != nil {
				return usageErrf("reading sample file %s: %v", args[2], err)
			}

			tokens := env.TokenizeWithGreedyFallback(sample, hf.Canonical())
			m := matcher.New(g, env, cfg.Caps, cfg.Limits, cfg.LogLevel)
			if m.IsError() {
				return runtimeErrf(fmt.Errorf("matcher construction failed: %s", m.GetError()))
			}

			type step struct {
				Index      int    `json:"index"`
				Token      string `json:"token"`
				MaskCount  int    `json:"mask_count"`
				VocabSize  int    `json:"vocab_size"`
				EOSAllowed bool   `json:"eos_allowed"`
				State      string `json:"state"`
			}
			var steps []step

			for i, tok := range tokens {
				mk, err := m.ComputeMask()
				if err != nil {
					return runtimeErrf(err)
				}
				s := step{
					Index:      i,
					Token:      string(env.Decode([]toktrie.TokenID{tok})),
					MaskCount:  mk.Count(),
					VocabSize:  mk.Len(),
					EOSAllowed: mk.Test(env.EOSToken()),
				}
				if !mk.Test(tok) {
					s.State = "rejected"
					steps = append(steps, s)
					if jsonOut {
						enc := json.NewEncoder(os.Stdout)
						enc.SetIndent("", "  ")
						enc.Encode(steps)
					}
					return runtimeErrf(fmt.Errorf("sample token %d (%q) is not allowed by the grammar at this position", i, s.Token))
				}
				if err := m.ConsumeToken(tok); err != nil {
					return runtimeErrf(err)
				}
				s.State = "consumed"
				steps = append(steps, s)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(steps)
			}
			for _, s := range steps {
				fmt.Printf("[%3d] %-20q mask=%d/%d eos=%v %s\n", s.Index, s.Token, s.MaskCount, s.VocabSize, s.EOSAllowed, s.State)
			}
			if m.IsAccepting() {
				fmt.Println("sample fully consumed; grammar is in an accepting state")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit steps as a JSON array instead of plain text")
	return cmd
}

// newWatchCmd recompiles the grammar file on every save of it (or of the
// sample file, if given), until interrupted, printing the compile result;
// the sample is not replayed.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <grammar-file> [sample-file]",
		Short: "Recompile a grammar file on every save",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			samplePath := ""
			if len(args) == 2 {
				samplePath = args[1]
			}
			w, err := watchgrammar.New(args[0], samplePath, func(r watchgrammar.Result) {
				if r.Err != nil {
					fmt.Fprintf(os.Stderr, "compile error: %v\n", r.Err)
					return
				}
				fmt.Printf("compiled ok: %d rules, %d terminals\n", len(r.Grammar.Symbols), len(r.Grammar.Terminals))
			})
			if err != nil {
				return runtimeErrf(err)
			}
			fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", args[0])
			done := make(chan struct{})
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			go func() {
				<-sig
				close(done)
			}()
			if err := w.Watch(done); err != nil {
				return runtimeErrf(err)
			}
			return nil
		},
	}
}

// newTUICmd launches the interactive inspector over a pre-tokenized sample.
func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui <grammar-file> <tokenizer.json> <sample-file>",
		Short: "Step a matcher through a sample interactively",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return usageErrf("%v", err)
			}
			g, err := readGrammarFile(args[0])
			if err != nil {
				return err
			}
			env, hf, err := buildTokenEnv(args[1])
			if err != nil {
				return err
			}
			defer hf.Close()
			sample, err := os.ReadFile(args[2])
			if err != nil {
				return usageErrf("reading sample file %s: %v", args[2], err)
			}
			tokens := env.TokenizeWithGreedyFallback(sample, hf.Canonical())
			m := matcher.New(g, env, cfg.Caps, cfg.Limits, cfg.LogLevel)
			if m.IsError() {
				return runtimeErrf(fmt.Errorf("matcher construction failed: %s", m.GetError()))
			}
			model := tui.New(m, env, tokens)
			if err := tui.Run(model); err != nil {
				return runtimeErrf(err)
			}
			return nil
		},
	}
}

// newBenchCmd replicates one matcher/sample pair across N independent
// matchers and measures the batch executor's throughput computing masks for
// all of them concurrently (spec.md §4.7).
func newBenchCmd() *cobra.Command {
	var matchers int
	cmd := &cobra.Command{
		Use:   "bench <grammar-file> <tokenizer.json> <sample-file>",
		Short: "Measure batch mask-computation throughput across many matchers",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return usageErrf("%v", err)
			}
			if matchers <= 0 {
				return usageErrf("--matchers must be positive, got %d", matchers)
			}
			g, err := readGrammarFile(args[0])
			if err != nil {
				return err
			}
			env, hf, err := buildTokenEnv(args[1])
			if err != nil {
				return err
			}
			defer hf.Close()
			if _, err := os.ReadFile(args[2]); err != nil {
				return usageErrf("reading sample file %s: %v", args[2], err)
			}

			ms := make([]*matcher.Matcher, matchers)
			for i := range ms {
				ms[i] = matcher.New(g, env, cfg.Caps, cfg.Limits, cfg.LogLevel)
				if ms[i].IsError() {
					return runtimeErrf(fmt.Errorf("matcher %d construction failed: %s", i, ms[i].GetError()))
				}
			}

			words := (env.VocabSize() + 31) / 32
			dest := make([]uint32, words*matchers)
			tasks := make([]matcher.Task, matchers)
			for i, mm := range ms {
				tasks[i] = matcher.Task{Matcher: mm, Offset: i * words}
			}

			workers := cfg.ExecutorWorkers(runtime.GOMAXPROCS(0))
			ex := matcher.NewExecutor(workers)

			start := time.Now()
			if err := ex.ComputeMasks(tasks, dest); err != nil {
				return runtimeErrf(err)
			}
			elapsed := time.Since(start)

			fmt.Printf("computed %d masks (%d vocab words each) in %s across %d workers\n",
				matchers, words, elapsed, ex.Workers())
			return nil
		},
	}
	cmd.Flags().IntVar(&matchers, "matchers", 16, "number of independent matchers to compute masks for")
	return cmd
}
