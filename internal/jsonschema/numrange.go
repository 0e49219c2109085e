package jsonschema

import (
	"fmt"
	"strconv"
	"strings"
)

// intRangeToRegex builds a byte-level regex (consumed by internal/rlex)
// matching the decimal representation of every integer in [min,max],
// inclusive, with an optional leading '-' and no leading zeros other than
// the literal value "0" itself.
func intRangeToRegex(min, max int64) (string, error) {
	if min > max {
		return "", fmt.Errorf("jsonschema: empty integer range [%d,%d]", min, max)
	}
	switch {
	case max < 0:
		pos, err := positiveRangeRegex(uint64(-max), uint64(-min))
		if err != nil {
			return "", err
		}
		return "-" + pos, nil
	case min >= 0:
		return positiveRangeRegex(uint64(min), uint64(max))
	default:
		neg, err := positiveRangeRegex(1, uint64(-min))
		if err != nil {
			return "", err
		}
		pos, err := positiveRangeRegex(0, uint64(max))
		if err != nil {
			return "", err
		}
		return "(-" + neg + "|" + pos + ")", nil
	}
}

// positiveRangeRegex builds a regex matching decimal strings for the
// non-negative integers in [lo,hi], by splitting into same-length digit
// segments and delegating each to fixedLenDigitsRange.
func positiveRangeRegex(lo, hi uint64) (string, error) {
	var segments []string
	cur := lo
	for {
		digits := len(strconv.FormatUint(cur, 10))
		maxForLen := pow10(digits) - 1
		segHi := hi
		if maxForLen < segHi {
			segHi = maxForLen
		}
		loStr := strconv.FormatUint(cur, 10)
		hiStr := fmt.Sprintf("%0*d", digits, segHi)
		segments = append(segments, fixedLenDigitsRange(loStr, hiStr))
		if segHi >= hi {
			break
		}
		cur = segHi + 1
	}
	if len(segments) == 1 {
		return segments[0], nil
	}
	return "(" + strings.Join(segments, "|") + ")", nil
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// fixedLenDigitsRange builds a regex matching fixed-length decimal strings
// lo..hi (same length, lo<=hi), via the standard leftmost-differing-digit
// split: a lower boundary branch, an optional fully-free middle branch, and
// an upper boundary branch.
func fixedLenDigitsRange(lo, hi string) string {
	if lo == hi {
		return lo
	}
	n := len(lo)
	if n == 1 {
		return "[" + lo + "-" + hi + "]"
	}
	i := 0
	for i < n && lo[i] == hi[i] {
		i++
	}
	prefix := lo[:i]
	if i == n-1 {
		return prefix + "[" + string(lo[i]) + "-" + string(hi[i]) + "]"
	}
	var alts []string
	suffixLen := n - i - 1
	allNines := strings.Repeat("9", suffixLen)
	allZeros := strings.Repeat("0", suffixLen)

	loRest := lo[i+1:]
	if loRest == allNines {
		alts = append(alts, prefix+string(lo[i])+allNines)
	} else {
		alts = append(alts, prefix+string(lo[i])+fixedLenDigitsRange(loRest, allNines))
	}

	loD, hiD := lo[i], hi[i]
	if loD+1 <= hiD-1 {
		mid := "[" + string(loD+1) + "-" + string(hiD-1) + "]"
		if suffixLen > 0 {
			mid += "[0-9]{" + strconv.Itoa(suffixLen) + "}"
		}
		alts = append(alts, prefix+mid)
	}

	hiRest := hi[i+1:]
	if hiRest == allZeros {
		alts = append(alts, prefix+string(hiD)+allZeros)
	} else {
		alts = append(alts, prefix+string(hiD)+fixedLenDigitsRange(allZeros, hiRest))
	}
	if len(alts) == 1 {
		return alts[0]
	}
	return "(" + strings.Join(alts, "|") + ")"
}
