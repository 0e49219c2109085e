// Package config loads .llguidance.toml, the on-disk defaults for parser
// limits, matcher caps, log level, and executor worker-pool sizing. It
// follows the same three-tier precedence the teacher's cmd/sift/main.go
// uses for its own .sift.toml: CLI flag overrides file value overrides
// hardcoded default.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/screenager/llguidance/internal/earley"
	"github.com/screenager/llguidance/internal/matcher"
)

// FileConfig is the .llguidance.toml shape. Every field is optional; a zero
// value means "use the tier below" (hardcoded default, or a CLI flag if one
// is later applied on top).
type FileConfig struct {
	MaxItemsInRow    int     `toml:"max-items-in-row"`
	InitialLexerFuel int     `toml:"initial-lexer-fuel"`
	StepLexerFuel    int     `toml:"step-lexer-fuel"`
	StepMaxItems     int     `toml:"step-max-items"`
	MaxLexerStates   int     `toml:"max-lexer-states"`
	MaxGrammarSize   int     `toml:"max-grammar-size"`
	RollbackCapacity int     `toml:"rollback-capacity"`
	MaxTokensTotal   int     `toml:"max-tokens-total"`
	LogLevel         string  `toml:"log-level"`
	WorkerFraction   float64 `toml:"worker-fraction"`
}

// Config is the fully resolved, in-process configuration handed to
// matcher.New and matcher.NewExecutor.
type Config struct {
	Limits         earley.Limits
	Caps           matcher.Caps
	LogLevel       matcher.LogLevel
	WorkerFraction float64
}

// Default returns the hardcoded bottom tier: earley.DefaultLimits(), an
// unbounded token cap, error-level logging, and the spec-mandated 80%
// worker-pool fraction (spec.md §4.7).
func Default() Config {
	return Config{
		Limits:         earley.DefaultLimits(),
		Caps:           matcher.Caps{},
		LogLevel:       matcher.LogError,
		WorkerFraction: 0.8,
	}
}

// Load reads path (typically ".llguidance.toml") and layers it over
// Default(). A missing file is not an error — it just means the hardcoded
// defaults stand, exactly as the teacher's main.go treats a missing
// .sift.toml.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc FileConfig
	if err := toml.Unmarshal(b, &fc); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyFile(fc)
	return cfg, nil
}

func (c *Config) applyFile(fc FileConfig) {
	if fc.MaxItemsInRow > 0 {
		c.Limits.MaxItemsInRow = fc.MaxItemsInRow
	}
	if fc.InitialLexerFuel > 0 {
		c.Limits.InitialLexerFuel = fc.InitialLexerFuel
	}
	if fc.StepLexerFuel > 0 {
		c.Limits.StepLexerFuel = fc.StepLexerFuel
	}
	if fc.StepMaxItems > 0 {
		c.Limits.StepMaxItems = fc.StepMaxItems
	}
	if fc.MaxLexerStates > 0 {
		c.Limits.MaxLexerStates = fc.MaxLexerStates
	}
	if fc.MaxGrammarSize > 0 {
		c.Limits.MaxGrammarSize = fc.MaxGrammarSize
	}
	if fc.RollbackCapacity > 0 {
		c.Limits.RollbackCapacity = fc.RollbackCapacity
	}
	if fc.MaxTokensTotal > 0 {
		c.Caps.MaxTokensTotal = fc.MaxTokensTotal
	}
	if fc.LogLevel != "" {
		if lvl, ok := ParseLogLevel(fc.LogLevel); ok {
			c.LogLevel = lvl
		}
	}
	if fc.WorkerFraction > 0 {
		c.WorkerFraction = fc.WorkerFraction
	}
}

// ParseLogLevel maps a --log-level flag or config value onto a
// matcher.LogLevel. Unrecognized names return (0, false) so callers can
// fall back to whatever tier they were about to overwrite.
func ParseLogLevel(name string) (matcher.LogLevel, bool) {
	switch name {
	case "silent":
		return matcher.LogSilent, true
	case "error":
		return matcher.LogError, true
	case "info":
		return matcher.LogInfo, true
	case "debug":
		return matcher.LogDebug, true
	default:
		return 0, false
	}
}

// FlagOverrides carries CLI-flag values that, when non-zero, win over both
// the file and the hardcoded default — the top tier of the precedence
// chain. A zero or "" field means "not explicitly set", the same way the
// teacher's main.go treats 0/"" flag defaults.
type FlagOverrides struct {
	MaxItemsInRow  int
	StepMaxItems   int
	MaxTokensTotal int
	LogLevel       string
	WorkerFraction float64
}

// Apply layers CLI overrides on top of cfg, mutating it in place.
func (c *Config) Apply(o FlagOverrides) {
	if o.MaxItemsInRow > 0 {
		c.Limits.MaxItemsInRow = o.MaxItemsInRow
	}
	if o.StepMaxItems > 0 {
		c.Limits.StepMaxItems = o.StepMaxItems
	}
	if o.MaxTokensTotal > 0 {
		c.Caps.MaxTokensTotal = o.MaxTokensTotal
	}
	if o.LogLevel != "" {
		if lvl, ok := ParseLogLevel(o.LogLevel); ok {
			c.LogLevel = lvl
		}
	}
	if o.WorkerFraction > 0 {
		c.WorkerFraction = o.WorkerFraction
	}
}

// ExecutorWorkers derives the batch executor's worker count from
// WorkerFraction and the given parallelism ceiling (runtime.GOMAXPROCS(0)),
// clamped to 32 per spec.md §4.7. It returns 0 when WorkerFraction or
// parallelism is <= 0, which lets matcher.NewExecutor fall back to its own
// default.
func (c *Config) ExecutorWorkers(parallelism int) int {
	if c.WorkerFraction <= 0 || parallelism <= 0 {
		return 0
	}
	n := int(float64(parallelism) * c.WorkerFraction)
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	return n
}
