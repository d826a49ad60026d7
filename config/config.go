// Package config holds the settings of the rollout tools. Values come from
// defaults, then an optional YAML file, then ROLLOUT_* environment variables,
// then command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/rolloutiw/features"
	"github.com/brensch/rolloutiw/game"
	"github.com/brensch/rolloutiw/planner"
)

const (
	PlannerRollout = "rollout"
	PlannerFixed   = "fixed"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROLLOUT_"

type Config struct {
	Frameskip int   `yaml:"frameskip"`
	Seed      int64 `yaml:"seed"`
	// Features selects the atom set: 0 ram, 1 basic, 2 basic+B-PROS, 3 basic+B-PROS+B-PROT.
	Features int `yaml:"features"`
	MaxDepth int `yaml:"max_depth"`
	// MaxRep of zero is derived from the frameskip.
	MaxRep   int     `yaml:"max_rep"`
	Discount float64 `yaml:"discount"`
	Alpha    float64 `yaml:"alpha"`
	// Budget is the wall-clock limit per decision. Zero is unbounded.
	Budget time.Duration `yaml:"budget"`
	Debug  bool          `yaml:"debug"`

	Episodes int `yaml:"episodes"`
	// MaxLength of zero is derived from the frameskip.
	MaxLength    int    `yaml:"max_length"`
	SingleAction bool   `yaml:"single_action"`
	Workers      int    `yaml:"workers"`
	Planner      string `yaml:"planner"`
	FixedActions []int  `yaml:"fixed_actions"`

	Env game.Options `yaml:"env"`

	OutDir   string `yaml:"out_dir"`
	TraceDir string `yaml:"trace_dir"`
	Listen   string `yaml:"listen"`
	// Resume skips episodes already recorded in OutDir's ledger.
	Resume bool `yaml:"resume"`
	TUI    bool `yaml:"tui"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Default returns the settings used when nothing overrides them. MaxRep and
// MaxLength are left zero so Normalize can derive them.
func Default() Config {
	return Config{
		Frameskip: 5,
		Features:  int(features.RAM),
		MaxDepth:  50,
		Discount:  1,
		Alpha:     10000,
		Episodes:  1,
		Workers:   1,
		Planner:   PlannerRollout,
		Env:       game.DefaultOptions(),
		LogLevel:  "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ROLLOUT_* variables found through lookup.
// Malformed values are errors.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := get(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	setInt("FRAMESKIP", &c.Frameskip)
	if v, ok := get("SEED"); ok {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			c.Seed = s
		}
	}
	setInt("FEATURES", &c.Features)
	setInt("MAX_DEPTH", &c.MaxDepth)
	setInt("MAX_REP", &c.MaxRep)
	setFloat("DISCOUNT", &c.Discount)
	setFloat("ALPHA", &c.Alpha)
	if v, ok := get("BUDGET"); ok {
		d, err := parseBudget(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sBUDGET: %w", EnvPrefix, err))
		} else {
			c.Budget = d
		}
	}
	setBool("DEBUG", &c.Debug)
	setInt("EPISODES", &c.Episodes)
	setInt("MAX_LENGTH", &c.MaxLength)
	setBool("SINGLE_ACTION", &c.SingleAction)
	setInt("WORKERS", &c.Workers)
	setString("PLANNER", &c.Planner)
	if v, ok := get("FIXED_ACTIONS"); ok {
		actions, err := parseActions(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sFIXED_ACTIONS: %w", EnvPrefix, err))
		} else {
			c.FixedActions = actions
		}
	}
	setInt("WIDTH", &c.Env.Width)
	setInt("HEIGHT", &c.Env.Height)
	setInt("LIVES", &c.Env.Lives)
	setString("OUT_DIR", &c.OutDir)
	setString("TRACE_DIR", &c.TraceDir)
	setString("LISTEN", &c.Listen)
	setBool("RESUME", &c.Resume)
	setBool("TUI", &c.TUI)
	setString("LOG_LEVEL", &c.LogLevel)
	setBool("LOG_PRETTY", &c.LogPretty)
	return errors.Join(errs...)
}

// BindFlags registers a flag for every scalar setting, defaulting to the
// current value of c.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Frameskip, "frameskip", c.Frameskip, "frames per action")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "random seed")
	fs.IntVar(&c.Features, "features", c.Features, "feature set (0=ram, 1=basic, 2=+B-PROS, 3=+B-PROT)")
	fs.IntVar(&c.MaxDepth, "max-depth", c.MaxDepth, "max depth of the search tree")
	fs.IntVar(&c.MaxRep, "max-rep", c.MaxRep, "max frames a screen may repeat (0 derives from frameskip)")
	fs.Float64Var(&c.Discount, "discount", c.Discount, "discount factor")
	fs.Float64Var(&c.Alpha, "alpha", c.Alpha, "penalty multiplier for negative rewards")
	fs.Var((*budgetValue)(&c.Budget), "budget", "time budget per decision, e.g. 500ms or 0.5 (0 is unbounded)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log planner internals at info")
	fs.IntVar(&c.Episodes, "episodes", c.Episodes, "number of episodes")
	fs.IntVar(&c.MaxLength, "max-length", c.MaxLength, "max actions per episode (0 derives from frameskip)")
	fs.BoolVar(&c.SingleAction, "single-action", c.SingleAction, "re-plan after every action")
	fs.IntVar(&c.Workers, "workers", c.Workers, "episodes played in parallel")
	fs.StringVar(&c.Planner, "planner", c.Planner, "planner: rollout or fixed")
	fs.Var((*actionsValue)(&c.FixedActions), "fixed-actions", "comma separated actions for the fixed planner")
	fs.IntVar(&c.Env.Width, "width", c.Env.Width, "board width")
	fs.IntVar(&c.Env.Height, "height", c.Env.Height, "board height")
	fs.IntVar(&c.Env.Lives, "lives", c.Env.Lives, "lives per episode")
	fs.StringVar(&c.OutDir, "out", c.OutDir, "directory for parquet logs (empty disables)")
	fs.StringVar(&c.TraceDir, "traces", c.TraceDir, "directory for episode traces (empty disables)")
	fs.StringVar(&c.Listen, "listen", c.Listen, "address for /metrics and /ws (empty disables)")
	fs.BoolVar(&c.Resume, "resume", c.Resume, "skip episodes already in the output ledger")
	fs.BoolVar(&c.TUI, "tui", c.TUI, "show a live dashboard instead of logging to stderr")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "indent log records")
}

// Parse builds a Config from args and the environment. The -config flag
// names the YAML file; flags given on the command line win over both the
// file and the environment.
func Parse(name string, args []string, lookup func(string) (string, bool), output io.Writer) (Config, error) {
	// First pass only finds the config file and reports flag errors.
	scratch := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	path := fs.String("config", "", "YAML config file")
	scratch.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return scratch, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("config", "", "")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills the settings derived from the frameskip.
func (c *Config) Normalize() {
	if c.Frameskip <= 0 {
		return
	}
	if c.MaxRep == 0 {
		c.MaxRep = 60 / c.Frameskip
	}
	if c.MaxLength == 0 {
		c.MaxLength = 18000 / c.Frameskip
	}
	c.Planner = strings.ToLower(strings.TrimSpace(c.Planner))
}

func (c Config) Validate() error {
	if c.Frameskip <= 0 {
		return fmt.Errorf("frameskip must be positive, got %d", c.Frameskip)
	}
	if _, err := features.ParseMode(c.Features); err != nil {
		return err
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth)
	}
	if c.MaxRep < 0 {
		return fmt.Errorf("max_rep must not be negative, got %d", c.MaxRep)
	}
	if c.Discount <= 0 || c.Discount > 1 {
		return fmt.Errorf("discount must be in (0,1], got %g", c.Discount)
	}
	if c.Alpha < 0 {
		return fmt.Errorf("alpha must not be negative, got %g", c.Alpha)
	}
	if c.Budget < 0 {
		return fmt.Errorf("budget must not be negative, got %s", c.Budget)
	}
	if c.Episodes <= 0 {
		return fmt.Errorf("episodes must be positive, got %d", c.Episodes)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("max_length must be positive, got %d", c.MaxLength)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Resume && c.OutDir == "" {
		return errors.New("resume needs out_dir")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.Planner {
	case PlannerRollout:
	case PlannerFixed:
		if len(c.FixedActions) == 0 {
			return errors.New("planner fixed needs fixed_actions")
		}
		for _, a := range c.FixedActions {
			if a < game.MoveUp || a > game.MoveRight {
				return fmt.Errorf("fixed action %d out of range [0,3]", a)
			}
		}
	default:
		return fmt.Errorf("unknown planner %q (want %s or %s)", c.Planner, PlannerRollout, PlannerFixed)
	}
	if _, err := game.NewEnv(c.GameOptions()); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	return nil
}

// PlannerConfig is the planner's view of c.
func (c Config) PlannerConfig() planner.Config {
	return planner.Config{
		Frameskip: c.Frameskip,
		Budget:    c.Budget,
		MaxDepth:  c.MaxDepth,
		MaxRep:    c.MaxRep,
		Discount:  c.Discount,
		Alpha:     c.Alpha,
		Debug:     c.Debug,
		Seed:      c.Seed,
	}
}

// GameOptions is the arena's view of c. The arena steps once per frame, so
// one planner action advances it Frameskip turns.
func (c Config) GameOptions() game.Options {
	opts := c.Env
	opts.Frameskip = c.Frameskip
	return opts
}

func (c Config) FeatureMode() features.Mode {
	return features.Mode(c.Features)
}

// Actions converts FixedActions.
func (c Config) Actions() []planner.Action {
	out := make([]planner.Action, len(c.FixedActions))
	for i, a := range c.FixedActions {
		out[i] = planner.Action(a)
	}
	return out
}

// parseBudget accepts a duration ("250ms") or plain seconds ("0.25", "inf").
func parseBudget(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "inf") {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid budget %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseActions(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		a, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", f, err)
		}
		out = append(out, a)
	}
	return out, nil
}

type budgetValue time.Duration

func (b *budgetValue) String() string {
	if b == nil || *b == 0 {
		return "0"
	}
	return time.Duration(*b).String()
}

func (b *budgetValue) Set(s string) error {
	d, err := parseBudget(s)
	if err != nil {
		return err
	}
	*b = budgetValue(d)
	return nil
}

type actionsValue []int

func (a *actionsValue) String() string {
	if a == nil {
		return ""
	}
	parts := make([]string, len(*a))
	for i, v := range *a {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (a *actionsValue) Set(s string) error {
	actions, err := parseActions(s)
	if err != nil {
		return err
	}
	*a = actions
	return nil
}
