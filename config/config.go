package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
)

// Config holds the options of every pipeline stage. Zero values are filled
// from GetDefault when the config is built with New. ParseYAML keeps zero
// values that a config file sets explicitly.
type Config struct {
	Verbose bool `json:"verbose,omitempty"`
	Quiet   bool `json:"quiet,omitempty"`

	// Source is the host backend: "github" or "git".
	Source    string   `json:"source,omitempty"`
	Repos     []string `json:"repos,omitempty"`
	ReposFile string   `json:"repos_file,omitempty"`
	// CloneDir holds local clones for the git source, one directory per
	// repository named owner_name.
	CloneDir string `json:"clone_dir,omitempty"`
	// CloneURL is expanded with {owner} and {name} when a clone is missing.
	CloneURL string `json:"clone_url,omitempty"`
	OutDir   string `json:"out_dir,omitempty"`
	Compress bool   `json:"compress,omitempty"`

	MinFiles int `json:"min_files,omitempty"`
	MaxFiles int `json:"max_files,omitempty"`
	PerPage  int `json:"per_page,omitempty"`

	Concurrency    int      `json:"concurrency,omitempty"`
	RequestTimeout Duration `json:"request_timeout,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
	BaseDelay      Duration `json:"base_delay,omitempty"`
	MaxDelay       Duration `json:"max_delay,omitempty"`
	// RequestsPerSecond paces outbound API calls. Zero means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second"`

	MaxChangedLines int `json:"max_changed_lines,omitempty"`
	MaxCommitFiles  int `json:"max_commit_files,omitempty"`
	MinHunks        int `json:"min_hunks,omitempty"`
	// MaxHunkGap merges hunks whose old line ranges are at most this many
	// lines apart before MinHunks is checked. Negative counts every hunk.
	MaxHunkGap   int      `json:"max_hunk_gap"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`

	TaxonomyVersion string     `json:"taxonomy_version,omitempty"`
	Detectors       []Detector `json:"detectors,omitempty"`
	FallbackLabel   string     `json:"fallback_label"`

	Proportions Proportions `json:"proportions,omitempty"`
	Seed        int64       `json:"seed"`
	Tolerance   float64     `json:"tolerance,omitempty"`
	// MinStratify is the smallest label population the stratification
	// check applies to.
	MinStratify int `json:"min_stratify,omitempty"`

	Token string     `json:"-"`
	Term  TerminalIO `json:"-"`
}

type Proportions struct {
	Train      float64 `json:"train"`
	Validation float64 `json:"validation"`
	Test       float64 `json:"test"`
}

func (p Proportions) Sum() float64 { return p.Train + p.Validation + p.Test }

func New(overrides *Config) Config {
	return NewWithTerminalIO(overrides, nil)
}

func NewWithTerminalIO(overrides *Config, termio *TerminalIO) Config {
	cfg := GetDefault()
	if termio == nil {
		termio = &DefaultTermIO
	}
	cfg.Term = *termio

	if overrides != nil {
		if err := mergo.Merge(&cfg, overrides, mergo.WithOverride); err != nil {
			panic(err)
		}
	}
	return cfg
}

// ParseYAML reads a config file onto the defaults. Every key present in
// the file replaces its default, zero values included. Lists in the file
// replace the default lists rather than merging with them.
func ParseYAML(b []byte, termio *TerminalIO) (Config, error) {
	def := NewWithTerminalIO(nil, termio)
	cfg := def
	cfg.Repos, cfg.ExcludePaths, cfg.Detectors = nil, nil, nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if cfg.ExcludePaths == nil {
		cfg.ExcludePaths = def.ExcludePaths
	}
	if cfg.Detectors == nil {
		cfg.Detectors = def.Detectors
	}
	return cfg, nil
}

func (c Config) Printf(msg string, args ...interface{}) {
	if c.Quiet || c.Term.Stdout == nil {
		return
	}
	fmt.Fprintf(c.Term.Stdout, msg+"\n", args...)
}

func (c Config) Errorf(msg string, args ...interface{}) {
	if c.Term.Stderr == nil {
		return
	}
	fmt.Fprintf(c.Term.Stderr, msg+"\n", args...)
}

func (c Config) Debugf(msg string, args ...interface{}) {
	if !c.Verbose {
		return
	}
	c.Printf(msg, args...)
}

// Duration reads either a Go duration string ("30s") or integer
// nanoseconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}
