package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/jeffrom/editcorpus/model"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

const proportionEpsilon = 1e-6

// Validate checks the options shared by every stage.
func (c Config) Validate() error {
	var probs []string
	add := func(format string, args ...interface{}) {
		probs = append(probs, fmt.Sprintf(format, args...))
	}

	if c.MinFiles < 1 {
		add("min_files must be >= 1, got %d", c.MinFiles)
	}
	if c.MaxFiles < 1 {
		add("max_files must be >= 1, got %d", c.MaxFiles)
	}
	if c.MinFiles > c.MaxFiles {
		add("min_files (%d) must be <= max_files (%d)", c.MinFiles, c.MaxFiles)
	}
	if c.MaxChangedLines < 1 {
		add("max_changed_lines must be >= 1, got %d", c.MaxChangedLines)
	}
	if c.MaxCommitFiles < 1 {
		add("max_commit_files must be >= 1, got %d", c.MaxCommitFiles)
	}
	if c.MinHunks < 1 {
		add("min_hunks must be >= 1, got %d", c.MinHunks)
	}
	for _, p := range c.ExcludePaths {
		if _, err := regexp.Compile(p); err != nil {
			add("exclude path %q: %v", p, err)
		}
	}

	if c.Concurrency < 1 {
		add("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		add("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.RequestTimeout < 0 || c.BaseDelay < 0 || c.MaxDelay < 0 {
		add("durations must not be negative")
	}
	if c.MaxDelay < c.BaseDelay {
		add("max_delay (%s) must be >= base_delay (%s)", c.MaxDelay.D(), c.BaseDelay.D())
	}
	if c.RequestsPerSecond < 0 {
		add("requests_per_second must not be negative")
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		add("per_page must be between 1 and 100, got %d", c.PerPage)
	}
	switch c.Source {
	case "github", "git":
	default:
		add("unknown source %q", c.Source)
	}

	p := c.Proportions
	if p.Train <= 0 || p.Validation < 0 || p.Test < 0 {
		add("proportions must be non-negative with train > 0, got %v/%v/%v", p.Train, p.Validation, p.Test)
	}
	if math.Abs(p.Sum()-1) > proportionEpsilon {
		add("proportions must sum to 1, got %v", p.Sum())
	}
	if c.Tolerance <= 0 || c.Tolerance >= 1 {
		add("tolerance must be in (0, 1), got %v", c.Tolerance)
	}
	if c.MinStratify < 1 {
		add("min_stratify must be >= 1, got %d", c.MinStratify)
	}

	if err := c.validateTaxonomy(); err != nil {
		add("%v", err)
	}

	if len(probs) > 0 {
		return &ValidationError{Problems: probs}
	}
	return nil
}

// ValidateExtract runs Validate and checks the repository list.
func (c Config) ValidateExtract() error {
	var probs []string
	if err := c.Validate(); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		probs = append(probs, verr.Problems...)
	}
	if len(c.Repos) == 0 {
		probs = append(probs, "no repositories configured")
	}
	seen := make(map[string]bool)
	for _, repo := range c.Repos {
		if _, _, err := model.ParseRepo(repo); err != nil {
			probs = append(probs, err.Error())
		}
		if seen[repo] {
			probs = append(probs, fmt.Sprintf("duplicate repository %q", repo))
		}
		seen[repo] = true
	}
	if len(probs) > 0 {
		return &ValidationError{Problems: probs}
	}
	return nil
}

func (c Config) validateTaxonomy() error {
	v, err := semver.Parse(c.TaxonomyVersion)
	if err != nil {
		return fmt.Errorf("taxonomy_version %q: %w", c.TaxonomyVersion, err)
	}
	builtin := semver.MustParse(BuiltinTaxonomyVersion)
	if v.Major != builtin.Major {
		return fmt.Errorf("taxonomy_version %s is incompatible with %s", v, builtin)
	}
	if len(c.Detectors) == 0 {
		return fmt.Errorf("no detectors configured")
	}
	labels := make(map[string]bool)
	for i := range c.Detectors {
		d := &c.Detectors[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if labels[d.Label] {
			return fmt.Errorf("duplicate detector label %q", d.Label)
		}
		labels[d.Label] = true
	}
	if c.FallbackLabel != "" && labels[c.FallbackLabel] {
		return fmt.Errorf("fallback label %q is also a detector label", c.FallbackLabel)
	}
	return nil
}
