package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	"github.com/spf13/pflag"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/runner"
	"github.com/jeffrom/editcorpus/vcs"
	"github.com/jeffrom/editcorpus/vcs/gitcli"
	"github.com/jeffrom/editcorpus/vcs/github"
)

var (
	// overridden by go build -X
	Version string

	termIO = &config.DefaultTermIO
)

const configFileName = "editcorpus.yaml"

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(rawArgs []string) error {
	// flag values are merged over the config file, so only set flags count.
	// applyZeroFlags covers flags set to zero.
	fcfg := &config.Config{}

	var help bool
	var version bool
	var cfgFile string
	var printConfig bool
	var listDetectors bool
	var timeout, baseDelay, maxDelay time.Duration
	flags := pflag.NewFlagSet("editcorpus", pflag.ContinueOnError)
	flags.SetOutput(termIO.Stderr)
	flags.BoolVarP(&help, "help", "h", false, "show help")
	flags.BoolVarP(&version, "version", "V", false, "print version and exit")
	flags.StringVarP(&cfgFile, "config", "c", "", "specify config `file`")
	flags.BoolVarP(&fcfg.Verbose, "verbose", "v", false, "print additional debugging info")
	flags.BoolVarP(&fcfg.Quiet, "quiet", "q", false, "print as little as necessary")
	flags.StringVar(&fcfg.Source, "source", "", "read commits from `host`: github or git")
	flags.StringArrayVarP(&fcfg.Repos, "repo", "r", nil, "extract from repository `owner/name`")
	flags.StringVar(&fcfg.ReposFile, "repos-file", "", "read repositories from `file`, one per line")
	flags.StringVar(&fcfg.CloneDir, "clone-dir", "", "keep local clones in `dir` (git source)")
	flags.StringVar(&fcfg.CloneURL, "clone-url", "", "clone `url` template with {owner} and {name} (git source)")
	flags.StringVarP(&fcfg.OutDir, "out-dir", "o", "", "write datasets to `dir`")
	flags.BoolVarP(&fcfg.Compress, "compress", "z", false, "gzip dataset files")
	flags.IntVar(&fcfg.MinFiles, "min-files", 0, "skip commits touching fewer than `n` files")
	flags.IntVar(&fcfg.MaxFiles, "max-files", 0, "skip commits touching more than `n` files")
	flags.IntVar(&fcfg.PerPage, "per-page", 0, "list `n` commits per request")
	flags.IntVarP(&fcfg.Concurrency, "concurrency", "j", 0, "process `n` repositories or records at once")
	flags.DurationVar(&timeout, "timeout", 0, "per request `timeout`")
	flags.IntVar(&fcfg.MaxAttempts, "max-attempts", 0, "try each request at most `n` times")
	flags.DurationVar(&baseDelay, "base-delay", 0, "first retry `delay`")
	flags.DurationVar(&maxDelay, "max-delay", 0, "longest retry `delay`")
	flags.Float64Var(&fcfg.RequestsPerSecond, "rps", 0, "API requests per second")
	flags.IntVar(&fcfg.MaxChangedLines, "max-changed-lines", 0, "drop file changes with more than `n` changed lines")
	flags.IntVar(&fcfg.MaxCommitFiles, "max-commit-files", 0, "drop file changes from commits with more than `n` files")
	flags.IntVar(&fcfg.MinHunks, "min-hunks", 0, "drop file changes with fewer than `n` hunks")
	flags.IntVar(&fcfg.MaxHunkGap, "max-hunk-gap", 0, "count hunks at most `n` lines apart as one (negative disables)")
	flags.Float64Var(&fcfg.Proportions.Train, "train", 0, "train split `fraction`")
	flags.Float64Var(&fcfg.Proportions.Validation, "validation", 0, "validation split `fraction`")
	flags.Float64Var(&fcfg.Proportions.Test, "test", 0, "test split `fraction`")
	flags.Int64Var(&fcfg.Seed, "seed", 0, "split shuffle `seed`")
	flags.Float64Var(&fcfg.Tolerance, "tolerance", 0, "allowed stratification `deviation`")
	flags.BoolVar(&printConfig, "print-config", false, "print effective configuration and exit")
	flags.BoolVar(&listDetectors, "list-detectors", false, "print the label taxonomy and exit")

	if err := flags.Parse(rawArgs[1:]); err != nil {
		return err
	}
	fcfg.RequestTimeout = config.Duration(timeout)
	fcfg.BaseDelay = config.Duration(baseDelay)
	fcfg.MaxDelay = config.Duration(maxDelay)
	stages := flags.Args()

	cfg, err := readConfigYAML(cfgFile)
	if err != nil {
		return err
	}
	if err := mergo.Merge(&cfg, fcfg, mergo.WithOverride); err != nil {
		return err
	}
	applyZeroFlags(&cfg, fcfg, flags)
	cfg.Token = os.Getenv("GITHUB_TOKEN")

	if help {
		usage(cfg, flags)
		return nil
	}
	if version {
		cfg.Printf("%s", Version)
		return nil
	}

	if cfg.ReposFile != "" {
		repos, err := readReposFile(cfg.ReposFile)
		if err != nil {
			return err
		}
		cfg.Repos = appendUnique(cfg.Repos, repos...)
	}

	if printConfig {
		b, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cfg.Term.Stdout, string(b))
		return nil
	}
	if listDetectors {
		for i := range cfg.Detectors {
			if err := cfg.Detectors[i].TextSummary(cfg.Term.Stdout); err != nil {
				return err
			}
		}
		if cfg.FallbackLabel != "" {
			fmt.Fprintf(cfg.Term.Stdout, "Label: %s\n  when no other label matches\n", cfg.FallbackLabel)
		}
		return nil
	}

	if cfg.Verbose {
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		cfg.Debugf("config: %s", string(b))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if needsExtract(stages) {
		if err := cfg.ValidateExtract(); err != nil {
			return err
		}
	}
	// done setting up config

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var host vcs.Interface
	if needsExtract(stages) {
		switch cfg.Source {
		case "git":
			host = gitcli.New(cfg)
		default:
			host = github.New(ctx, cfg)
		}
	}
	return runner.New(cfg, host).Run(ctx, stages...)
}

func needsExtract(stages []string) bool {
	if len(stages) == 0 {
		return true
	}
	for _, s := range stages {
		if s == runner.StageAll || s == runner.StageExtract {
			return true
		}
	}
	return false
}

func usage(cfg config.Config, flags *pflag.FlagSet) {
	cfg.Printf(`%s [stage...]

Builds a labeled corpus of small code edits from repository history.

STAGES
  extract    collect commits into commits.jsonl
  filter     keep small multi-hunk file changes in filtered.jsonl
  classify   label file changes into labeled.jsonl
  split      write train.jsonl, validation.jsonl and test.jsonl
  all        run every stage (default)

FLAGS
%s
Settings are read from %s, found by walking up from the current
directory, and overridden by flags. GITHUB_TOKEN authenticates API requests.

EXAMPLES

# build a corpus from two repositories
$ editcorpus -r spf13/pflag -r google/go-github

# relabel and resplit after editing detectors in %s
$ editcorpus classify split

# use local clones instead of the API
$ editcorpus --source git --repos-file repos.txt
`, filepath.Base(os.Args[0]), flags.FlagUsages(), configFileName, configFileName)
}

// applyZeroFlags copies flags that were set to a zero value, which the
// merge above skips.
func applyZeroFlags(cfg, fcfg *config.Config, flags *pflag.FlagSet) {
	set := map[string]func(){
		"verbose":      func() { cfg.Verbose = fcfg.Verbose },
		"quiet":        func() { cfg.Quiet = fcfg.Quiet },
		"compress":     func() { cfg.Compress = fcfg.Compress },
		"rps":          func() { cfg.RequestsPerSecond = fcfg.RequestsPerSecond },
		"max-hunk-gap": func() { cfg.MaxHunkGap = fcfg.MaxHunkGap },
		"train":        func() { cfg.Proportions.Train = fcfg.Proportions.Train },
		"validation":   func() { cfg.Proportions.Validation = fcfg.Proportions.Validation },
		"test":         func() { cfg.Proportions.Test = fcfg.Proportions.Test },
		"seed":         func() { cfg.Seed = fcfg.Seed },
	}
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
}

// readConfigYAML reads p, or the nearest editcorpus.yaml found walking up
// from the working directory, onto the defaults.
func readConfigYAML(p string) (config.Config, error) {
	if p != "" {
		return parseConfigYAML(p)
	}

	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	for {
		cand := filepath.Join(wd, configFileName)
		cfg, err := parseConfigYAML(cand)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return config.NewWithTerminalIO(nil, termIO), nil
}

func parseConfigYAML(p string) (config.Config, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.ParseYAML(b, termIO)
	if err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", p, err)
	}
	return cfg, nil
}

// readReposFile reads one repository per line. Blank lines and lines
// starting with # are skipped.
func readReposFile(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var repos []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		repos = append(repos, line)
	}
	return repos, scanner.Err()
}

func appendUnique(l []string, items ...string) []string {
	seen := make(map[string]bool, len(l))
	for _, s := range l {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			l = append(l, s)
		}
	}
	return l
}
