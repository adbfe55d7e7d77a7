// Package runner manages command-line execution of the pipeline stages.
// Each stage reads the previous stage's file from the output directory, so
// stages can be rerun on their own.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/jeffrom/editcorpus/classify"
	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/dataset"
	"github.com/jeffrom/editcorpus/extract"
	"github.com/jeffrom/editcorpus/filter"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/report"
	"github.com/jeffrom/editcorpus/split"
	"github.com/jeffrom/editcorpus/vcs"
)

// Stage names, in pipeline order.
const (
	StageExtract  = "extract"
	StageFilter   = "filter"
	StageClassify = "classify"
	StageSplit    = "split"
	StageAll      = "all"
)

var Stages = []string{StageExtract, StageFilter, StageClassify, StageSplit}

// Dataset file names in the output directory.
const (
	CommitsFile    = "commits.jsonl"
	FilteredFile   = "filtered.jsonl"
	LabeledFile    = "labeled.jsonl"
	SplitStatsFile = "split_stats.json"
)

type Runner struct {
	cfg  config.Config
	host vcs.Interface
}

// New returns a runner. host is only used by the extract stage and may be
// nil otherwise.
func New(cfg config.Config, host vcs.Interface) *Runner {
	return &Runner{cfg: cfg, host: host}
}

// Run runs the named stages in pipeline order. "all", or no stages, runs
// every stage.
func (r *Runner) Run(ctx context.Context, stages ...string) error {
	want := make(map[string]bool)
	for _, s := range stages {
		if s == StageAll {
			for _, name := range Stages {
				want[name] = true
			}
			continue
		}
		if !isStage(s) {
			return fmt.Errorf("%w: unknown stage %q", config.ErrInvalid, s)
		}
		want[s] = true
	}
	if len(want) == 0 {
		for _, name := range Stages {
			want[name] = true
		}
	}

	for _, name := range Stages {
		if !want[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.cfg.Debugf("running %s stage", name)
		var err error
		switch name {
		case StageExtract:
			err = r.Extract(ctx)
		case StageFilter:
			err = r.Filter(ctx)
		case StageClassify:
			err = r.Classify(ctx)
		case StageSplit:
			err = r.Split(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func isStage(s string) bool {
	for _, name := range Stages {
		if s == name {
			return true
		}
	}
	return false
}

// Extract collects commits into commits.jsonl. When ctx is cancelled the
// commits read so far are still written before ctx's error is returned.
func (r *Runner) Extract(ctx context.Context) error {
	if r.host == nil {
		return errors.New("runner: no host configured for extract")
	}
	res, err := extract.New(r.cfg, r.host).Extract(ctx)
	if err != nil {
		return err
	}
	if err := dataset.Write(r.output(CommitsFile), res.Commits); err != nil {
		return err
	}
	if err := r.finish(res.Report); err != nil {
		return err
	}
	if res.Cancelled {
		r.cfg.Errorf("extract cancelled, wrote %d commit(s) collected so far", len(res.Commits))
		return ctx.Err()
	}
	return nil
}

func (r *Runner) Filter(ctx context.Context) error {
	commits, err := readInput[model.Commit](r, CommitsFile)
	if err != nil {
		return err
	}
	recs, rep := filter.Filter(r.cfg, commits)
	if err := dataset.Write(r.output(FilteredFile), recs); err != nil {
		return err
	}
	return r.finish(rep)
}

func (r *Runner) Classify(ctx context.Context) error {
	c, err := classify.New(r.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	recs, err := readInput[model.Record](r, FilteredFile)
	if err != nil {
		return err
	}
	labeled, rep, err := c.ClassifyAll(ctx, recs)
	if err != nil {
		return err
	}
	if err := dataset.Write(r.output(LabeledFile), labeled); err != nil {
		return err
	}
	return r.finish(rep)
}

// Split writes the train, validation and test files and split_stats.json.
// A partition failure writes nothing and is returned as a
// split.InvariantError.
func (r *Runner) Split(ctx context.Context) error {
	recs, err := readInput[model.Record](r, LabeledFile)
	if err != nil {
		return err
	}
	res, err := split.Build(r.cfg, recs)
	if err != nil {
		var ierr split.InvariantError
		if errors.As(err, &ierr) && r.cfg.Term.Stderr != nil {
			ierr.WriteFailure(r.cfg.Term.Stderr)
		}
		return err
	}
	for _, s := range model.Splits {
		if err := dataset.Write(r.output(string(s)+".jsonl"), res.Split(s)); err != nil {
			return err
		}
	}
	if err := dataset.WriteJSON(r.summaryPath(SplitStatsFile), res.Stats); err != nil {
		return err
	}
	return r.finish(res.Report)
}

// finish writes the stage summary file and prints the summary: aligned
// text on a terminal, a JSON line otherwise.
func (r *Runner) finish(rep *report.Stage) error {
	if err := rep.Balanced(); err != nil {
		return pkgerrors.Wrapf(err, "%s stage", rep.Name)
	}
	if err := dataset.WriteJSON(r.summaryPath(rep.Name+"_summary.json"), rep); err != nil {
		return err
	}
	if r.cfg.Quiet || r.cfg.Term.Stdout == nil {
		return nil
	}
	if config.IsTerminal(r.cfg.Term.Stdout) {
		return rep.TextSummary(r.cfg.Term.Stdout)
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = r.cfg.Term.Stdout.Write(append(b, '\n'))
	return err
}

func (r *Runner) output(name string) string {
	return dataset.Path(r.cfg.OutDir, name, r.cfg.Compress)
}

func (r *Runner) summaryPath(name string) string {
	return dataset.Path(r.cfg.OutDir, name, false)
}

// input finds the file a previous stage wrote for name, compressed or not,
// preferring the configured form.
func (r *Runner) input(name string) (string, error) {
	for _, compress := range []bool{r.cfg.Compress, !r.cfg.Compress} {
		p := dataset.Path(r.cfg.OutDir, name, compress)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("runner: %s not found in %s, run the previous stage first", name, r.cfg.OutDir)
}

func readInput[T any](r *Runner, name string) ([]T, error) {
	p, err := r.input(name)
	if err != nil {
		return nil, err
	}
	r.cfg.Debugf("reading %s", p)
	return dataset.Read[T](p)
}
