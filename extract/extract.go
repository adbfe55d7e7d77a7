// Package extract collects commits whose file count is within the
// configured bounds from every configured repository.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/report"
	"github.com/jeffrom/editcorpus/vcs"
)

// Drop reasons.
const (
	DropOutOfBounds = "file_count_out_of_bounds"
	DropNoFiles     = "no_files"
	DropUnreadable  = "unreadable"
	DropDuplicate   = "duplicate"
	DropCancelled   = "cancelled"
)

// maxConsecutiveGaps stops a repository after this many pages in a row
// could not be listed.
const maxConsecutiveGaps = 3

type Result struct {
	Commits []model.Commit
	Report  *report.Stage
	// Cancelled is set when the run was cancelled before every repository
	// was read. Commits holds what was collected until then.
	Cancelled bool
}

type Extractor struct {
	cfg   config.Config
	host  vcs.Interface
	retry *Retrier
}

func New(cfg config.Config, host vcs.Interface) *Extractor {
	e := &Extractor{
		cfg:  cfg,
		host: host,
	}
	e.retry = NewRetrier(RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay.D(),
		MaxDelay:    cfg.MaxDelay.D(),
		Timeout:     cfg.RequestTimeout.D(),
	}).Observe(func(t Transition) {
		if t.To == StateBackingOff || t.To == StateExhausted {
			e.cfg.Debugf("attempt %d failed (%s): %v", t.Attempt, t.To, t.Err)
		}
	})
	return e
}

// Resolve checks that every repository exists. An unknown repository is a
// configuration error.
func (e *Extractor) Resolve(ctx context.Context) error {
	for _, repo := range e.cfg.Repos {
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			return e.host.ResolveRepo(ctx, repo)
		})
		if vcs.IsNotFound(err) {
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "resolving %s", repo)
		}
	}
	return nil
}

// Extract resolves every repository, then reads them concurrently. Failures
// inside one repository are recorded in the report and never abort the
// others. The only errors returned come from resolution.
func (e *Extractor) Extract(ctx context.Context) (*Result, error) {
	rep := report.New("extract")
	rep.SetParam("repos", e.cfg.Repos)
	rep.SetParam("min_files", e.cfg.MinFiles)
	rep.SetParam("max_files", e.cfg.MaxFiles)
	rep.SetParam("source", e.cfg.Source)

	if err := e.Resolve(ctx); err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		all []model.Commit
		g   errgroup.Group
	)
	g.SetLimit(e.cfg.Concurrency)
	for _, repo := range e.cfg.Repos {
		repo := repo
		g.Go(func() error {
			commits := e.extractRepo(ctx, repo, rep)
			e.cfg.Debugf("%s: %d commit(s) collected", repo, len(commits))
			mu.Lock()
			all = append(all, commits...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	all = dedupe(all, rep)
	sortCommits(all)
	return &Result{
		Commits:   all,
		Report:    rep,
		Cancelled: ctx.Err() != nil,
	}, nil
}

func (e *Extractor) extractRepo(ctx context.Context, repo string, rep *report.Stage) []model.Commit {
	var commits []model.Commit
	page := 1
	gaps := 0
	for page > 0 {
		if ctx.Err() != nil {
			return commits
		}

		var res *vcs.CommitPage
		err := e.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = e.host.ListCommits(ctx, repo, vcs.ListOpts{Page: page, PerPage: e.cfg.PerPage})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return commits
			}
			rep.AddGap(report.Gap{Repo: repo, Page: page, Err: err.Error()})
			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) {
				e.cfg.Errorf("%s: stopping at page %d: %v", repo, page, err)
				return commits
			}
			gaps++
			if gaps >= maxConsecutiveGaps {
				e.cfg.Errorf("%s: stopping after %d unreadable pages in a row", repo, gaps)
				return commits
			}
			e.cfg.Errorf("%s: skipping page %d: %v", repo, page, err)
			page++
			continue
		}
		gaps = 0

		for _, ref := range res.Refs {
			if ctx.Err() != nil {
				return commits
			}
			rep.AddIn(1)
			if ref.FileCount > 0 && !e.inBounds(ref.FileCount) {
				rep.Drop(DropOutOfBounds, 1)
				continue
			}

			var cmt *model.Commit
			err := e.retry.Do(ctx, func(ctx context.Context) error {
				var err error
				cmt, err = e.host.ReadCommit(ctx, repo, ref.ID)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					rep.Drop(DropCancelled, 1)
					return commits
				}
				rep.AddGap(report.Gap{Repo: repo, Page: page, Commit: ref.ID, Err: err.Error()})
				rep.Drop(DropUnreadable, 1)
				continue
			}

			switch {
			case len(cmt.Files) == 0:
				rep.Drop(DropNoFiles, 1)
			case !e.inBounds(len(cmt.Files)):
				rep.Drop(DropOutOfBounds, 1)
			default:
				cmt.Repo = repo
				commits = append(commits, *cmt)
				rep.AddOut(1)
				rep.Add("repos", repo, 1)
			}
		}
		page = res.NextPage
	}
	return commits
}

func (e *Extractor) inBounds(n int) bool {
	return n >= e.cfg.MinFiles && n <= e.cfg.MaxFiles
}

// dedupe drops repeated commits, which appear when history moves between
// page reads.
func dedupe(commits []model.Commit, rep *report.Stage) []model.Commit {
	seen := make(map[string]bool, len(commits))
	out := commits[:0]
	for _, c := range commits {
		key := c.Repo + "@" + c.ID
		if seen[key] {
			rep.Drop(DropDuplicate, 1)
			rep.AddOut(-1)
			rep.Add("repos", c.Repo, -1)
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func sortCommits(commits []model.Commit) {
	sort.SliceStable(commits, func(i, j int) bool {
		a, b := commits[i], commits[j]
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}
