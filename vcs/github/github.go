// Package github implements vcs.Interface on the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gh "github.com/google/go-github/github"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/patch"
	"github.com/jeffrom/editcorpus/vcs"
)

// Client reads commits through the GitHub API. Every request waits on a
// shared limiter so concurrent workers stay under the configured rate.
type Client struct {
	cfg     config.Config
	client  *gh.Client
	limiter *rate.Limiter
}

// New builds a client authenticated with cfg.Token, or anonymous when the
// token is empty.
func New(ctx context.Context, cfg config.Config) *Client {
	var hc *http.Client
	if cfg.Token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	return NewWithClient(cfg, gh.NewClient(hc))
}

func NewWithClient(cfg config.Config, client *gh.Client) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) ResolveRepo(ctx context.Context, repo string) error {
	owner, name, err := model.ParseRepo(repo)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, resp, err := c.client.Repositories.Get(ctx, owner, name)
	return classify(err, resp, repo, "")
}

func (c *Client) ListCommits(ctx context.Context, repo string, opts vcs.ListOpts) (*vcs.CommitPage, error) {
	owner, name, err := model.ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	listOpts := &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{Page: opts.Page, PerPage: opts.PerPage},
	}
	commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, listOpts)
	if err := classify(err, resp, repo, ""); err != nil {
		return nil, pkgerrors.Wrapf(err, "listing commits for %s, page=%d", repo, opts.Page)
	}

	page := &vcs.CommitPage{NextPage: resp.NextPage}
	for _, cmt := range commits {
		// merges have no single diff to learn from.
		if len(cmt.Parents) > 1 {
			continue
		}
		page.Refs = append(page.Refs, vcs.CommitRef{ID: cmt.GetSHA()})
	}
	return page, nil
}

// repoCommit is the commit endpoint's response. It is decoded here because
// renamed files carry previous_filename, which CommitFile lacks.
type repoCommit struct {
	SHA    string       `json:"sha"`
	Commit *gh.Commit   `json:"commit"`
	Files  []commitFile `json:"files"`
}

type commitFile struct {
	gh.CommitFile
	PreviousFilename string `json:"previous_filename,omitempty"`
}

func (c *Client) ReadCommit(ctx context.Context, repo, id string) (*model.Commit, error) {
	owner, name, err := model.ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.client.NewRequest("GET", fmt.Sprintf("repos/%v/%v/commits/%v", owner, name, id), nil)
	if err != nil {
		return nil, err
	}
	rc := &repoCommit{}
	resp, err := c.client.Do(ctx, req, rc)
	if err := classify(err, resp, repo, id); err != nil {
		return nil, pkgerrors.Wrapf(err, "reading commit %s@%s", repo, id)
	}

	cmt := &model.Commit{
		Repo:      repo,
		ID:        rc.SHA,
		Message:   rc.Commit.GetMessage(),
		Author:    rc.Commit.GetAuthor().GetName(),
		Timestamp: rc.Commit.GetAuthor().GetDate().UTC(),
	}
	for _, f := range rc.Files {
		kind, ok := model.ParseChangeKind(f.GetStatus())
		if !ok {
			c.cfg.Debugf("%s@%s: skipping %s with status %q", repo, id, f.GetFilename(), f.GetStatus())
			continue
		}
		fc := model.FileChange{
			Path:         f.GetFilename(),
			Kind:         kind,
			LinesAdded:   f.GetAdditions(),
			LinesRemoved: f.GetDeletions(),
		}
		if kind == model.KindRenamed {
			fc.OldPath = f.PreviousFilename
		}
		hunks, _, err := patch.ParseFile(f.GetPatch())
		if err != nil {
			// kept without hunks; the filter counts it as no_hunks.
			c.cfg.Debugf("%s@%s: %s: %v", repo, id, fc.Path, err)
		}
		fc.Hunks = hunks
		cmt.Files = append(cmt.Files, fc)
	}
	return cmt, nil
}

// classify maps go-github errors onto vcs errors.
func classify(err error, resp *gh.Response, repo, ref string) error {
	if err == nil {
		return nil
	}

	var rlerr *gh.RateLimitError
	if errors.As(err, &rlerr) {
		return &vcs.TransientError{Err: err, RetryAfter: time.Until(rlerr.Rate.Reset.Time)}
	}
	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		terr := &vcs.TransientError{Err: err}
		if abuse.RetryAfter != nil {
			terr.RetryAfter = *abuse.RetryAfter
		}
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &vcs.TransientError{Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &vcs.TransientError{Err: err}
	}

	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	switch {
	case status == http.StatusNotFound:
		return vcs.NotFoundError{Repo: repo, Ref: ref}
	case status == http.StatusUnprocessableEntity && ref != "":
		return vcs.NotFoundError{Repo: repo, Ref: ref}
	case status >= 500, status == http.StatusTooManyRequests:
		return &vcs.TransientError{Err: err, RetryAfter: retryAfterHeader(resp.Response)}
	}
	return err
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}
