package vcs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jeffrom/editcorpus/model"
)

// Mock is an in-memory host. Failures can be scheduled per page or per
// commit to exercise retry handling.
type Mock struct {
	mu         sync.Mutex
	t          time.Time
	repos      map[string][]*model.Commit
	fileCounts bool
	pageFails  map[string][]error
	readFails  map[string][]error
	reads      int
	lists      int
}

func NewMock() *Mock {
	return &Mock{
		t:         time.Date(2020, 8, 17, 16, 26, 10, 0, time.UTC),
		repos:     make(map[string][]*model.Commit),
		pageFails: make(map[string][]error),
		readFails: make(map[string][]error),
	}
}

// SetCommits sets a repository's history, newest first. Commits without a
// timestamp get one a minute older than the previous.
func (m *Mock) SetCommits(repo string, commits ...*model.Commit) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	finalCommits := make([]*model.Commit, len(commits))
	for i, commit := range commits {
		c := *commit
		c.Repo = repo
		if c.Timestamp.IsZero() {
			c.Timestamp = m.t
			m.t = m.t.Add(-time.Minute)
		}
		finalCommits[i] = &c
	}
	m.repos[repo] = finalCommits
	return m
}

// ReportFileCounts makes listings include file counts, like a local clone.
func (m *Mock) ReportFileCounts(v bool) *Mock {
	m.fileCounts = v
	return m
}

// FailPage makes the next len(errs) listings of page fail with errs in
// order. A nil entry succeeds.
func (m *Mock) FailPage(repo string, page int, errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageFails[pageKey(repo, page)] = errs
	return m
}

func (m *Mock) FailRead(repo, id string, errs ...error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFails[repo+"@"+id] = errs
	return m
}

// Reads is the number of ReadCommit calls made.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *Mock) Lists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

func (m *Mock) ResolveRepo(ctx context.Context, repo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[repo]; !ok {
		return NotFoundError{Repo: repo}
	}
	return nil
}

func (m *Mock) ListCommits(ctx context.Context, repo string, opts ListOpts) (*CommitPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	commits, ok := m.repos[repo]
	if !ok {
		return nil, NotFoundError{Repo: repo}
	}
	if err := popErr(m.pageFails, pageKey(repo, opts.Page)); err != nil {
		return nil, err
	}

	page, perPage := opts.Page, opts.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 30
	}
	start := (page - 1) * perPage
	if start > len(commits) {
		start = len(commits)
	}
	end := start + perPage
	if end > len(commits) {
		end = len(commits)
	}

	res := &CommitPage{}
	for _, c := range commits[start:end] {
		ref := CommitRef{ID: c.ID}
		if m.fileCounts {
			ref.FileCount = len(c.Files)
		}
		res.Refs = append(res.Refs, ref)
	}
	if end < len(commits) {
		res.NextPage = page + 1
	}
	return res, nil
}

func (m *Mock) ReadCommit(ctx context.Context, repo, id string) (*model.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := popErr(m.readFails, repo+"@"+id); err != nil {
		return nil, err
	}
	for _, c := range m.repos[repo] {
		if c.ID == id {
			cp := *c
			cp.Files = append([]model.FileChange(nil), c.Files...)
			return &cp, nil
		}
	}
	return nil, NotFoundError{Repo: repo, Ref: id}
}

func popErr(fails map[string][]error, key string) error {
	errs := fails[key]
	if len(errs) == 0 {
		return nil
	}
	fails[key] = errs[1:]
	return errs[0]
}

func pageKey(repo string, page int) string {
	return repo + "#" + strconv.Itoa(page)
}
