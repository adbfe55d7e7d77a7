// Package vcs abstracts the source hosts commits are read from.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeffrom/editcorpus/model"
)

type NotFoundError struct {
	Repo string
	Ref  string
}

func (e NotFoundError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("vcs: repository %q not found", e.Repo)
	}
	return fmt.Sprintf("vcs: ref %q not found in %s", e.Ref, e.Repo)
}

// TransientError is a failure worth retrying: rate limiting, timeouts and
// server errors. RetryAfter is the host's hint, zero if it gave none.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vcs: transient: %v (retry after %s)", e.Err, e.RetryAfter)
	}
	return fmt.Sprintf("vcs: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var terr *TransientError
	return errors.As(err, &terr)
}

// RetryAfter returns the retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var terr *TransientError
	if errors.As(err, &terr) {
		return terr.RetryAfter
	}
	return 0
}

func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// Interface is a read-only view of a host. Repositories are "owner/name".
type Interface interface {
	// ResolveRepo fails with NotFoundError when the repository does not
	// exist.
	ResolveRepo(ctx context.Context, repo string) error
	ListCommits(ctx context.Context, repo string, opts ListOpts) (*CommitPage, error)
	ReadCommit(ctx context.Context, repo, id string) (*model.Commit, error)
}

// ListOpts selects a page of history, newest first. Pages start at 1.
type ListOpts struct {
	Page    int
	PerPage int
}

// CommitRef is a listed commit. FileCount is zero when the host does not
// report it in listings.
type CommitRef struct {
	ID        string
	FileCount int
}

// CommitPage is one page of a listing. NextPage is zero on the last page.
type CommitPage struct {
	Refs     []CommitRef
	NextPage int
}
