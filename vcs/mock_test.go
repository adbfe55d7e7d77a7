package vcs

import (
	"context"
	"errors"
	"testing"

	"github.com/jeffrom/editcorpus/model"
)

func TestMockPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMock().SetCommits("octo/cat",
		&model.Commit{ID: "c3"}, &model.Commit{ID: "c2"}, &model.Commit{ID: "c1"},
	)

	tcs := []struct {
		page       int
		expectIDs  []string
		expectNext int
	}{
		{page: 1, expectIDs: []string{"c3", "c2"}, expectNext: 2},
		{page: 2, expectIDs: []string{"c1"}, expectNext: 0},
		{page: 3, expectIDs: nil, expectNext: 0},
	}
	for _, tc := range tcs {
		res, err := m.ListCommits(ctx, "octo/cat", ListOpts{Page: tc.page, PerPage: 2})
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, ref := range res.Refs {
			ids = append(ids, ref.ID)
		}
		if len(ids) != len(tc.expectIDs) {
			t.Fatal("expected", tc.expectIDs, "got", ids)
		}
		for i := range ids {
			if ids[i] != tc.expectIDs[i] {
				t.Fatal("expected", tc.expectIDs, "got", ids)
			}
		}
		if res.NextPage != tc.expectNext {
			t.Fatal("expected next page", tc.expectNext, "got", res.NextPage)
		}
	}
}

func TestMockTimestamps(t *testing.T) {
	m := NewMock().SetCommits("octo/cat", &model.Commit{ID: "new"}, &model.Commit{ID: "old"})
	ctx := context.Background()
	newer, err := m.ReadCommit(ctx, "octo/cat", "new")
	if err != nil {
		t.Fatal(err)
	}
	older, err := m.ReadCommit(ctx, "octo/cat", "old")
	if err != nil {
		t.Fatal(err)
	}
	if !older.Timestamp.Before(newer.Timestamp) {
		t.Fatal("expected listed order to be newest first, got", newer.Timestamp, older.Timestamp)
	}
	if newer.Repo != "octo/cat" {
		t.Fatal("expected repo to be set, got", newer.Repo)
	}
}

func TestMockFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	m := NewMock().SetCommits("octo/cat", &model.Commit{ID: "c1"})
	m.FailPage("octo/cat", 1, boom, nil)
	m.FailRead("octo/cat", "c1", &TransientError{Err: boom})

	if _, err := m.ListCommits(ctx, "octo/cat", ListOpts{Page: 1}); !errors.Is(err, boom) {
		t.Fatal("expected boom, got", err)
	}
	if _, err := m.ListCommits(ctx, "octo/cat", ListOpts{Page: 1}); err != nil {
		t.Fatal("expected nil entry to succeed, got", err)
	}
	if _, err := m.ReadCommit(ctx, "octo/cat", "c1"); !IsTransient(err) {
		t.Fatal("expected transient error, got", err)
	}
	if _, err := m.ReadCommit(ctx, "octo/cat", "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadCommit(ctx, "octo/cat", "nope"); !IsNotFound(err) {
		t.Fatal("expected not found, got", err)
	}
	if err := m.ResolveRepo(ctx, "octo/dog"); !IsNotFound(err) {
		t.Fatal("expected not found, got", err)
	}
	if m.Reads() != 3 || m.Lists() != 2 {
		t.Fatal("expected 3 reads and 2 lists, got", m.Reads(), m.Lists())
	}
}
