// Package model contains the records passed between pipeline stages.
//
// Every record keeps the repository and commit hash it came from, so any
// label or split assignment can be traced back to the originating commit.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ChangeKind is what happened to a file in a commit.
type ChangeKind string

const (
	KindAdded    ChangeKind = "added"
	KindModified ChangeKind = "modified"
	KindRemoved  ChangeKind = "removed"
	KindRenamed  ChangeKind = "renamed"
)

// ParseChangeKind maps host and git status names onto a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added", "a", "copied", "c":
		return KindAdded, true
	case "modified", "m", "changed", "t":
		return KindModified, true
	case "removed", "deleted", "d":
		return KindRemoved, true
	case "renamed", "r":
		return KindRenamed, true
	}
	return "", false
}

// Hunk is a contiguous block of changed lines. Patch holds the "@@" header
// followed by the body lines.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Patch    string `json:"patch"`
}

type FileChange struct {
	Path         string     `json:"path"`
	Kind         ChangeKind `json:"kind"`
	OldPath      string     `json:"old_path,omitempty"`
	LinesAdded   int        `json:"lines_added"`
	LinesRemoved int        `json:"lines_removed"`
	Hunks        []Hunk     `json:"hunks"`
}

type Commit struct {
	Repo      string       `json:"repo"`
	ID        string       `json:"commit"`
	Message   string       `json:"message"`
	Author    string       `json:"author"`
	Timestamp time.Time    `json:"timestamp"`
	Files     []FileChange `json:"files"`
}

// Record is one FileChange together with the identity of the commit that
// owns it. The filter emits records without labels; the classifier fills
// Labels and Taxonomy.
type Record struct {
	Repo        string     `json:"repo"`
	Commit      string     `json:"commit"`
	Message     string     `json:"message"`
	Author      string     `json:"author"`
	Timestamp   time.Time  `json:"timestamp"`
	CommitFiles int        `json:"commit_files"`
	Change      FileChange `json:"change"`
	Labels      []string   `json:"labels,omitempty"`
	Taxonomy    string     `json:"taxonomy,omitempty"`
}

type Features struct {
	ChangedLines int `json:"changed_lines"`
	Hunks        int `json:"hunks"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// CorpusRecord is a single line of the final train, validation or test
// file.
type CorpusRecord struct {
	ID           string     `json:"id"`
	Repo         string     `json:"repo"`
	Commit       string     `json:"commit"`
	Path         string     `json:"path"`
	OldPath      string     `json:"old_path,omitempty"`
	Kind         ChangeKind `json:"kind"`
	Diff         string     `json:"diff"`
	Labels       []string   `json:"labels"`
	PrimaryLabel string     `json:"primary_label"`
	Taxonomy     string     `json:"taxonomy,omitempty"`
	Features     Features   `json:"features"`
}

type Split string

const (
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitTest       Split = "test"
)

// Splits lists every split in output order.
var Splits = []Split{SplitTrain, SplitValidation, SplitTest}

var repoRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ParseRepo splits an "owner/name" identifier.
func ParseRepo(repo string) (owner, name string, err error) {
	if !repoRE.MatchString(repo) {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	parts := strings.SplitN(repo, "/", 2)
	if parts[0] == "." || parts[0] == ".." || parts[1] == "." || parts[1] == ".." {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}
