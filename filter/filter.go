// Package filter keeps the file changes small enough to learn a single edit
// pattern from.
package filter

import (
	"regexp"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/report"
)

// Drop reasons, in the order they are checked.
const (
	DropMissingField   = "missing_field"
	DropExcludedPath   = "excluded_path"
	DropTooManyFiles   = "too_many_files_in_commit"
	DropNoHunks        = "no_hunks"
	DropTooFewHunks    = "too_few_hunks"
	DropTooManyChanged = "too_many_lines_changed"
)

// CountEmptyCommits names the count of commits none of whose changes
// survived.
const CountEmptyCommits = "empty_commits"

// Filter turns commits into per-file records, keeping only changes within
// every configured bound.
func Filter(cfg config.Config, commits []model.Commit) ([]model.Record, *report.Stage) {
	rep := report.New("filter")
	rep.SetParam("max_changed_lines", cfg.MaxChangedLines)
	rep.SetParam("max_commit_files", cfg.MaxCommitFiles)
	rep.SetParam("min_hunks", cfg.MinHunks)
	rep.SetParam("max_hunk_gap", cfg.MaxHunkGap)
	rep.SetParam("exclude_paths", cfg.ExcludePaths)

	exclude := make([]*regexp.Regexp, 0, len(cfg.ExcludePaths))
	for _, p := range cfg.ExcludePaths {
		re, err := regexp.Compile(p)
		if err != nil {
			cfg.Errorf("filter: ignoring exclude path %q: %v", p, err)
			continue
		}
		exclude = append(exclude, re)
	}

	var out []model.Record
	for i := range commits {
		kept := 0
		for _, rec := range commits[i].Records() {
			rep.AddIn(1)
			if reason := check(cfg, exclude, &rec); reason != "" {
				rep.Drop(reason, 1)
				continue
			}
			out = append(out, rec)
			rep.AddOut(1)
			kept++
		}
		if kept == 0 {
			rep.Add("counts", CountEmptyCommits, 1)
		}
	}

	cfg.Debugf("filter: kept %d of %d file changes from %d commits", rep.Out(), rep.In(), len(commits))
	return out, rep
}

// check returns the first reason rec is dropped, or "".
func check(cfg config.Config, exclude []*regexp.Regexp, rec *model.Record) string {
	fc := &rec.Change
	switch {
	case rec.Repo == "" || rec.Commit == "" || fc.Path == "":
		return DropMissingField
	case excluded(exclude, fc.Path):
		return DropExcludedPath
	case rec.CommitFiles > cfg.MaxCommitFiles:
		return DropTooManyFiles
	case fc.HunkCount() == 0:
		return DropNoHunks
	case fc.EditRegions(cfg.MaxHunkGap) < cfg.MinHunks:
		return DropTooFewHunks
	case fc.ChangedLines() > cfg.MaxChangedLines:
		return DropTooManyChanged
	}
	return ""
}

func excluded(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
