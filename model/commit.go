package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgryski/go-spooky"
)

func (c *Commit) ShortID() string {
	if len(c.ID) < 8 {
		return c.ID
	}
	return c.ID[:8]
}

func (c *Commit) FileCount() int { return len(c.Files) }

// Records splits the commit into one Record per file change, in file
// order.
func (c *Commit) Records() []Record {
	recs := make([]Record, 0, len(c.Files))
	for _, fc := range c.Files {
		recs = append(recs, Record{
			Repo:        c.Repo,
			Commit:      c.ID,
			Message:     c.Message,
			Author:      c.Author,
			Timestamp:   c.Timestamp,
			CommitFiles: len(c.Files),
			Change:      fc,
		})
	}
	return recs
}

func (fc *FileChange) ChangedLines() int { return fc.LinesAdded + fc.LinesRemoved }

func (fc *FileChange) HunkCount() int { return len(fc.Hunks) }

// EditRegions counts the hunks left after merging those whose old line
// ranges are at most maxGap lines apart. A negative maxGap counts every
// hunk.
func (fc *FileChange) EditRegions(maxGap int) int {
	if maxGap < 0 || len(fc.Hunks) < 2 {
		return len(fc.Hunks)
	}
	hunks := make([]Hunk, len(fc.Hunks))
	copy(hunks, fc.Hunks)
	sort.SliceStable(hunks, func(i, j int) bool { return hunks[i].OldStart < hunks[j].OldStart })

	regions := 1
	end := hunks[0].OldStart + hunks[0].OldLines
	for _, h := range hunks[1:] {
		hend := h.OldStart + h.OldLines
		if h.OldStart-end > maxGap {
			regions++
			end = hend
			continue
		}
		if hend > end {
			end = hend
		}
	}
	return regions
}

// DiffText joins the raw patch text of every hunk.
func (fc *FileChange) DiffText() string {
	var sb strings.Builder
	for _, h := range fc.Hunks {
		sb.WriteString(h.Patch)
		if !strings.HasSuffix(h.Patch, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// ID returns the stable identifier of the record's file change.
func (r *Record) ID() string {
	return RecordID(r.Repo, r.Commit, r.Change.Path)
}

// PrimaryLabel is the first label, which is the most specific one because
// labels are stored in taxonomy order. It returns "" for unlabeled records.
func (r *Record) PrimaryLabel() string {
	if len(r.Labels) == 0 {
		return ""
	}
	return r.Labels[0]
}

func (r *Record) CorpusRecord() CorpusRecord {
	labels := make([]string, len(r.Labels))
	copy(labels, r.Labels)
	return CorpusRecord{
		ID:           r.ID(),
		Repo:         r.Repo,
		Commit:       r.Commit,
		Path:         r.Change.Path,
		OldPath:      r.Change.OldPath,
		Kind:         r.Change.Kind,
		Diff:         r.Change.DiffText(),
		Labels:       labels,
		PrimaryLabel: r.PrimaryLabel(),
		Taxonomy:     r.Taxonomy,
		Features: Features{
			ChangedLines: r.Change.ChangedLines(),
			Hunks:        r.Change.HunkCount(),
			LinesAdded:   r.Change.LinesAdded,
			LinesRemoved: r.Change.LinesRemoved,
		},
	}
}

// RecordID hashes repo, commit and path into 16 hex characters.
func RecordID(repo, commit, path string) string {
	return fmt.Sprintf("%016x", spooky.Hash64([]byte(repo+":"+commit+":"+path)))
}
