package split

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/jeffrom/editcorpus/model"
)

// InvariantError means the splits are not a partition of the input. It is
// never expected and always fatal.
type InvariantError struct {
	Failures []string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("split: %d invariant(s) violated", len(e.Failures))
}

func (e InvariantError) Is(other error) bool {
	_, ok := other.(InvariantError)
	return ok
}

func (e InvariantError) WriteFailure(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, f := range e.Failures {
		bw.WriteString("  ")
		bw.WriteString(f)
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// checkPartition verifies the splits are pairwise disjoint and their union
// is exactly ids.
func checkPartition(ids []string, splits map[model.Split][]model.CorpusRecord) error {
	var failures []string
	owner := make(map[string]model.Split, len(ids))
	for _, s := range model.Splits {
		for _, rec := range splits[s] {
			if prev, ok := owner[rec.ID]; ok {
				failures = append(failures, fmt.Sprintf("record %s is in both %s and %s", rec.ID, prev, s))
				continue
			}
			owner[rec.ID] = s
		}
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
		if _, ok := owner[id]; !ok {
			failures = append(failures, fmt.Sprintf("record %s is in no split", id))
		}
	}
	var extra []string
	for id := range owner {
		if !want[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		failures = append(failures, fmt.Sprintf("record %s in %s was not in the input", id, owner[id]))
	}

	if len(failures) > 0 {
		return InvariantError{Failures: failures}
	}
	return nil
}
