// Package report accounts for what each pipeline stage consumed, emitted
// and dropped, so data loss is always visible.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Well known buckets.
const (
	BucketDropped = "dropped"
	BucketLabels  = "labels"
)

// Gap is a part of the input a stage could not read.
type Gap struct {
	Repo   string `json:"repo"`
	Page   int    `json:"page,omitempty"`
	Commit string `json:"commit,omitempty"`
	Err    string `json:"error"`
}

// Stage counts records in, out, and dropped by reason for one stage. It is
// safe for concurrent use.
type Stage struct {
	Name string

	mu       sync.Mutex
	in       int64
	out      int64
	counts   map[string][]*statCount
	params   map[string]interface{}
	gaps     []Gap
	warnings []string
}

func New(name string) *Stage {
	return &Stage{
		Name:   name,
		counts: make(map[string][]*statCount),
		params: make(map[string]interface{}),
	}
}

func (s *Stage) AddIn(n int64) {
	s.mu.Lock()
	s.in += n
	s.mu.Unlock()
}

func (s *Stage) AddOut(n int64) {
	s.mu.Lock()
	s.out += n
	s.mu.Unlock()
}

func (s *Stage) In() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in
}

func (s *Stage) Out() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

func (s *Stage) Add(bucket, name string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(bucket, name, n)
}

func (s *Stage) add(bucket, name string, n int64) {
	counts := s.counts[bucket]
	count, found := findCount(name, counts)
	if !found {
		counts = append(counts, count)
	}
	count.n += n
	s.counts[bucket] = counts
}

// Drop records n records dropped for reason.
func (s *Stage) Drop(reason string, n int64) {
	s.Add(BucketDropped, reason, n)
}

func (s *Stage) Get(bucket, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := findCount(name, s.counts[bucket]); ok {
		return c.n
	}
	return 0
}

// Dropped is the total of every drop reason.
func (s *Stage) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped()
}

func (s *Stage) dropped() int64 {
	var n int64
	for _, c := range s.counts[BucketDropped] {
		n += c.n
	}
	return n
}

func (s *Stage) AddGap(g Gap) {
	s.mu.Lock()
	s.gaps = append(s.gaps, g)
	s.mu.Unlock()
}

func (s *Stage) Gaps() []Gap {
	s.mu.Lock()
	defer s.mu.Unlock()
	gaps := make([]Gap, len(s.gaps))
	copy(gaps, s.gaps)
	sortGaps(gaps)
	return gaps
}

func (s *Stage) Warn(format string, args ...interface{}) {
	s.mu.Lock()
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *Stage) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

// SetParam records a parameter the stage ran with.
func (s *Stage) SetParam(key string, val interface{}) {
	s.mu.Lock()
	s.params[key] = val
	s.mu.Unlock()
}

// Balanced fails unless in == out + dropped.
func (s *Stage) Balanced() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.dropped(); s.in != s.out+d {
		return fmt.Errorf("report: %s: %d in != %d out + %d dropped", s.Name, s.in, s.out, d)
	}
	return nil
}

func (s *Stage) RetentionRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retention()
}

func (s *Stage) retention() float64 {
	if s.in == 0 {
		return 0
	}
	return float64(s.out) / float64(s.in)
}

type stageJSON struct {
	Stage     string                      `json:"stage"`
	In        int64                       `json:"in"`
	Out       int64                       `json:"out"`
	Dropped   int64                       `json:"dropped"`
	Retention float64                     `json:"retention_rate"`
	Reasons   map[string]int64            `json:"drop_reasons"`
	Counts    map[string]map[string]int64 `json:"counts,omitempty"`
	Params    map[string]interface{}      `json:"parameters,omitempty"`
	Gaps      []Gap                       `json:"gaps,omitempty"`
	Warnings  []string                    `json:"warnings,omitempty"`
}

func (s *Stage) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj := stageJSON{
		Stage:     s.Name,
		In:        s.in,
		Out:       s.out,
		Dropped:   s.dropped(),
		Retention: s.retention(),
		Reasons:   make(map[string]int64),
		Params:    s.params,
		Warnings:  s.warnings,
	}
	for bucket, counts := range s.counts {
		m := make(map[string]int64, len(counts))
		for _, c := range counts {
			m[c.label] = c.n
		}
		if bucket == BucketDropped {
			sj.Reasons = m
			continue
		}
		if sj.Counts == nil {
			sj.Counts = make(map[string]map[string]int64)
		}
		sj.Counts[bucket] = m
	}
	sj.Gaps = make([]Gap, len(s.gaps))
	copy(sj.Gaps, s.gaps)
	sortGaps(sj.Gaps)
	return json.Marshal(sj)
}

func (s *Stage) WriteJSON(w io.Writer) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

func (s *Stage) TextSummary(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriter(w)
	bw.WriteString(fmt.Sprintf("%s: %d in, %d out, %d dropped (%.1f%% retained)\n",
		toTitle(s.Name), s.in, s.out, s.dropped(), 100*s.retention()))

	for _, name := range s.sortedBuckets() {
		counts := append([]*statCount(nil), s.counts[name]...)
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].n != counts[j].n {
				return counts[i].n > counts[j].n
			}
			return counts[i].label < counts[j].label
		})
		bw.WriteString(fmt.Sprintf("%s:\n", toTitle(name)))
		for _, count := range counts {
			label := count.label
			if label == "" {
				label = "n/a"
			}
			bw.WriteString(fmt.Sprintf("  %-24s %d\n", label, count.n))
		}
	}

	if len(s.gaps) > 0 {
		gaps := append([]Gap(nil), s.gaps...)
		sortGaps(gaps)
		bw.WriteString(fmt.Sprintf("Gaps (%d):\n", len(gaps)))
		for _, g := range gaps {
			switch {
			case g.Commit != "":
				bw.WriteString(fmt.Sprintf("  %s@%s: %s\n", g.Repo, g.Commit, g.Err))
			case g.Page > 0:
				bw.WriteString(fmt.Sprintf("  %s page %d: %s\n", g.Repo, g.Page, g.Err))
			default:
				bw.WriteString(fmt.Sprintf("  %s: %s\n", g.Repo, g.Err))
			}
		}
	}
	for _, warning := range s.warnings {
		bw.WriteString(fmt.Sprintf("Warning: %s\n", warning))
	}
	return bw.Flush()
}

func (s *Stage) sortedBuckets() []string {
	buckets := make([]string, 0, len(s.counts))
	for name := range s.counts {
		buckets = append(buckets, name)
	}
	sort.Strings(buckets)
	return buckets
}

type statCount struct {
	label string
	n     int64
}

func findCount(name string, counts []*statCount) (*statCount, bool) {
	for _, c := range counts {
		if c.label == name {
			return c, true
		}
	}
	return &statCount{label: name}, false
}

func sortGaps(gaps []Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.Commit < b.Commit
	})
}

var nonAlphaRE = regexp.MustCompile(`[^A-Za-z]`)

func toTitle(s string) string {
	s = nonAlphaRE.ReplaceAllLiteralString(s, " ")
	return cases.Title(language.English).String(s)
}
