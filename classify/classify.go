// Package classify labels file changes with edit patterns using the
// configured detector table.
package classify

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/patch"
	"github.com/jeffrom/editcorpus/report"
)

// Drop reasons and counts.
const (
	DropNoHunks      = "no_hunks"
	DropMissingField = "missing_field"

	CountUnparseableHunks = "unparseable_hunks"
	BucketPrimary         = "primary_labels"
)

type Result struct {
	// Labels holds every matching label in taxonomy order, or the fallback
	// label when nothing matched.
	Labels []string
	// UnparseableHunks is the number of hunks whose text could not be read.
	// Content conditions never match when it is non-zero.
	UnparseableHunks int
}

// Classifier holds the compiled detector table. It is read-only after New
// and safe for concurrent use.
type Classifier struct {
	cfg       config.Config
	detectors []detector
}

type detector struct {
	label string
	rules []rule
}

type rule struct {
	kinds           map[model.ChangeKind]bool
	message         *regexp.Regexp
	paths           []*regexp.Regexp
	minCommitFiles  int
	maxChangedLines int
	lines           []lineRule
	shapes          []shapeFunc
}

type lineRule struct {
	side     string
	all      bool
	patterns []*regexp.Regexp
}

// New compiles the configured detectors.
func New(cfg config.Config) (*Classifier, error) {
	c := &Classifier{cfg: cfg}
	for i := range cfg.Detectors {
		d := &cfg.Detectors[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		cd := detector{label: d.Label}
		for _, r := range d.Rules {
			cr, err := compileRule(r)
			if err != nil {
				return nil, err
			}
			cd.rules = append(cd.rules, cr)
		}
		c.detectors = append(c.detectors, cd)
	}
	return c, nil
}

func compileRule(r config.Rule) (rule, error) {
	cr := rule{
		minCommitFiles:  r.MinCommitFiles,
		maxChangedLines: r.MaxChangedLines,
	}
	if len(r.ChangeKinds) > 0 {
		cr.kinds = make(map[model.ChangeKind]bool)
		for _, k := range r.ChangeKinds {
			kind, _ := model.ParseChangeKind(k)
			cr.kinds[kind] = true
		}
	}
	if len(r.MessageKeywords) > 0 {
		words := make([]string, len(r.MessageKeywords))
		for i, kw := range r.MessageKeywords {
			words[i] = regexp.QuoteMeta(strings.TrimSpace(kw))
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
		if err != nil {
			return cr, err
		}
		cr.message = re
	}
	paths, err := compileAll(r.PathPatterns)
	if err != nil {
		return cr, err
	}
	cr.paths = paths
	for _, lr := range r.Lines {
		patterns, err := compileAll(lr.Patterns)
		if err != nil {
			return cr, err
		}
		cr.lines = append(cr.lines, lineRule{side: lr.Side, all: lr.Mode == config.ModeAll, patterns: patterns})
	}
	for _, name := range r.Shapes {
		cr.shapes = append(cr.shapes, shapes[name])
	}
	return cr, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	var res []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return res, nil
}

// Labels lists the labels the classifier can emit, in taxonomy order,
// followed by the fallback label if there is one.
func (c *Classifier) Labels() []string {
	var labels []string
	for _, d := range c.detectors {
		labels = append(labels, d.label)
	}
	if c.cfg.FallbackLabel != "" {
		labels = append(labels, c.cfg.FallbackLabel)
	}
	return labels
}

// Classify evaluates every detector against rec. It only reads rec.
func (c *Classifier) Classify(rec model.Record) Result {
	cont := readContent(&rec.Change)
	res := Result{UnparseableHunks: cont.unparseable}
	for _, d := range c.detectors {
		for i := range d.rules {
			if d.rules[i].match(&rec, cont) {
				res.Labels = append(res.Labels, d.label)
				break
			}
		}
	}
	if len(res.Labels) == 0 && c.cfg.FallbackLabel != "" {
		res.Labels = []string{c.cfg.FallbackLabel}
	}
	return res
}

func (r *rule) match(rec *model.Record, cont *content) bool {
	fc := &rec.Change
	if r.kinds != nil && !r.kinds[fc.Kind] {
		return false
	}
	if r.minCommitFiles > 0 && rec.CommitFiles < r.minCommitFiles {
		return false
	}
	if r.maxChangedLines > 0 && fc.ChangedLines() > r.maxChangedLines {
		return false
	}
	if len(r.paths) > 0 && !anyMatch(r.paths, fc.Path) {
		return false
	}
	if r.message != nil && !r.message.MatchString(rec.Message) {
		return false
	}
	if len(r.lines) == 0 && len(r.shapes) == 0 {
		return true
	}

	if !cont.ok() {
		return false
	}
	for _, lr := range r.lines {
		if !lr.match(cont) {
			return false
		}
	}
	for _, shape := range r.shapes {
		if !shape(cont) {
			return false
		}
	}
	return true
}

func (lr lineRule) match(cont *content) bool {
	var lines []string
	switch lr.side {
	case config.SideAdded:
		lines = cont.added
	case config.SideRemoved:
		lines = cont.removed
	default:
		lines = append(append(lines, cont.removed...), cont.added...)
	}

	if !lr.all {
		for _, l := range lines {
			if anyMatch(lr.patterns, l) {
				return true
			}
		}
		return false
	}

	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if !anyMatch(lr.patterns, l) {
			return false
		}
		n++
	}
	return n > 0
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// content is the changed text of a file, per hunk and overall.
type content struct {
	hunks       []hunkLines
	added       []string
	removed     []string
	unparseable int
}

type hunkLines struct {
	added   []string
	removed []string
}

func (c *content) ok() bool { return c.unparseable == 0 }

func readContent(fc *model.FileChange) *content {
	c := &content{}
	for _, h := range fc.Hunks {
		lines, err := patch.Lines(h)
		if err != nil {
			c.unparseable++
			continue
		}
		hl := hunkLines{
			added:   patch.Texts(lines, patch.OpAdd),
			removed: patch.Texts(lines, patch.OpDel),
		}
		c.hunks = append(c.hunks, hl)
		c.added = append(c.added, hl.added...)
		c.removed = append(c.removed, hl.removed...)
	}
	return c
}

// ClassifyAll labels records concurrently, keeping their order. Records
// without hunks or identity are dropped. It fails only when ctx is done.
func (c *Classifier) ClassifyAll(ctx context.Context, records []model.Record) ([]model.Record, *report.Stage, error) {
	rep := report.New("classify")
	rep.SetParam("taxonomy_version", c.cfg.TaxonomyVersion)
	rep.SetParam("labels", c.Labels())
	rep.AddIn(int64(len(records)))

	valid := make([]int, 0, len(records))
	for i := range records {
		rec := &records[i]
		switch {
		case rec.Repo == "" || rec.Commit == "" || rec.Change.Path == "":
			rep.Drop(DropMissingField, 1)
		case len(rec.Change.Hunks) == 0:
			rep.Drop(DropNoHunks, 1)
		default:
			valid = append(valid, i)
		}
	}

	out := make([]model.Record, len(valid))
	var unparseable int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())
	for n, i := range valid {
		n, i := n, i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec := records[i]
			res := c.Classify(rec)
			rec.Labels = res.Labels
			rec.Taxonomy = c.cfg.TaxonomyVersion
			out[n] = rec
			atomic.AddInt64(&unparseable, int64(res.UnparseableHunks))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rep, err
	}

	for i := range out {
		for _, label := range out[i].Labels {
			rep.Add(report.BucketLabels, label, 1)
		}
		if primary := out[i].PrimaryLabel(); primary != "" {
			rep.Add(BucketPrimary, primary, 1)
		}
	}
	if unparseable > 0 {
		rep.Add("counts", CountUnparseableHunks, unparseable)
		c.cfg.Debugf("classify: %d unparseable hunk(s)", unparseable)
	}
	rep.AddOut(int64(len(out)))
	return out, rep, nil
}

func (c *Classifier) concurrency() int {
	if c.cfg.Concurrency < 1 {
		return 1
	}
	return c.cfg.Concurrency
}
