// Package split partitions labeled records into train, validation and test
// sets, stratified by primary label.
package split

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dgryski/go-spooky"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/report"
)

const DropDuplicate = "duplicate_id"

// BucketSplits counts records per split in the stage report.
const BucketSplits = "splits"

type Result struct {
	Train      []model.CorpusRecord
	Validation []model.CorpusRecord
	Test       []model.CorpusRecord
	Report     *report.Stage
	Stats      *Stats
}

// Split returns the records assigned to s.
func (r *Result) Split(s model.Split) []model.CorpusRecord {
	switch s {
	case model.SplitTrain:
		return r.Train
	case model.SplitValidation:
		return r.Validation
	case model.SplitTest:
		return r.Test
	}
	return nil
}

// Build assigns every distinct record to exactly one split. The same
// records, proportions and seed always give the same splits in the same
// order, regardless of input order.
func Build(cfg config.Config, records []model.Record) (*Result, error) {
	rep := report.New("split")
	rep.SetParam("proportions", cfg.Proportions)
	rep.SetParam("seed", cfg.Seed)
	rep.SetParam("tolerance", cfg.Tolerance)
	rep.AddIn(int64(len(records)))

	recs := make([]model.CorpusRecord, len(records))
	for i := range records {
		recs[i] = records[i].CorpusRecord()
	}
	// records sharing an ID are ordered by content, so which one survives
	// does not depend on input order.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ID != recs[j].ID {
			return recs[i].ID < recs[j].ID
		}
		return canonical(recs[i]) < canonical(recs[j])
	})

	var ids []string
	deduped := recs[:0]
	for _, rec := range recs {
		if len(ids) > 0 && ids[len(ids)-1] == rec.ID {
			rep.Drop(DropDuplicate, 1)
			continue
		}
		ids = append(ids, rec.ID)
		deduped = append(deduped, rec)
	}
	recs = deduped

	groups := make(map[string][]model.CorpusRecord)
	var labels []string
	for _, rec := range recs {
		if _, ok := groups[rec.PrimaryLabel]; !ok {
			labels = append(labels, rec.PrimaryLabel)
		}
		groups[rec.PrimaryLabel] = append(groups[rec.PrimaryLabel], rec)
	}
	sort.Strings(labels)

	splits := make(map[model.Split][]model.CorpusRecord, len(model.Splits))
	for _, label := range labels {
		group := groups[label]
		rng := rand.New(rand.NewSource(seedFor(label, cfg.Seed)))
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })

		nv, nt := sizes(len(group), cfg.Proportions)
		splits[model.SplitValidation] = append(splits[model.SplitValidation], group[:nv]...)
		splits[model.SplitTest] = append(splits[model.SplitTest], group[nv:nv+nt]...)
		splits[model.SplitTrain] = append(splits[model.SplitTrain], group[nv+nt:]...)
	}

	for _, s := range model.Splits {
		part := splits[s]
		rng := rand.New(rand.NewSource(seedFor(string(s), cfg.Seed)))
		rng.Shuffle(len(part), func(i, j int) { part[i], part[j] = part[j], part[i] })
		rep.Add(BucketSplits, string(s), int64(len(part)))
		rep.AddOut(int64(len(part)))
	}

	if err := checkPartition(ids, splits); err != nil {
		return nil, err
	}

	stats := newStats(cfg, recs, splits)
	for _, w := range stats.Warnings {
		rep.Warn("%s", w)
	}
	for _, ls := range stats.Labels {
		rep.Add(report.BucketLabels, displayLabel(ls.Label), int64(ls.Total))
	}

	return &Result{
		Train:      splits[model.SplitTrain],
		Validation: splits[model.SplitValidation],
		Test:       splits[model.SplitTest],
		Report:     rep,
		Stats:      stats,
	}, nil
}

// sizes returns the validation and test counts for a group of n records.
// Each split gets the floor of its share and the records left over go to
// the splits with the largest remainders, so every count is within one
// record of its target. Groups too small to put a record in every split go
// to train, and train always keeps at least one record.
func sizes(n int, p config.Proportions) (nv, nt int) {
	if n < len(model.Splits) {
		return 0, 0
	}
	shares := []float64{p.Train, p.Validation, p.Test}
	counts := make([]int, len(shares))
	rems := make([]float64, len(shares))
	left := n
	for i, share := range shares {
		exact := float64(n) * share
		counts[i] = int(math.Floor(exact))
		rems[i] = exact - float64(counts[i])
		left -= counts[i]
	}

	order := []int{0, 1, 2}
	sort.SliceStable(order, func(a, b int) bool { return rems[order[a]] > rems[order[b]] })
	for i := 0; left > 0; i++ {
		counts[order[i%len(order)]]++
		left--
	}
	for ; left < 0; left++ {
		counts[largest(counts)]--
	}

	if counts[0] == 0 {
		if counts[1] >= counts[2] {
			counts[1]--
		} else {
			counts[2]--
		}
		counts[0]++
	}
	return counts[1], counts[2]
}

func largest(counts []int) int {
	idx := 0
	for i, c := range counts {
		if c > counts[idx] {
			idx = i
		}
	}
	return idx
}

func canonical(rec model.CorpusRecord) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return string(b)
}

func seedFor(key string, seed int64) int64 {
	return int64(spooky.Hash64Seed([]byte(key), uint64(seed)))
}

func displayLabel(label string) string {
	if label == "" {
		return "(unlabeled)"
	}
	return label
}

// Stats describes the label distribution of each split.
type Stats struct {
	Taxonomy    string             `json:"taxonomy_version,omitempty"`
	Seed        int64              `json:"seed"`
	Proportions config.Proportions `json:"proportions"`
	Tolerance   float64            `json:"tolerance"`
	Total       int                `json:"total"`
	Splits      []SplitStats       `json:"splits"`
	Labels      []LabelStats       `json:"labels"`
	Warnings    []string           `json:"warnings,omitempty"`
}

type SplitStats struct {
	Split    model.Split    `json:"split"`
	Total    int            `json:"total"`
	Fraction float64        `json:"fraction"`
	Labels   map[string]int `json:"labels"`
}

// LabelStats is the distribution over the splits of the records carrying
// one label, primary or not.
// Checked is false for labels below the stratification minimum.
type LabelStats struct {
	Label     string                  `json:"label"`
	Total     int                     `json:"total"`
	Counts    map[model.Split]int     `json:"counts"`
	Fractions map[model.Split]float64 `json:"fractions"`
	Checked   bool                    `json:"checked"`
	Deviation map[model.Split]float64 `json:"deviation,omitempty"`
}

func newStats(cfg config.Config, recs []model.CorpusRecord, splits map[model.Split][]model.CorpusRecord) *Stats {
	st := &Stats{
		Taxonomy:    cfg.TaxonomyVersion,
		Seed:        cfg.Seed,
		Proportions: cfg.Proportions,
		Tolerance:   cfg.Tolerance,
		Total:       len(recs),
	}
	for _, rec := range recs {
		if rec.Taxonomy != "" {
			st.Taxonomy = rec.Taxonomy
			break
		}
	}

	byLabel := make(map[string]*LabelStats)
	var labels []string
	for _, s := range model.Splits {
		ss := SplitStats{Split: s, Total: len(splits[s]), Labels: make(map[string]int)}
		if st.Total > 0 {
			ss.Fraction = float64(ss.Total) / float64(st.Total)
		}
		for _, rec := range splits[s] {
			for _, label := range recordLabels(rec) {
				ss.Labels[displayLabel(label)]++
				ls, ok := byLabel[label]
				if !ok {
					ls = &LabelStats{
						Label:     label,
						Counts:    make(map[model.Split]int),
						Fractions: make(map[model.Split]float64),
					}
					byLabel[label] = ls
					labels = append(labels, label)
				}
				ls.Total++
				ls.Counts[s]++
			}
		}
		st.Splits = append(st.Splits, ss)
	}

	sort.Strings(labels)
	for _, label := range labels {
		ls := byLabel[label]
		ls.Checked = ls.Total >= cfg.MinStratify
		for _, s := range model.Splits {
			frac := float64(ls.Counts[s]) / float64(ls.Total)
			ls.Fractions[s] = frac
			if !ls.Checked {
				continue
			}
			if dev := math.Abs(frac - target(cfg.Proportions, s)); dev > cfg.Tolerance {
				if ls.Deviation == nil {
					ls.Deviation = make(map[model.Split]float64)
				}
				ls.Deviation[s] = dev
				st.Warnings = append(st.Warnings, fmt.Sprintf("label %s: %s fraction %.3f is %.3f off target %.3f",
					displayLabel(label), s, frac, dev, target(cfg.Proportions, s)))
			}
		}
		st.Labels = append(st.Labels, *ls)
	}
	return st
}

// recordLabels is every label rec carries, or the unlabeled group.
func recordLabels(rec model.CorpusRecord) []string {
	if len(rec.Labels) == 0 {
		return []string{""}
	}
	return rec.Labels
}

func target(p config.Proportions, s model.Split) float64 {
	switch s {
	case model.SplitTrain:
		return p.Train
	case model.SplitValidation:
		return p.Validation
	case model.SplitTest:
		return p.Test
	}
	return 0
}
