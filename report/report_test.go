package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestStage(t *testing.T) {
	s := New("filter")
	s.AddIn(10)
	s.AddOut(6)
	s.Drop("too_few_hunks", 3)
	s.Drop("excluded_path", 1)
	s.Add(BucketLabels, "import_change", 2)

	if s.Dropped() != 4 {
		t.Fatal("expected 4 dropped, got", s.Dropped())
	}
	if err := s.Balanced(); err != nil {
		t.Fatal(err)
	}
	if got := s.Get(BucketDropped, "too_few_hunks"); got != 3 {
		t.Fatal("expected 3, got", got)
	}
	if got := s.Get(BucketLabels, "nope"); got != 0 {
		t.Fatal("expected 0, got", got)
	}
	if r := s.RetentionRate(); r != 0.6 {
		t.Fatal("expected 0.6 retention, got", r)
	}

	s.AddOut(1)
	if err := s.Balanced(); err == nil {
		t.Fatal("expected unbalanced stage to fail")
	}
}

func TestStageConcurrent(t *testing.T) {
	s := New("extract")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddIn(1)
				s.Drop("out_of_bounds", 1)
			}
		}()
	}
	wg.Wait()
	if s.In() != 800 || s.Dropped() != 800 {
		t.Fatal("expected 800 in and dropped, got", s.In(), s.Dropped())
	}
}

func TestStageTextSummary(t *testing.T) {
	s := New("extract")
	s.AddIn(3)
	s.AddOut(1)
	s.Drop("out_of_bounds", 2)
	s.AddGap(Gap{Repo: "octo/cat", Page: 3, Err: "rate limited"})
	s.AddGap(Gap{Repo: "octo/cat", Commit: "abc", Err: "timeout"})
	s.Warn("label %q deviates", "other")

	b := &bytes.Buffer{}
	if err := s.TextSummary(b); err != nil {
		t.Fatal(err)
	}
	out := b.String()
	t.Logf("summary:\n%s", out)
	for _, expect := range []string{
		"Extract: 3 in, 1 out, 2 dropped",
		"Dropped:",
		"out_of_bounds",
		"octo/cat page 3: rate limited",
		"octo/cat@abc: timeout",
		`Warning: label "other" deviates`,
	} {
		if !strings.Contains(out, expect) {
			t.Fatalf("expected summary to contain %q", expect)
		}
	}
}

func TestStageJSON(t *testing.T) {
	s := New("classify")
	s.AddIn(2)
	s.AddOut(2)
	s.Add(BucketLabels, "getter_setter", 2)
	s.SetParam("taxonomy", "1.0.0")

	b := &bytes.Buffer{}
	if err := s.WriteJSON(b); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Stage   string                      `json:"stage"`
		In      int64                       `json:"in"`
		Reasons map[string]int64            `json:"drop_reasons"`
		Counts  map[string]map[string]int64 `json:"counts"`
		Params  map[string]interface{}      `json:"parameters"`
	}
	if err := json.Unmarshal(b.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Stage != "classify" || got.In != 2 {
		t.Fatal("unexpected stage json", b.String())
	}
	if got.Counts["labels"]["getter_setter"] != 2 {
		t.Fatal("expected label count 2, got", got.Counts)
	}
	if got.Params["taxonomy"] != "1.0.0" {
		t.Fatal("expected taxonomy param, got", got.Params)
	}
	if got.Reasons == nil {
		t.Fatal("expected drop reasons to be present even when empty")
	}
}
