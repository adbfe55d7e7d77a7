package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/dataset"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/vcs"
)

func hunk(lines ...string) model.Hunk {
	return model.Hunk{
		OldStart: 1, NewStart: 1, NewLines: len(lines),
		Patch: "@@ -1,0 +1," + string(rune('0'+len(lines))) + " @@\n" + strings.Join(lines, "\n") + "\n",
	}
}

func accessorFile(path string, fields ...string) model.FileChange {
	fc := model.FileChange{Path: path, Kind: model.KindModified}
	for i, f := range fields {
		name := strings.ToUpper(f[:1]) + f[1:]
		h := hunk(
			"+  public String get"+name+"() {",
			"+    return this."+f+";",
			"+  }",
		)
		h.OldStart, h.NewStart = 1+i*30, 1+i*33
		fc.Hunks = append(fc.Hunks, h)
		fc.LinesAdded += 3
	}
	return fc
}

func scenarioHost() *vcs.Mock {
	single := &model.Commit{
		ID:      "1111111111111111111111111111111111111111",
		Message: "fix typo",
		Files: []model.FileChange{
			{Path: "a.go", Kind: model.KindModified, LinesAdded: 1, Hunks: []model.Hunk{hunk("+x")}},
		},
	}
	oneHunk := &model.Commit{
		ID:      "2222222222222222222222222222222222222222",
		Message: "tweak two files",
		Files: []model.FileChange{
			{Path: "a.go", Kind: model.KindModified, LinesAdded: 1, Hunks: []model.Hunk{hunk("+x")}},
			{Path: "b.go", Kind: model.KindModified, LinesAdded: 1, Hunks: []model.Hunk{hunk("+y")}},
		},
	}
	accessors := &model.Commit{
		ID:      "3333333333333333333333333333333333333333",
		Message: "add accessors",
		Files: []model.FileChange{
			accessorFile("src/User.java", "name", "email", "phone"),
			accessorFile("src/Account.java", "owner", "balance", "currency"),
		},
	}
	return vcs.NewMock().SetCommits("octo/cat", accessors, oneHunk, single)
}

func testConfig(t *testing.T, out *bytes.Buffer) config.Config {
	t.Helper()
	cfg := config.NewWithTerminalIO(&config.Config{
		Repos:  []string{"octo/cat"},
		OutDir: t.TempDir(),
	}, &config.TerminalIO{Stdout: out, Stderr: &bytes.Buffer{}})
	if err := cfg.ValidateExtract(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRunScenario(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := testConfig(t, out)
	r := New(cfg, scenarioHost())

	if err := r.Run(context.Background(), StageAll); err != nil {
		t.Fatal(err, out.String())
	}

	commits, err := dataset.Read[model.Commit](filepath.Join(cfg.OutDir, CommitsFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatal("expected 2 extracted commits, got", len(commits))
	}

	labeled, err := dataset.Read[model.Record](filepath.Join(cfg.OutDir, LabeledFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(labeled) != 2 {
		t.Fatal("expected 2 labeled records, got", len(labeled))
	}
	for _, rec := range labeled {
		if rec.Commit != "3333333333333333333333333333333333333333" {
			t.Fatal("expected only the accessor commit, got", rec.Commit)
		}
		if len(rec.Labels) != 1 || rec.Labels[0] != "getter_setter" {
			t.Fatal("expected [getter_setter], got", rec.Labels)
		}
	}

	train, err := dataset.Read[model.CorpusRecord](filepath.Join(cfg.OutDir, "train.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(train) != 2 {
		t.Fatal("expected both records in train, got", len(train))
	}
	for _, name := range []string{"validation.jsonl", "test.jsonl", SplitStatsFile} {
		if _, err := os.Stat(filepath.Join(cfg.OutDir, name)); err != nil {
			t.Fatal(err)
		}
	}

	for _, stage := range Stages {
		b, err := os.ReadFile(filepath.Join(cfg.OutDir, stage+"_summary.json"))
		if err != nil {
			t.Fatal(err)
		}
		var summary struct {
			Stage string `json:"stage"`
			In    int64  `json:"in"`
			Out   int64  `json:"out"`
		}
		if err := json.Unmarshal(b, &summary); err != nil {
			t.Fatal(err)
		}
		if summary.Stage != stage {
			t.Fatal("expected stage", stage, "got", summary.Stage)
		}
	}

	// stdout is not a terminal, so each stage prints one JSON line.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(Stages) {
		t.Fatalf("expected %d summary lines, got %d:\n%s", len(Stages), len(lines), out.String())
	}
}

func TestRunStagesSeparately(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := testConfig(t, out)
	cfg.Compress = true
	ctx := context.Background()

	if err := New(cfg, scenarioHost()).Run(ctx, StageExtract); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, CommitsFile+".gz")); err != nil {
		t.Fatal("expected compressed commits file:", err)
	}

	// later stages read the compressed file even when compression is off.
	cfg.Compress = false
	r := New(cfg, nil)
	if err := r.Run(ctx, StageFilter, StageClassify); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, LabeledFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, "train.jsonl")); err == nil {
		t.Fatal("expected split stage not to run")
	}
}

func TestRunMissingInput(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := testConfig(t, out)
	if err := New(cfg, nil).Run(context.Background(), StageSplit); err == nil {
		t.Fatal("expected error without a labeled file")
	}
}

func TestRunUnknownStage(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := testConfig(t, out)
	err := New(cfg, nil).Run(context.Background(), "bogus")
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatal("expected invalid configuration error, got", err)
	}
}

type cancelAfterReads struct {
	*vcs.Mock
	n      int
	cancel context.CancelFunc
}

func (h *cancelAfterReads) ReadCommit(ctx context.Context, repo, id string) (*model.Commit, error) {
	c, err := h.Mock.ReadCommit(ctx, repo, id)
	if h.Mock.Reads() >= h.n {
		h.cancel()
	}
	return c, err
}

func TestRunCancelledExtractWritesPartial(t *testing.T) {
	out := &bytes.Buffer{}
	cfg := testConfig(t, out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host := &cancelAfterReads{Mock: scenarioHost(), n: 1, cancel: cancel}

	err := New(cfg, host).Run(ctx, StageAll)
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected cancellation, got", err)
	}
	commits, err := dataset.Read[model.Commit](filepath.Join(cfg.OutDir, CommitsFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Fatal("expected the commit read before cancelling, got", len(commits))
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, "extract_summary.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutDir, FilteredFile)); err == nil {
		t.Fatal("expected later stages not to run")
	}
}
