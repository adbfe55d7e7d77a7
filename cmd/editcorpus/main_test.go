package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/dataset"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/vcs/gitcli"
)

// captureTerm swaps the terminal for buffers until the test ends.
func captureTerm(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	prev := termIO
	termIO = &config.TerminalIO{Stdout: stdout, Stderr: stderr}
	t.Cleanup(func() { termIO = prev })
	return stdout, stderr
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPrintConfig(t *testing.T) {
	stdout, _ := captureTerm(t)
	cfgPath := filepath.Join(t.TempDir(), "editcorpus.yaml")
	writeFile(t, cfgPath, "min_files: 3\nmax_files: 6\nseed: 7\nrequest_timeout: 10s\n")

	if err := run([]string{"editcorpus", "-c", cfgPath, "--max-files", "5", "--print-config"}); err != nil {
		t.Fatal(err)
	}
	out := stdout.String()
	for _, want := range []string{"min_files: 3", "max_files: 5", "seed: 7", "request_timeout: 10s", "min_hunks: 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in config:\n%s", want, out)
		}
	}
}

func TestPrintConfigZeroValues(t *testing.T) {
	tcs := []struct {
		name   string
		file   string
		args   []string
		expect []string
		reject []string
	}{
		{
			name:   "file",
			file:   "fallback_label: \"\"\nseed: 0\nproportions:\n  train: 0.9\n  validation: 0.1\n  test: 0\n",
			expect: []string{`fallback_label: ""`, "seed: 0", "test: 0", "train: 0.9"},
		},
		{
			name:   "flags",
			file:   "seed: 7\ncompress: true\nmax_hunk_gap: 4\n",
			args:   []string{"--seed", "0", "--compress=false", "--max-hunk-gap", "0"},
			expect: []string{"seed: 0", "max_hunk_gap: 0"},
			reject: []string{"compress: true"},
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			stdout, _ := captureTerm(t)
			cfgPath := filepath.Join(t.TempDir(), "editcorpus.yaml")
			writeFile(t, cfgPath, tc.file)

			args := append([]string{"editcorpus", "-c", cfgPath, "--print-config"}, tc.args...)
			if err := run(args); err != nil {
				t.Fatal(err)
			}
			out := stdout.String()
			for _, want := range tc.expect {
				if !strings.Contains(out, want) {
					t.Fatalf("expected %q in config:\n%s", want, out)
				}
			}
			for _, unwanted := range tc.reject {
				if strings.Contains(out, unwanted) {
					t.Fatalf("expected no %q in config:\n%s", unwanted, out)
				}
			}
		})
	}
}

func TestListDetectors(t *testing.T) {
	stdout, _ := captureTerm(t)
	if err := run([]string{"editcorpus", "--list-detectors"}); err != nil {
		t.Fatal(err)
	}
	out := stdout.String()
	for _, label := range []string{"getter_setter", "import_change", "refactor_rename", "structural_refactor", "format_cleanup", "other"} {
		if !strings.Contains(out, "Label: "+label) {
			t.Fatalf("expected label %s in:\n%s", label, out)
		}
	}
}

func TestInvalidConfig(t *testing.T) {
	tcs := []struct {
		name string
		args []string
	}{
		{name: "no-repos", args: nil},
		{name: "bad-repo", args: []string{"-r", "not-a-repo"}},
		{name: "duplicate-repo", args: []string{"-r", "octo/cat", "-r", "octo/cat"}},
		{name: "files-bounds", args: []string{"-r", "octo/cat", "--min-files", "5", "--max-files", "2"}},
		{name: "proportions", args: []string{"-r", "octo/cat", "--train", "0.5"}},
		{name: "tolerance", args: []string{"-r", "octo/cat", "--tolerance", "2"}},
		{name: "source", args: []string{"-r", "octo/cat", "--source", "svn"}},
		{name: "per-page", args: []string{"-r", "octo/cat", "--per-page", "500"}},
		{name: "unknown-stage", args: []string{"-r", "octo/cat", "-o", os.TempDir(), "publish"}},
		{name: "unknown-flag", args: []string{"--frobnicate"}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			captureTerm(t)
			args := append([]string{"editcorpus"}, tc.args...)
			t.Logf("args: %q", tc.args)
			if err := run(args); err == nil {
				t.Fatal("expected args to be invalid")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestReadReposFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "repos.txt")
	writeFile(t, p, "# corpus sources\nocto/cat\n\n  spf13/pflag  \n# google/go-github\n")
	repos, err := readReposFile(p)
	if err != nil {
		t.Fatal(err)
	}
	expect := []string{"octo/cat", "spf13/pflag"}
	if strings.Join(repos, ",") != strings.Join(expect, ",") {
		t.Fatal("expected", expect, "got", repos)
	}

	merged := appendUnique([]string{"octo/cat"}, repos...)
	if len(merged) != 2 {
		t.Fatal("expected duplicates to be merged, got", merged)
	}
}

func call(ctx context.Context, t *testing.T, dir, arg string, args ...string) {
	t.Helper()
	t.Logf("+ %s %s", arg, gitcli.ArgsString(args))
	cmd := exec.CommandContext(ctx, arg, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=editcorpus-test",
		"GIT_AUTHOR_EMAIL=editcorpus-test@example.com",
		"GIT_COMMITTER_NAME=editcorpus-test",
		"GIT_COMMITTER_EMAIL=editcorpus-test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("%v: %s", err, out)
	}
}

func javaClass(name string, fields ...string) string {
	var sb strings.Builder
	sb.WriteString("class " + name + " {\n")
	accessor := func(f string) {
		sb.WriteString("  public String get" + strings.ToUpper(f[:1]) + f[1:] + "() {\n")
		sb.WriteString("    return this." + f + ";\n")
		sb.WriteString("  }\n")
	}
	if len(fields) > 0 {
		accessor(fields[0])
	}
	for i := 0; i < 20; i++ {
		sb.WriteString("  int f" + string(rune('a'+i)) + " = 0;\n")
	}
	if len(fields) > 1 {
		accessor(fields[1])
	}
	sb.WriteString("}\n")
	return sb.String()
}

func TestRunGitSource(t *testing.T) {
	if testing.Short() {
		t.Skip("-short")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	captureTerm(t)
	ctx := context.Background()

	root := t.TempDir()
	src := filepath.Join(root, "octo_cat")
	call(ctx, t, root, "git", "init", "--quiet", src)
	writeFile(t, filepath.Join(src, "User.java"), javaClass("User"))
	writeFile(t, filepath.Join(src, "Account.java"), javaClass("Account"))
	call(ctx, t, src, "git", "add", ".")
	call(ctx, t, src, "git", "commit", "--quiet", "-m", "initial")

	writeFile(t, filepath.Join(src, "User.java"), javaClass("User", "name", "email"))
	writeFile(t, filepath.Join(src, "Account.java"), javaClass("Account", "owner", "balance"))
	call(ctx, t, src, "git", "commit", "--quiet", "-am", "add accessors")

	out := filepath.Join(root, "data")
	cfgPath := filepath.Join(root, "editcorpus.yaml")
	writeFile(t, cfgPath, "out_dir: "+out+"\nsource: git\nclone_dir: "+filepath.Join(root, "clones")+"\n")
	reposPath := filepath.Join(root, "repos.txt")
	writeFile(t, reposPath, "# local\nocto/cat\n")

	err := run([]string{"editcorpus", "-q", "-c", cfgPath,
		"--repos-file", reposPath,
		"--clone-url", filepath.Join(root, "{owner}_{name}"),
	})
	if err != nil {
		t.Fatal(err)
	}

	labeled, err := dataset.Read[model.Record](filepath.Join(out, "labeled.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(labeled) != 2 {
		t.Fatal("expected 2 labeled file changes, got", len(labeled))
	}
	for _, rec := range labeled {
		if rec.Message != "add accessors" {
			t.Fatal("expected the accessor commit, got", rec.Message)
		}
		if len(rec.Labels) != 1 || rec.Labels[0] != "getter_setter" {
			t.Fatal("expected [getter_setter], got", rec.Labels)
		}
	}
	for _, name := range []string{"train.jsonl", "validation.jsonl", "test.jsonl", "split_stats.json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Fatal(err)
		}
	}
}
