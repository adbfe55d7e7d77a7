// Package gitcli implements vcs.Interface over local clones using the git
// commandline tool.
package gitcli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeffrom/editcorpus/config"
	"github.com/jeffrom/editcorpus/model"
	"github.com/jeffrom/editcorpus/patch"
	"github.com/jeffrom/editcorpus/vcs"
)

// Git reads history from clones under the configured clone directory. A
// missing clone is created from the configured clone URL.
type Git struct {
	cfg  config.Config
	root string
}

func New(cfg config.Config) *Git {
	return &Git{
		cfg:  cfg,
		root: cfg.CloneDir,
	}
}

var notFoundRE = regexp.MustCompile(`(?i)(not found|does not exist|unknown revision|bad object|bad revision|invalid object name|needed a single revision)`)

// RepoDir is the clone directory of repo: <clone dir>/owner_name.
func (g *Git) RepoDir(repo string) (string, error) {
	owner, name, err := model.ParseRepo(repo)
	if err != nil {
		return "", err
	}
	return filepath.Join(g.root, owner+"_"+name), nil
}

func (g *Git) CloneURL(repo string) string {
	owner, name, _ := model.ParseRepo(repo)
	return strings.NewReplacer("{owner}", owner, "{name}", name, "{repo}", repo).Replace(g.cfg.CloneURL)
}

func (g *Git) ResolveRepo(ctx context.Context, repo string) error {
	dir, err := g.RepoDir(repo)
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(g.root, 0755); err != nil {
			return err
		}
		g.cfg.Printf("Cloning %s into %s", repo, dir)
		if _, err := g.call(ctx, g.root, "clone", "--quiet", "--no-checkout", g.CloneURL(repo), dir); err != nil {
			os.RemoveAll(dir)
			return g.classify(err, repo, "")
		}
	}

	if _, err := g.call(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return vcs.NotFoundError{Repo: repo, Ref: "HEAD"}
	}
	return nil
}

func (g *Git) ListCommits(ctx context.Context, repo string, opts vcs.ListOpts) (*vcs.CommitPage, error) {
	dir, err := g.RepoDir(repo)
	if err != nil {
		return nil, err
	}
	page, perPage := opts.Page, opts.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = g.cfg.PerPage
	}

	// one extra commit tells us whether there is a next page.
	b, err := g.call(ctx, dir, "-c", "core.quotepath=off", "log", "--no-merges", "--format=_START_%H", "--name-only",
		"--skip="+strconv.Itoa((page-1)*perPage), "-n", strconv.Itoa(perPage+1), "HEAD", "--")
	if err != nil {
		return nil, g.classify(err, repo, "HEAD")
	}

	var refs []vcs.CommitRef
	scanner := bufio.NewScanner(bytes.NewReader(b))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "_START_") {
			refs = append(refs, vcs.CommitRef{ID: strings.TrimPrefix(line, "_START_")})
			continue
		}
		if strings.TrimSpace(line) == "" || len(refs) == 0 {
			continue
		}
		refs[len(refs)-1].FileCount++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	res := &vcs.CommitPage{Refs: refs}
	if len(refs) > perPage {
		res.Refs = refs[:perPage]
		res.NextPage = page + 1
	}
	return res, nil
}

const expectedLogParts = 4

func (g *Git) ReadCommit(ctx context.Context, repo, id string) (*model.Commit, error) {
	dir, err := g.RepoDir(repo)
	if err != nil {
		return nil, err
	}

	b, err := g.call(ctx, dir, "log", "-1", "--format=_START_%H_SEP_%aN_SEP_%ai_SEP_%B_END_", id, "--")
	if err != nil {
		return nil, g.classify(err, repo, id)
	}
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "_START_") || !strings.HasSuffix(s, "_END_") {
		return nil, fmt.Errorf("gitcli: unexpected git log output: %q", s)
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "_START_"), "_END_")
	parts := strings.SplitN(s, "_SEP_", expectedLogParts)
	if len(parts) != expectedLogParts {
		return nil, fmt.Errorf("gitcli: expected %d parts from git log, got %d", expectedLogParts, len(parts))
	}
	ts, err := ParseGitISO8601(parts[2])
	if err != nil {
		return nil, err
	}

	diff, err := g.call(ctx, dir, "-c", "core.quotepath=off", "show", "--format=", "--patch", "-M", "--no-color",
		"--no-ext-diff", "--no-textconv", "--src-prefix=a/", "--dst-prefix=b/", id, "--")
	if err != nil {
		return nil, g.classify(err, repo, id)
	}
	files, err := patch.ParseMulti(diff)
	if err != nil {
		return nil, fmt.Errorf("gitcli: %s@%s: %w", repo, id, err)
	}

	return &model.Commit{
		Repo:      repo,
		ID:        parts[0],
		Author:    parts[1],
		Timestamp: ts,
		Message:   strings.TrimSpace(parts[3]),
		Files:     files,
	}, nil
}

// classify turns a failed git call into a vcs error. Missing objects are
// NotFoundError; clone and fetch failures for other reasons are treated as
// transient network trouble.
func (g *Git) classify(err error, repo, ref string) error {
	var cerr *commandError
	if !errors.As(err, &cerr) {
		return err
	}
	if notFoundRE.MatchString(cerr.stderr) {
		return vcs.NotFoundError{Repo: repo, Ref: ref}
	}
	if len(cerr.args) > 0 && cerr.args[0] == "clone" {
		return &vcs.TransientError{Err: err}
	}
	return err
}
