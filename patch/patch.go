// Package patch converts unified diff text into model hunks and file
// changes, and splits hunks back into typed lines for classification.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/jeffrom/editcorpus/model"
)

var (
	ErrBinary    = errors.New("patch: binary content")
	ErrMalformed = errors.New("patch: malformed hunk")
)

type Stat struct {
	Added   int
	Removed int
}

// ParseFile parses the hunks of a single file's patch, as returned by the
// GitHub commits API. Empty text yields no hunks.
func ParseFile(text string) ([]model.Hunk, Stat, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Stat{}, nil
	}
	if err := checkText(text); err != nil {
		return nil, Stat{}, err
	}
	b := []byte(text)
	if !bytes.HasSuffix(b, []byte("\n")) {
		b = append(b, '\n')
	}
	hunks, err := godiff.ParseHunks(b)
	if err != nil {
		return nil, Stat{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	mh, st := convertHunks(hunks)
	return mh, st, nil
}

// ParseMulti parses git's multi-file patch output into file changes, in
// the order they appear.
func ParseMulti(text []byte) ([]model.FileChange, error) {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, nil
	}
	fds, err := godiff.ParseMultiFileDiff(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	changes := make([]model.FileChange, 0, len(fds))
	for _, fd := range fds {
		fc := fileChange(fd)
		if fc.Path == "" {
			return nil, fmt.Errorf("%w: file diff without a path", ErrMalformed)
		}
		changes = append(changes, fc)
	}
	return changes, nil
}

func fileChange(fd *godiff.FileDiff) model.FileChange {
	oldPath, newPath := cleanPath(fd.OrigName), cleanPath(fd.NewName)
	var renameFrom, renameTo string
	kind := model.KindModified
	binary := false
	for _, ext := range fd.Extended {
		switch {
		case strings.HasPrefix(ext, "diff --git "):
			a, b := splitGitHeader(strings.TrimPrefix(ext, "diff --git "))
			if oldPath == "" {
				oldPath = a
			}
			if newPath == "" {
				newPath = b
			}
		case strings.HasPrefix(ext, "new file mode"):
			kind = model.KindAdded
		case strings.HasPrefix(ext, "deleted file mode"):
			kind = model.KindRemoved
		case strings.HasPrefix(ext, "rename from "):
			renameFrom = strings.TrimPrefix(ext, "rename from ")
		case strings.HasPrefix(ext, "rename to "):
			renameTo = strings.TrimPrefix(ext, "rename to ")
		case strings.HasPrefix(ext, "Binary files "), strings.HasPrefix(ext, "GIT binary patch"):
			binary = true
		}
	}
	if oldPath == "/dev/null" {
		kind = model.KindAdded
		oldPath = ""
	}
	if newPath == "/dev/null" {
		kind = model.KindRemoved
		newPath = ""
	}

	fc := model.FileChange{Path: newPath, Kind: kind}
	switch {
	case renameFrom != "" || renameTo != "":
		fc.Kind = model.KindRenamed
		fc.OldPath = firstNonEmpty(renameFrom, oldPath)
		fc.Path = firstNonEmpty(renameTo, newPath)
	case kind == model.KindRemoved:
		fc.Path = oldPath
	}

	if binary {
		return fc
	}
	hunks, st := convertHunks(fd.Hunks)
	fc.Hunks = hunks
	fc.LinesAdded = st.Added
	fc.LinesRemoved = st.Removed
	return fc
}

func convertHunks(hunks []*godiff.Hunk) ([]model.Hunk, Stat) {
	var st Stat
	res := make([]model.Hunk, 0, len(hunks))
	for _, h := range hunks {
		header := fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OrigStartLine, h.OrigLines, h.NewStartLine, h.NewLines)
		if h.Section != "" {
			header += " " + h.Section
		}
		for _, line := range strings.Split(string(h.Body), "\n") {
			if line == "" {
				continue
			}
			switch line[0] {
			case '+':
				st.Added++
			case '-':
				st.Removed++
			}
		}
		res = append(res, model.Hunk{
			OldStart: int(h.OrigStartLine),
			OldLines: int(h.OrigLines),
			NewStart: int(h.NewStartLine),
			NewLines: int(h.NewLines),
			Patch:    header + "\n" + string(h.Body),
		})
	}
	return res, st
}

// cleanPath removes the a/ or b/ prefix git adds to diff paths.
func cleanPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// splitGitHeader splits "a/x b/y". Paths containing " b/" are ambiguous;
// the last occurrence wins.
func splitGitHeader(s string) (string, string) {
	i := strings.LastIndex(s, " b/")
	if i < 0 {
		return "", ""
	}
	return cleanPath(s[:i]), cleanPath(s[i+1:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func checkText(s string) error {
	if !utf8.ValidString(s) || strings.IndexByte(s, 0) >= 0 {
		return ErrBinary
	}
	return nil
}
