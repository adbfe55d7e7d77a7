package classify

import (
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jeffrom/editcorpus/config"
)

// shapeFunc is a predicate over the changed text of a file.
type shapeFunc func(c *content) bool

var shapes = map[string]shapeFunc{
	config.ShapeIdentifierRename: identifierRename,
	config.ShapeWhitespaceOnly:   whitespaceOnly,
}

// tokenRE splits a line into quoted strings, identifiers and single
// punctuation characters.
var tokenRE = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[A-Za-z_]\w*|\S`)

var identRE = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// identifierRename matches when every changed line pairs with a line on the
// other side that differs only in identifiers, and the old to new names
// map consistently across the whole file.
func identifierRename(c *content) bool {
	names := make(map[string]string)
	renamed := false
	for _, h := range c.hunks {
		if len(h.removed) != len(h.added) {
			return false
		}
		for i := range h.removed {
			before := tokenRE.FindAllString(h.removed[i], -1)
			after := tokenRE.FindAllString(h.added[i], -1)
			if len(before) != len(after) {
				return false
			}
			for j := range before {
				if before[j] == after[j] {
					continue
				}
				if !identRE.MatchString(before[j]) || !identRE.MatchString(after[j]) {
					return false
				}
				if prev, ok := names[before[j]]; ok && prev != after[j] {
					return false
				}
				names[before[j]] = after[j]
				renamed = true
			}
		}
	}
	return renamed
}

// whitespaceOnly matches when the removed and added text differ, but only
// in whitespace.
func whitespaceOnly(c *content) bool {
	if len(c.added)+len(c.removed) == 0 {
		return false
	}
	before := joinLines(c.removed)
	after := joinLines(c.added)
	if before == after {
		return false
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	for _, d := range dmp.DiffMain(before, after, false) {
		if d.Type != diffmatchpatch.DiffEqual && strings.TrimSpace(d.Text) != "" {
			return false
		}
	}
	return true
}

func joinLines(lines []string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}
