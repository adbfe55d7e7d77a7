package patch

import (
	"fmt"
	"strings"

	"github.com/jeffrom/editcorpus/model"
)

type Op byte

const (
	OpContext Op = ' '
	OpAdd     Op = '+'
	OpDel     Op = '-'
)

// Line is one body line of a hunk with its prefix removed.
type Line struct {
	Op   Op
	Text string
}

// Lines splits a hunk's patch text into typed lines. The "@@" header and
// "\ No newline at end of file" markers are skipped.
func Lines(h model.Hunk) ([]Line, error) {
	if err := checkText(h.Patch); err != nil {
		return nil, err
	}
	raw := strings.Split(strings.TrimSuffix(h.Patch, "\n"), "\n")
	lines := make([]Line, 0, len(raw))
	for i, s := range raw {
		if i == 0 && strings.HasPrefix(s, "@@") {
			continue
		}
		if s == "" {
			lines = append(lines, Line{Op: OpContext})
			continue
		}
		switch s[0] {
		case '+':
			lines = append(lines, Line{Op: OpAdd, Text: s[1:]})
		case '-':
			lines = append(lines, Line{Op: OpDel, Text: s[1:]})
		case ' ':
			lines = append(lines, Line{Op: OpContext, Text: s[1:]})
		case '\\':
		default:
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, i+1, s)
		}
	}
	return lines, nil
}

// Texts returns the text of every line with op.
func Texts(lines []Line, op Op) []string {
	var out []string
	for _, l := range lines {
		if l.Op == op {
			out = append(out, l.Text)
		}
	}
	return out
}
