package config

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jeffrom/editcorpus/model"
)

// BuiltinTaxonomyVersion is the version of BuiltinDetectors. A configured
// taxonomy must share its major version.
const BuiltinTaxonomyVersion = "1.0.0"

// Shape names understood by the classifier.
const (
	ShapeIdentifierRename = "identifier_rename"
	ShapeWhitespaceOnly   = "whitespace_only"
)

var KnownShapes = []string{ShapeIdentifierRename, ShapeWhitespaceOnly}

// Line sides and modes for LineRule.
const (
	SideAdded   = "added"
	SideRemoved = "removed"
	SideChanged = "changed"

	ModeAny = "any"
	ModeAll = "all"
)

// Detector attaches Label to a file change when any of its rules match.
type Detector struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Rules       []Rule `json:"rules"`
}

// Rule matches when every condition that is set holds.
type Rule struct {
	ChangeKinds     []string   `json:"change_kinds,omitempty"`
	MessageKeywords []string   `json:"message_keywords,omitempty"`
	PathPatterns    []string   `json:"path_patterns,omitempty"`
	MinCommitFiles  int        `json:"min_commit_files,omitempty"`
	MaxChangedLines int        `json:"max_changed_lines,omitempty"`
	Lines           []LineRule `json:"lines,omitempty"`
	Shapes          []string   `json:"shapes,omitempty"`
}

// LineRule matches diff lines on one side against a list of patterns. With
// mode "any" one matching line is enough; with "all" every non-blank line on
// that side must match, and there must be at least one.
type LineRule struct {
	Side     string   `json:"side"`
	Mode     string   `json:"mode,omitempty"`
	Patterns []string `json:"patterns"`
}

// NeedsContent reports whether the rule looks at hunk lines.
func (r Rule) NeedsContent() bool {
	return len(r.Lines) > 0 || len(r.Shapes) > 0
}

func (r Rule) empty() bool {
	return len(r.ChangeKinds) == 0 && len(r.MessageKeywords) == 0 &&
		len(r.PathPatterns) == 0 && r.MinCommitFiles == 0 &&
		r.MaxChangedLines == 0 && len(r.Lines) == 0 && len(r.Shapes) == 0
}

func (d *Detector) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("detector has no label")
	}
	if len(d.Rules) == 0 {
		return fmt.Errorf("detector %q: no rules", d.Label)
	}
	for i, r := range d.Rules {
		if err := r.validate(); err != nil {
			return fmt.Errorf("detector %q rule %d: %w", d.Label, i, err)
		}
	}
	return nil
}

func (r Rule) validate() error {
	if r.empty() {
		return fmt.Errorf("rule has no conditions")
	}
	if r.MinCommitFiles < 0 || r.MaxChangedLines < 0 {
		return fmt.Errorf("negative threshold")
	}
	for _, k := range r.ChangeKinds {
		if _, ok := model.ParseChangeKind(k); !ok {
			return fmt.Errorf("unknown change kind %q", k)
		}
	}
	for _, kw := range r.MessageKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("empty message keyword")
		}
	}
	if err := compileAll(r.PathPatterns); err != nil {
		return err
	}
	for _, lr := range r.Lines {
		switch lr.Side {
		case SideAdded, SideRemoved, SideChanged:
		default:
			return fmt.Errorf("unknown line side %q", lr.Side)
		}
		switch lr.Mode {
		case "", ModeAny, ModeAll:
		default:
			return fmt.Errorf("unknown line mode %q", lr.Mode)
		}
		if len(lr.Patterns) == 0 {
			return fmt.Errorf("line rule for %s lines has no patterns", lr.Side)
		}
		if err := compileAll(lr.Patterns); err != nil {
			return err
		}
	}
	for _, s := range r.Shapes {
		if !oneOf(s, KnownShapes) {
			return fmt.Errorf("unknown shape %q", s)
		}
	}
	return nil
}

func compileAll(patterns []string) error {
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

func (d *Detector) TextSummary(w io.Writer) error {
	bw := bufio.NewWriter(w)

	bw.WriteString(fmt.Sprintf("Label: %s\n", d.Label))
	if d.Description != "" {
		bw.WriteString(fmt.Sprintf("  %s\n", d.Description))
	}
	for i, r := range d.Rules {
		if i > 0 {
			bw.WriteString("  or\n")
		}
		if len(r.ChangeKinds) > 0 {
			bw.WriteString(fmt.Sprintf("  change kind: %s\n", strings.Join(r.ChangeKinds, ", ")))
		}
		if len(r.MessageKeywords) > 0 {
			bw.WriteString(fmt.Sprintf("  message keywords: %s\n", strings.Join(r.MessageKeywords, ", ")))
		}
		if len(r.PathPatterns) > 0 {
			bw.WriteString(fmt.Sprintf("  path: %s\n", strings.Join(r.PathPatterns, " | ")))
		}
		if r.MinCommitFiles > 0 {
			bw.WriteString(fmt.Sprintf("  commit files >= %d\n", r.MinCommitFiles))
		}
		if r.MaxChangedLines > 0 {
			bw.WriteString(fmt.Sprintf("  changed lines <= %d\n", r.MaxChangedLines))
		}
		for _, lr := range r.Lines {
			mode := lr.Mode
			if mode == "" {
				mode = ModeAny
			}
			bw.WriteString(fmt.Sprintf("  %s %s lines match:\n", mode, lr.Side))
			for _, p := range lr.Patterns {
				bw.WriteString(fmt.Sprintf("    %s\n", p))
			}
		}
		if len(r.Shapes) > 0 {
			bw.WriteString(fmt.Sprintf("  shape: %s\n", strings.Join(r.Shapes, ", ")))
		}
	}

	return bw.Flush()
}

// BuiltinDetectors returns the default taxonomy. Order matters: the first
// matching label is the record's primary label.
func BuiltinDetectors() []Detector {
	return []Detector{
		{
			Label:       "getter_setter",
			Description: "accessor method with a single-field return or assignment",
			Rules: []Rule{
				{
					Lines: []LineRule{
						{
							Side: SideChanged,
							Patterns: []string{
								`^\s*(?:(?:public|private|protected|internal|static|final|synchronized|abstract|override|virtual|open)\s+)+(?:[\w<>\[\],.?]+\s+)?(?:get|set|is|has)[A-Z_]\w*\s*\(`,
								`^\s*(?:func|fun|function)\s+(?:\([^)]*\)\s*)?(?:[Gg]et|[Ss]et|[Ii]s|[Hh]as)[A-Z_]\w*\s*\(`,
								`^\s*(?:[\w<>\[\],.?]+\s+)?(?:get|set|is|has)[A-Z_]\w*\s*\([^)]*\)\s*(?::\s*[\w<>\[\]|.?]+\s*)?\{`,
								`^\s*def\s+(?:get|set|is|has)_\w+\s*\(`,
								`^\s*(?:get|set)\s+\w+\s*\(`,
								`@(?:Getter|Setter|property)\b`,
								`@\w+\.setter\b`,
							},
						},
						{
							Side: SideChanged,
							Patterns: []string{
								`^\s*return\s+(?:this\.|self\.)?[A-Za-z_]\w*\s*;?\s*$`,
								`^\s*(?:this|self)\.[A-Za-z_]\w*\s*=\s*[A-Za-z_]\w*\s*;?\s*$`,
								`^\s*[a-z]\w*\.[A-Za-z_]\w*\s*=\s*[A-Za-z_]\w*\s*;?\s*$`,
								`@(?:Getter|Setter)\b`,
							},
						},
					},
				},
			},
		},
		{
			Label:       "import_change",
			Description: "added, removed or modified import declarations",
			Rules: []Rule{
				{
					Lines: []LineRule{
						{
							Side: SideChanged,
							Patterns: []string{
								`^\s*import\s+[\w"'{*(]`,
								`^\s*from\s+\S+\s+import\s+`,
								`^\s*#\s*include\s*[<"]`,
								`^\s*using\s+[\w.]+\s*;`,
								`^\s*use\s+[\w:\\]+.*;\s*$`,
								`\brequire\s*\(\s*['"]`,
							},
						},
					},
				},
			},
		},
		{
			Label:       "refactor_rename",
			Description: "renamed file or identifier",
			Rules: []Rule{
				{ChangeKinds: []string{string(model.KindRenamed)}},
				{MessageKeywords: []string{"rename", "renamed", "renames", "renaming"}},
				{Shapes: []string{ShapeIdentifierRename}},
			},
		},
		{
			Label:       "structural_refactor",
			Description: "refactor touching several files",
			Rules: []Rule{
				{
					MessageKeywords: []string{"refactor", "refactored", "refactoring", "restructure", "reorganize", "reorganise", "extract", "migrate", "simplify"},
					ChangeKinds:     []string{string(model.KindModified)},
					MinCommitFiles:  2,
				},
			},
		},
		{
			Label:       "format_cleanup",
			Description: "small whitespace-only formatting change",
			Rules: []Rule{
				{
					MessageKeywords: []string{"format", "formatting", "cleanup", "clean up", "indent", "indentation", "style", "lint", "whitespace", "reformat", "gofmt", "prettier"},
					MaxChangedLines: 12,
					Shapes:          []string{ShapeWhitespaceOnly},
				},
			},
		},
	}
}

func oneOf(s string, l []string) bool {
	for _, cand := range l {
		if s == cand {
			return true
		}
	}
	return false
}
