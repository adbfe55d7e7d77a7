// Package editcorpus builds labeled corpora of small code edits from
// repository history. The pipeline extracts commits, filters their file
// changes, classifies each change with edit-pattern labels, and splits the
// labeled changes into train, validation and test sets.
//
// Related packages: config, model, extract, filter, classify, split, runner,
// vcs, vcs/github, vcs/gitcli
package editcorpus

import "github.com/jeffrom/editcorpus/config"

// Config holds the configuration of every pipeline stage. This struct is
// intended for command-line use, so not all of its attributes are applicable
// to every stage.
//
// See "go doc github.com/jeffrom/editcorpus/config Config" for more
// information.
type Config = config.Config
