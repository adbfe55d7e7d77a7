package config

import "time"

// DefaultExcludePaths skips documentation files, which carry no code edits.
var DefaultExcludePaths = []string{
	`(?i)\.(md|markdown|txt|rst|adoc)$`,
	`(?i)(^|/)(readme|changelog|license|licence|authors|contributing)(\.[a-z]+)?$`,
	`(^|/)docs?/`,
}

func GetDefault() Config {
	return Config{
		Source:   "github",
		CloneDir: "clones",
		CloneURL: "https://github.com/{owner}/{name}.git",
		OutDir:   "data",

		MinFiles: 2,
		MaxFiles: 8,
		PerPage:  100,

		Concurrency:       4,
		RequestTimeout:    Duration(30 * time.Second),
		MaxAttempts:       5,
		BaseDelay:         Duration(time.Second),
		MaxDelay:          Duration(time.Minute),
		RequestsPerSecond: 1,

		MaxChangedLines: 20,
		MaxCommitFiles:  8,
		MinHunks:        2,
		MaxHunkGap:      10,
		ExcludePaths:    DefaultExcludePaths,

		TaxonomyVersion: BuiltinTaxonomyVersion,
		Detectors:       BuiltinDetectors(),
		FallbackLabel:   "other",

		Proportions: Proportions{Train: 0.8, Validation: 0.1, Test: 0.1},
		Seed:        42,
		Tolerance:   0.05,
		MinStratify: 10,
	}
}
