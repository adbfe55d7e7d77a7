// Package dataset reads and writes the newline-delimited JSON files passed
// between stages. Paths ending in .gz are gzip compressed.
package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const maxLine = 64 << 20

// Path joins dir and name, adding .gz when compress is set.
func Path(dir, name string, compress bool) string {
	p := filepath.Join(dir, name)
	if compress {
		p += ".gz"
	}
	return p
}

func compressed(path string) bool { return strings.HasSuffix(path, ".gz") }

// Write replaces the file at path with one JSON line per record. The file
// is written to a temporary name and renamed into place, so readers never
// see a partial file and reruns never append.
func Write[T any](path string, recs []T) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for i := range recs {
			if err := enc.Encode(&recs[i]); err != nil {
				return errors.Wrapf(err, "encoding record %d", i)
			}
		}
		return nil
	})
}

// WriteJSON replaces the file at path with v as indented JSON.
func WriteJSON(path string, v interface{}) error {
	return writeAtomic(path, func(w io.Writer) error {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	})
}

func writeAtomic(path string, fn func(w io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %s", path)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bw
	var zw *gzip.Writer
	if compressed(path) {
		zw = gzip.NewWriter(bw)
		w = zw
	}
	if err := fn(w); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return errors.Wrapf(err, "compressing %s", path)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(f.Name(), path), "renaming into %s", path)
}

// Scan calls fn with each decoded line of the file at path, stopping at the
// first error.
func Scan[T any](path string, fn func(lineno int, rec T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed(path) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		defer zr.Close()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineno)
		}
		if err := fn(lineno, rec); err != nil {
			return err
		}
	}
	return errors.Wrapf(scanner.Err(), "reading %s", path)
}

// Read loads every record of the file at path.
func Read[T any](path string) ([]T, error) {
	var recs []T
	err := Scan(path, func(_ int, rec T) error {
		recs = append(recs, rec)
		return nil
	})
	return recs, err
}
