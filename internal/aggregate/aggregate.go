// Package aggregate merges per-unit outputs of a fan-out stage into one artifact.
package aggregate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"hazop/internal/logging"
	"hazop/internal/stage"
	"hazop/internal/units"
)

// Entry is one unit's contribution. Entries that did not succeed are dropped.
type Entry struct {
	Unit   units.Unit
	Status stage.Status
	Text   string
}

// Aggregator writes aggregate artifacts into the shared output location.
type Aggregator struct {
	dir       string
	delimiter string
}

// New creates an aggregator writing into dir.
func New(dir, delimiter string) *Aggregator {
	return &Aggregator{dir: dir, delimiter: delimiter}
}

// Combine joins the successful entries in the given order.
func (a *Aggregator) Combine(entries []Entry) []byte {
	var buf bytes.Buffer
	n := 0
	for _, e := range entries {
		if e.Status != stage.StatusSuccess {
			continue
		}
		if n > 0 {
			buf.WriteString(a.delimiter)
		}
		buf.WriteString(e.Text)
		n++
	}
	return buf.Bytes()
}

// Write stores Combine(entries) under name and returns the artifact path and the
// number of entries included. The file is replaced atomically, so a rerun over
// the same entries leaves byte-identical content.
func (a *Aggregator) Write(name string, entries []Entry) (string, int, error) {
	data := a.Combine(entries)
	included := 0
	for _, e := range entries {
		if e.Status == stage.StatusSuccess {
			included++
		}
	}

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(a.dir, name)
	tmp, err := os.CreateTemp(a.dir, "."+name+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	logging.Aggregate("wrote %s: %d of %d units, %d bytes", name, included, len(entries), len(data))
	return path, included, nil
}
