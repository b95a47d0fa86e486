// Package persist saves and restores the tuple set of a space.
//
// The format is picked from the file extension:
//
//	.db .sqlite .sqlite3   SQLite table, replaced inside one transaction
//	.txt .tuples           canonical text form, one tuple per line
//	anything else          msgpack stream
//
// File formats are written to a temporary file in the target directory and
// renamed over the target, so a failed save never leaves a truncated file.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamware/tuplespace/internal/tuple"
)

// Adapter encodes and decodes a whole tuple set
type Adapter interface {
	// Save replaces whatever is stored at path with tuples
	Save(path string, tuples []tuple.Tuple) error

	// Load returns every tuple stored at path
	Load(path string) ([]tuple.Tuple, error)
}

// ForPath returns the adapter for the extension of path
func ForPath(path string) Adapter {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return SQLite{}
	case ".txt", ".tuples":
		return Text{}
	default:
		return Msgpack{}
	}
}

// Save writes tuples with the adapter chosen by ForPath
func Save(path string, tuples []tuple.Tuple) error {
	return ForPath(path).Save(path, tuples)
}

// Load reads tuples with the adapter chosen by ForPath
func Load(path string) ([]tuple.Tuple, error) {
	return ForPath(path).Load(path)
}

// writeAtomic streams into a temp file next to path and renames it into place
func writeAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
