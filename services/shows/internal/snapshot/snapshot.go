// Package snapshot persists the first full upstream fetch so later restarts
// can seed without the network.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

var (
	// ErrExists is returned by Write when a snapshot is already present.
	ErrExists  = errors.New("snapshot: already exists")
	ErrCorrupt = errors.New("snapshot: corrupt")
)

// File is a write-once JSON array of show records.
type File struct {
	Path string
}

func (f File) Exists() (bool, error) {
	if f.Path == "" {
		return false, nil
	}
	_, err := os.Stat(f.Path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (f File) Load() ([]tvmaze.ShowRecord, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var out []tvmaze.ShowRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Path, err)
	}
	return out, nil
}

// Write stores records atomically. It never replaces an existing snapshot.
func (f File) Write(records []tvmaze.ShowRecord) error {
	if f.Path == "" {
		return errors.New("snapshot: path is empty")
	}
	if ok, err := f.Exists(); err != nil {
		return err
	} else if ok {
		return ErrExists
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	// Link fails if the target appeared meanwhile, keeping the file write-once.
	if err := os.Link(tmp.Name(), f.Path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("snapshot: publish: %w", err)
	}
	return nil
}
