package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/tvshows-platform/services/shows/internal/tvmaze"
)

func TestWriteThenLoad(t *testing.T) {
	f := File{Path: filepath.Join(t.TempDir(), "data", "dump.json")}
	if ok, err := f.Exists(); err != nil || ok {
		t.Fatalf("expected no snapshot, got %v / %v", ok, err)
	}
	recs := []tvmaze.ShowRecord{{ID: 1, Name: "Under the Dome", Genres: []string{"Drama"}}, {ID: 2, Name: "Person of Interest"}}
	if err := f.Write(recs); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, _ := f.Exists(); !ok {
		t.Fatal("expected snapshot to exist after write")
	}
	got, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Under the Dome" || got[0].Genres[0] != "Drama" {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestWriteIsWriteOnce(t *testing.T) {
	f := File{Path: filepath.Join(t.TempDir(), "dump.json")}
	if err := f.Write([]tvmaze.ShowRecord{{ID: 1, Name: "a"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Write([]tvmaze.ShowRecord{{ID: 2, Name: "b"}}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, _ := f.Load()
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("snapshot was overwritten: %+v", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(f.Path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestLoadCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dump.json")
	if err := os.WriteFile(p, []byte("[{"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := (File{Path: p}).Load(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestEmptyPathNeverExists(t *testing.T) {
	if ok, err := (File{}).Exists(); ok || err != nil {
		t.Fatalf("expected false/nil, got %v/%v", ok, err)
	}
	if err := (File{}).Write(nil); err == nil {
		t.Fatal("expected error writing with empty path")
	}
}
