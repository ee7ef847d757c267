package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// memDB is the shared state behind the in-memory stores. It enforces the
// same constraints as the Postgres schema.
type memDB struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	byExternal  map[int64]string
	genres      map[string]Genre
	genreByName map[string]string
}

// MemoryCatalogStore is an in-memory CatalogStore for development and tests.
type MemoryCatalogStore struct{ db *memDB }

// MemoryGenreStore is an in-memory GenreStore sharing state with its
// MemoryCatalogStore.
type MemoryGenreStore struct{ db *memDB }

// NewMemory returns a catalog and genre store over the same state.
func NewMemory() (*MemoryCatalogStore, *MemoryGenreStore) {
	db := &memDB{
		entries:     make(map[string]Entry),
		byExternal:  make(map[int64]string),
		genres:      make(map[string]Genre),
		genreByName: make(map[string]string),
	}
	return &MemoryCatalogStore{db: db}, &MemoryGenreStore{db: db}
}

func (s *MemoryCatalogStore) CountAll(context.Context) (int64, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return int64(len(s.db.entries)), nil
}

func (s *MemoryCatalogStore) FindByExternalID(_ context.Context, externalID int64) (Entry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	id, ok := s.db.byExternal[externalID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(s.db.entries[id]), nil
}

func (s *MemoryCatalogStore) FindAllByExternalIDIn(_ context.Context, externalIDs []int64) ([]Entry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []Entry
	seen := make(map[int64]struct{}, len(externalIDs))
	for _, ext := range externalIDs {
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		if id, ok := s.db.byExternal[ext]; ok {
			out = append(out, cloneEntry(s.db.entries[id]))
		}
	}
	return out, nil
}

func (s *MemoryCatalogStore) Search(_ context.Context, q Query) (Page, error) {
	q = q.Normalized()
	s.db.mu.RLock()
	matched := make([]Entry, 0, len(s.db.entries))
	for _, e := range s.db.entries {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}
	s.db.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return q.less(matched[i], matched[j]) })
	out := Page{Total: int64(len(matched)), Page: q.Page, Size: q.Size, Entries: []Entry{}}
	if from := q.offset(); from < len(matched) {
		for _, e := range matched[from:min(from+q.Size, len(matched))] {
			out.Entries = append(out.Entries, cloneEntry(e))
		}
	}
	return out, nil
}

func (s *MemoryCatalogStore) SaveAll(_ context.Context, entries []Entry) ([]Entry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	// Validate the whole batch before touching state.
	claimed := make(map[int64]string, len(entries))
	for i, e := range entries {
		if e.ID != "" {
			if _, ok := s.db.entries[e.ID]; !ok {
				return nil, fmt.Errorf("update show %s: %w", e.ID, ErrNotFound)
			}
		}
		owner, taken := s.db.byExternal[e.ExternalID]
		if taken && owner != e.ID {
			return nil, fmt.Errorf("show %d: %w: tv_shows_tv_show_id_uq", e.ExternalID, ErrConflict)
		}
		if prev, dup := claimed[e.ExternalID]; dup && (prev == "" || prev != e.ID) {
			return nil, fmt.Errorf("show %d repeated in batch at %d: %w", e.ExternalID, i, ErrConflict)
		}
		claimed[e.ExternalID] = e.ID
		for _, g := range e.Genres {
			if _, ok := s.db.genres[g.ID]; !ok {
				return nil, fmt.Errorf("show %d genre %q: %w: tv_show_genres_genre_id_fkey", e.ExternalID, g.Name, ErrConflict)
			}
		}
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		e = cloneEntry(e)
		if e.ID == "" {
			e.ID = uuid.NewString()
		} else if old := s.db.entries[e.ID]; old.ExternalID != e.ExternalID {
			delete(s.db.byExternal, old.ExternalID)
		}
		e.Genres = dedupGenres(e.Genres)
		s.db.entries[e.ID] = e
		s.db.byExternal[e.ExternalID] = e.ID
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *MemoryCatalogStore) Save(ctx context.Context, e Entry) (Entry, error) {
	out, err := s.SaveAll(ctx, []Entry{e})
	if err != nil {
		return Entry{}, err
	}
	return out[0], nil
}

func (s *MemoryGenreStore) FindByNameIn(_ context.Context, names []string) ([]Genre, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []Genre
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if id, ok := s.db.genreByName[key]; ok {
			out = append(out, s.db.genres[id])
		}
	}
	return out, nil
}

func (s *MemoryGenreStore) SaveAll(_ context.Context, genres []Genre) ([]Genre, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	claimed := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		key := strings.ToLower(g.Name)
		if key == "" {
			return nil, fmt.Errorf("genre name is empty: %w", ErrConflict)
		}
		if owner, taken := s.db.genreByName[key]; taken && owner != g.ID {
			return nil, fmt.Errorf("genre %q: %w: genres_name_lower_uq", g.Name, ErrConflict)
		}
		if _, dup := claimed[key]; dup {
			return nil, fmt.Errorf("genre %q repeated in batch: %w", g.Name, ErrConflict)
		}
		claimed[key] = struct{}{}
	}

	out := make([]Genre, 0, len(genres))
	for _, g := range genres {
		if g.ID == "" {
			g.ID = uuid.NewString()
		} else if old, ok := s.db.genres[g.ID]; ok {
			delete(s.db.genreByName, strings.ToLower(old.Name))
		}
		s.db.genres[g.ID] = g
		s.db.genreByName[strings.ToLower(g.Name)] = g.ID
		out = append(out, g)
	}
	return out, nil
}

// Genres returns every stored genre. Used by tests and diagnostics.
func (s *MemoryGenreStore) Genres() []Genre {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]Genre, 0, len(s.db.genres))
	for _, g := range s.db.genres {
		out = append(out, g)
	}
	return out
}

func dedupGenres(in []Genre) []Genre {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]Genre, 0, len(in))
	for _, g := range in {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	return out
}

func cloneEntry(e Entry) Entry {
	if e.ScheduleDays != nil {
		e.ScheduleDays = append([]string(nil), e.ScheduleDays...)
	}
	if e.Genres != nil {
		e.Genres = append([]Genre(nil), e.Genres...)
	}
	return e
}
