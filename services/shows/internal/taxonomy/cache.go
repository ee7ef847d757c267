// Package taxonomy resolves free-text genre names to stored Genre records.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/tvshows-platform/services/shows/internal/metrics"
	"github.com/example/tvshows-platform/services/shows/internal/store"
)

// Normalize is the canonical form of a genre name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Cache is scoped to one ingestion run. It is the only writer of genre
// records during that run, so each normalized name is created at most once.
type Cache struct {
	store store.GenreStore
	log   *zap.Logger

	mu     sync.Mutex
	byName map[string]store.Genre
}

func New(genres store.GenreStore, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{store: genres, log: log, byName: make(map[string]store.Genre)}
}

// Resolve returns a normalized-name to Genre map for names, creating any
// names the store does not have yet. Empty names are ignored.
func (c *Cache) Resolve(ctx context.Context, names []string) (map[string]store.Genre, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]store.Genre, len(names))
	var missing []string
	pending := make(map[string]struct{})
	for _, n := range names {
		key := Normalize(n)
		if key == "" {
			continue
		}
		if g, ok := c.byName[key]; ok {
			out[key] = g
			continue
		}
		if _, queued := pending[key]; !queued {
			pending[key] = struct{}{}
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	if err := c.load(ctx, missing); err != nil {
		return nil, err
	}
	var create []store.Genre
	for _, key := range missing {
		if _, ok := c.byName[key]; !ok {
			create = append(create, store.Genre{Name: key})
		}
	}
	if len(create) > 0 {
		saved, err := c.store.SaveAll(ctx, create)
		switch {
		case errors.Is(err, store.ErrConflict):
			// Another writer got there first; its rows are authoritative.
			c.log.Warn("genre create conflict, reloading", zap.Int("count", len(create)), zap.Error(err))
			if err := c.load(ctx, missing); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("create genres: %w", err)
		default:
			for _, g := range saved {
				c.byName[Normalize(g.Name)] = g
			}
			metrics.GenresCreated.Add(float64(len(saved)))
			c.log.Debug("genres created", zap.Int("count", len(saved)))
		}
	}

	for _, key := range missing {
		g, ok := c.byName[key]
		if !ok {
			return nil, fmt.Errorf("genre %q could not be resolved", key)
		}
		out[key] = g
	}
	return out, nil
}

// Lookup returns the genres for names from a map produced by Resolve, in
// stable name order without duplicates.
func Lookup(resolved map[string]store.Genre, names []string) []store.Genre {
	seen := make(map[string]struct{}, len(names))
	out := make([]store.Genre, 0, len(names))
	for _, n := range names {
		key := Normalize(n)
		if _, dup := seen[key]; dup {
			continue
		}
		g, ok := resolved[key]
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len is the number of cached genres.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byName)
}

func (c *Cache) load(ctx context.Context, keys []string) error {
	found, err := c.store.FindByNameIn(ctx, keys)
	if err != nil {
		return fmt.Errorf("find genres: %w", err)
	}
	for _, g := range found {
		c.byName[Normalize(g.Name)] = g
	}
	return nil
}
