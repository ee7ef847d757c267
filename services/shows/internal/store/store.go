package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict reports a uniqueness or referential violation.
	ErrConflict = errors.New("store: conflict")
	ErrNotFound = errors.New("store: not found")
)

// Genre is a taxonomy record. Names are unique case-insensitively.
type Genre struct {
	ID   string
	Name string
}

// Entry is the local catalog representation of a show. ID is the surrogate
// key owned by the store; ExternalID correlates with the upstream record.
type Entry struct {
	ID             string
	ExternalID     int64
	Name           string
	Type           string
	Language       string
	Status         string
	Runtime        *int
	AverageRuntime *int
	Premiered      *time.Time
	Ended          *time.Time
	OfficialSite   string
	Rating         *float64
	ScheduleTime   string
	ScheduleDays   []string
	TVRageID       *int
	TheTVDBID      *int
	IMDbID         string
	ImageMedium    string
	ImageOriginal  string
	Summary        string
	URL            string
	// UpstreamUpdated is the upstream "updated" epoch seconds.
	UpstreamUpdated int64
	Genres          []Genre
}

// CatalogStore persists catalog entries together with their genre
// associations. Save and SaveAll insert entries with an empty ID and update
// the rest; SaveAll is all-or-nothing.
type CatalogStore interface {
	CountAll(ctx context.Context) (int64, error)
	FindByExternalID(ctx context.Context, externalID int64) (Entry, error)
	FindAllByExternalIDIn(ctx context.Context, externalIDs []int64) ([]Entry, error)
	SaveAll(ctx context.Context, entries []Entry) ([]Entry, error)
	Save(ctx context.Context, e Entry) (Entry, error)
	// Search returns one page of entries matching q, with genres loaded.
	Search(ctx context.Context, q Query) (Page, error)
}

// GenreStore persists taxonomy records. FindByNameIn matches case-insensitively.
type GenreStore interface {
	FindByNameIn(ctx context.Context, names []string) ([]Genre, error)
	SaveAll(ctx context.Context, genres []Genre) ([]Genre, error)
}
