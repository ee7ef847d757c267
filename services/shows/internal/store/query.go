package store

import (
	"cmp"
	"slices"
	"sort"
	"strings"
	"time"
)

// Sort keys accepted by Query.SortBy.
const (
	SortByID        = "id"
	SortByName      = "name"
	SortByRating    = "rating"
	SortByPremiered = "premiered"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Query selects one page of catalog entries. Zero-valued filters match
// everything. String filters are case-insensitive; Name and Summary match
// substrings. An entry matches Genres when it carries any of them.
type Query struct {
	Name          string
	Summary       string
	Status        string
	Language      string
	Genres        []string
	ExternalIDs   []int64
	PremieredFrom *time.Time
	EndedBy       *time.Time
	MinRating     *float64
	MaxRating     *float64

	SortBy string
	Desc   bool
	Page   int // 0-based
	Size   int
}

// Page is one page of a Query result. Total counts every match.
type Page struct {
	Entries []Entry
	Total   int64
	Page    int
	Size    int
}

// ValidSort reports whether key is a supported SortBy value.
func ValidSort(key string) bool {
	switch key {
	case SortByID, SortByName, SortByRating, SortByPremiered:
		return true
	}
	return false
}

// Normalized returns q with defaults applied and pagination clamped. Genre
// names are lower-cased; list filters are deduped and sorted.
func (q Query) Normalized() Query {
	if !ValidSort(q.SortBy) {
		q.SortBy = SortByID
	}
	if q.Page < 0 {
		q.Page = 0
	}
	switch {
	case q.Size <= 0:
		q.Size = DefaultPageSize
	case q.Size > MaxPageSize:
		q.Size = MaxPageSize
	}
	q.Name = strings.TrimSpace(q.Name)
	q.Summary = strings.TrimSpace(q.Summary)
	q.Status = strings.TrimSpace(q.Status)
	q.Language = strings.TrimSpace(q.Language)
	if len(q.Genres) > 0 {
		seen := make(map[string]struct{}, len(q.Genres))
		genres := make([]string, 0, len(q.Genres))
		for _, g := range q.Genres {
			g = strings.ToLower(strings.TrimSpace(g))
			if _, dup := seen[g]; dup || g == "" {
				continue
			}
			seen[g] = struct{}{}
			genres = append(genres, g)
		}
		sort.Strings(genres)
		q.Genres = genres
	}
	if len(q.Genres) == 0 {
		q.Genres = nil
	}
	if len(q.ExternalIDs) > 0 {
		ids := append([]int64(nil), q.ExternalIDs...)
		slices.Sort(ids)
		q.ExternalIDs = slices.Compact(ids)
	} else {
		q.ExternalIDs = nil
	}
	return q
}

func (q Query) offset() int { return q.Page * q.Size }

// matches applies the filters of a normalized q to e.
func (q Query) matches(e Entry) bool {
	if q.Name != "" && !strings.Contains(strings.ToLower(e.Name), strings.ToLower(q.Name)) {
		return false
	}
	if q.Summary != "" && !strings.Contains(strings.ToLower(e.Summary), strings.ToLower(q.Summary)) {
		return false
	}
	if q.Status != "" && !strings.EqualFold(e.Status, q.Status) {
		return false
	}
	if q.Language != "" && !strings.EqualFold(e.Language, q.Language) {
		return false
	}
	if q.PremieredFrom != nil && (e.Premiered == nil || e.Premiered.Before(*q.PremieredFrom)) {
		return false
	}
	if q.EndedBy != nil && (e.Ended == nil || e.Ended.After(*q.EndedBy)) {
		return false
	}
	if q.MinRating != nil && (e.Rating == nil || *e.Rating < *q.MinRating) {
		return false
	}
	if q.MaxRating != nil && (e.Rating == nil || *e.Rating > *q.MaxRating) {
		return false
	}
	if len(q.ExternalIDs) > 0 {
		if _, ok := slices.BinarySearch(q.ExternalIDs, e.ExternalID); !ok {
			return false
		}
	}
	if len(q.Genres) > 0 {
		found := false
		for _, g := range e.Genres {
			i := sort.SearchStrings(q.Genres, strings.ToLower(g.Name))
			if i < len(q.Genres) && q.Genres[i] == strings.ToLower(g.Name) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// less orders a before b for a normalized q. Nulls sort last in either
// direction; ties fall back to ascending external id.
func (q Query) less(a, b Entry) bool {
	var c int
	switch q.SortBy {
	case SortByName:
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case SortByRating:
		switch {
		case a.Rating == nil && b.Rating == nil:
		case a.Rating == nil:
			return false
		case b.Rating == nil:
			return true
		default:
			c = cmp.Compare(*a.Rating, *b.Rating)
		}
	case SortByPremiered:
		switch {
		case a.Premiered == nil && b.Premiered == nil:
		case a.Premiered == nil:
			return false
		case b.Premiered == nil:
			return true
		default:
			c = a.Premiered.Compare(*b.Premiered)
		}
	default:
		c = cmp.Compare(a.ExternalID, b.ExternalID)
	}
	if q.Desc {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	return a.ExternalID < b.ExternalID
}
