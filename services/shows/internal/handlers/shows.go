// Package handlers serves the read side of the catalog over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/example/tvshows-platform/internal/platform/api"
	"github.com/example/tvshows-platform/internal/platform/httpserver"
	"github.com/example/tvshows-platform/services/shows/internal/cache"
	"github.com/example/tvshows-platform/services/shows/internal/metrics"
	"github.com/example/tvshows-platform/services/shows/internal/store"
)

// Catalog is the read subset of store.CatalogStore.
type Catalog interface {
	Search(ctx context.Context, q store.Query) (store.Page, error)
	FindByExternalID(ctx context.Context, externalID int64) (store.Entry, error)
}

// Shows serves catalog pages. Top-rated and filtered pages are cached under
// TopRatedKey and FilteredKey; a zero TTL disables caching for that view.
type Shows struct {
	Log     *zap.Logger
	Catalog Catalog
	Cache   cache.Pages

	TopRatedKey string
	TopRatedTTL time.Duration
	FilteredKey string
	FilteredTTL time.Duration
}

func (h Shows) Register(r chi.Router) {
	r.Get("/v1/shows", h.list)
	r.Get("/v1/shows/top-rated", h.topRated)
	r.Get("/v1/shows/{external_id}", h.get)
}

const dateLayout = "2006-01-02"

type showResponse struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	Language       string   `json:"language,omitempty"`
	Status         string   `json:"status,omitempty"`
	Rating         *float64 `json:"rating"`
	ImageMedium    string   `json:"image_medium,omitempty"`
	ImageOriginal  string   `json:"image_original,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Genres         []string `json:"genres"`
	ScheduleTime   string   `json:"schedule_time,omitempty"`
	ScheduleDays   []string `json:"schedule_days,omitempty"`
	Runtime        *int     `json:"runtime,omitempty"`
	AverageRuntime *int     `json:"average_runtime,omitempty"`
	Premiered      string   `json:"premiered,omitempty"`
	Ended          string   `json:"ended,omitempty"`
	OfficialSite   string   `json:"official_site,omitempty"`
	TVRage         *int     `json:"tvrage,omitempty"`
	TheTVDB        *int     `json:"thetvdb,omitempty"`
	IMDb           string   `json:"imdb,omitempty"`
	URL            string   `json:"url,omitempty"`
}

type pageResponse struct {
	Items      []showResponse `json:"items"`
	Page       int            `json:"page"`
	Size       int            `json:"size"`
	Total      int64          `json:"total"`
	TotalPages int64          `json:"total_pages"`
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func toShowResponse(e store.Entry) showResponse {
	genres := make([]string, 0, len(e.Genres))
	for _, g := range e.Genres {
		genres = append(genres, g.Name)
	}
	return showResponse{
		ID:             e.ExternalID,
		Name:           e.Name,
		Type:           e.Type,
		Language:       e.Language,
		Status:         e.Status,
		Rating:         e.Rating,
		ImageMedium:    e.ImageMedium,
		ImageOriginal:  e.ImageOriginal,
		Summary:        e.Summary,
		Genres:         genres,
		ScheduleTime:   e.ScheduleTime,
		ScheduleDays:   e.ScheduleDays,
		Runtime:        e.Runtime,
		AverageRuntime: e.AverageRuntime,
		Premiered:      formatDate(e.Premiered),
		Ended:          formatDate(e.Ended),
		OfficialSite:   e.OfficialSite,
		TVRage:         e.TVRageID,
		TheTVDB:        e.TheTVDBID,
		IMDb:           e.IMDbID,
		URL:            e.URL,
	}
}

func toPageResponse(p store.Page) pageResponse {
	items := make([]showResponse, 0, len(p.Entries))
	for _, e := range p.Entries {
		items = append(items, toShowResponse(e))
	}
	var pages int64
	if p.Size > 0 {
		pages = (p.Total + int64(p.Size) - 1) / int64(p.Size)
	}
	return pageResponse{Items: items, Page: p.Page, Size: p.Size, Total: p.Total, TotalPages: pages}
}

// topRated handles GET /v1/shows/top-rated?page=N&size=M
func (h Shows) topRated(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	q, bad := parsePaging(r)
	if bad != nil {
		api.BadRequest(w, "INVALID_QUERY", bad.Error(), rid, bad.details())
		return
	}
	q.SortBy, q.Desc = store.SortByRating, true
	q = q.Normalized()
	key := fmt.Sprintf("%s:page_%d:size_%d", h.TopRatedKey, q.Page, q.Size)
	h.servePage(w, r, "top_rated", key, h.TopRatedTTL, q)
}

// list handles GET /v1/shows with filter, sort and paging parameters.
func (h Shows) list(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	q, bad := parseListQuery(r)
	if bad != nil {
		api.BadRequest(w, "INVALID_QUERY", bad.Error(), rid, bad.details())
		return
	}
	q = q.Normalized()
	key := fmt.Sprintf("%s:page_%d:size_%d:filter_%016x", h.FilteredKey, q.Page, q.Size, filterHash(q))
	h.servePage(w, r, "filtered", key, h.FilteredTTL, q)
}

// get handles GET /v1/shows/{external_id}
func (h Shows) get(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	raw := strings.TrimSpace(chi.URLParam(r, "external_id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.BadRequest(w, "INVALID_ID", "external_id must be a positive integer", rid, nil)
		return
	}
	e, err := h.Catalog.FindByExternalID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		api.NotFound(w, "SHOW_NOT_FOUND", "show not found", rid)
		return
	}
	if err != nil {
		h.Log.Error("find show", zap.Int64("external_id", id), zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	api.WriteJSON(w, http.StatusOK, toShowResponse(e))
}

// servePage answers from the cache when it can, otherwise runs q and caches
// the encoded page. Empty pages answer 404 and are not cached.
func (h Shows) servePage(w http.ResponseWriter, r *http.Request, view, key string, ttl time.Duration, q store.Query) {
	ctx := r.Context()
	rid := httpserver.RequestIDFromContext(ctx)

	if ttl > 0 {
		if body, ok := h.Cache.Get(ctx, key); ok {
			metrics.ReadCacheLookups.WithLabelValues(view, "hit").Inc()
			writeRaw(w, "HIT", body)
			return
		}
		metrics.ReadCacheLookups.WithLabelValues(view, "miss").Inc()
	}

	p, err := h.Catalog.Search(ctx, q)
	if err != nil {
		h.Log.Error("search shows", zap.String("view", view), zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if len(p.Entries) == 0 {
		api.NotFound(w, "SHOWS_NOT_FOUND", "no shows match the query", rid)
		return
	}
	body, err := json.Marshal(toPageResponse(p))
	if err != nil {
		h.Log.Error("encode page", zap.String("view", view), zap.Error(err))
		api.Internal(w, rid)
		return
	}
	if ttl > 0 {
		h.Cache.Set(ctx, key, body, ttl)
	}
	writeRaw(w, "MISS", body)
}

func writeRaw(w http.ResponseWriter, cacheStatus string, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// filterHash fingerprints the filter and sort of a normalized query; paging
// is part of the key itself.
func filterHash(q store.Query) uint64 {
	q.Page, q.Size = 0, 0
	b, err := json.Marshal(q)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
