package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the catalog tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mapErr translates constraint violations into ErrConflict.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503":
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresCatalogStore is the production Postgres-backed CatalogStore.
type PostgresCatalogStore struct {
	db *pgxpool.Pool
}

func NewPostgresCatalogStore(db *pgxpool.Pool) *PostgresCatalogStore {
	return &PostgresCatalogStore{db: db}
}

const entryColumns = `id, tv_show_id, name, type, language, status, runtime, average_runtime, premiered, ended,
official_site, rating, schedule_time, schedule_days, tvrage_id, thetvdb_id, imdb_id, image_medium,
image_original, summary, url, upstream_updated`

func (s *PostgresCatalogStore) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM tv_shows`).Scan(&n); err != nil {
		return 0, mapErr("count shows", err)
	}
	return n, nil
}

func (s *PostgresCatalogStore) FindByExternalID(ctx context.Context, externalID int64) (Entry, error) {
	out, err := s.FindAllByExternalIDIn(ctx, []int64{externalID})
	if err != nil {
		return Entry{}, err
	}
	if len(out) == 0 {
		return Entry{}, ErrNotFound
	}
	return out[0], nil
}

func (s *PostgresCatalogStore) FindAllByExternalIDIn(ctx context.Context, externalIDs []int64) ([]Entry, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM tv_shows WHERE tv_show_id = ANY($1)`, externalIDs)
	if err != nil {
		return nil, mapErr("query shows", err)
	}
	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadGenres(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ExternalID, &e.Name, &e.Type, &e.Language, &e.Status, &e.Runtime,
			&e.AverageRuntime, &e.Premiered, &e.Ended, &e.OfficialSite, &e.Rating, &e.ScheduleTime,
			&e.ScheduleDays, &e.TVRageID, &e.TheTVDBID, &e.IMDbID, &e.ImageMedium, &e.ImageOriginal,
			&e.Summary, &e.URL, &e.UpstreamUpdated); err != nil {
			return nil, mapErr("scan show", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate shows", err)
	}
	return out, nil
}

var sortColumns = map[string]string{
	SortByID:        "tv_show_id",
	SortByName:      "lower(name)",
	SortByRating:    "rating",
	SortByPremiered: "premiered",
}

// searchWhere renders the filters of a normalized q as a WHERE clause.
func searchWhere(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if q.Name != "" {
		add("name ILIKE ?", "%"+escapeLike(q.Name)+"%")
	}
	if q.Summary != "" {
		add("summary ILIKE ?", "%"+escapeLike(q.Summary)+"%")
	}
	if q.Status != "" {
		add("lower(status) = lower(?)", q.Status)
	}
	if q.Language != "" {
		add("lower(language) = lower(?)", q.Language)
	}
	if q.PremieredFrom != nil {
		add("premiered >= ?", *q.PremieredFrom)
	}
	if q.EndedBy != nil {
		add("ended <= ?", *q.EndedBy)
	}
	if q.MinRating != nil {
		add("rating >= ?", *q.MinRating)
	}
	if q.MaxRating != nil {
		add("rating <= ?", *q.MaxRating)
	}
	if len(q.ExternalIDs) > 0 {
		add("tv_show_id = ANY(?)", q.ExternalIDs)
	}
	if len(q.Genres) > 0 {
		add(`EXISTS (SELECT 1 FROM tv_show_genres sg JOIN genres g ON g.id = sg.genre_id
WHERE sg.tv_show_id = tv_shows.id AND lower(g.name) = ANY(?))`, q.Genres)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func (s *PostgresCatalogStore) Search(ctx context.Context, q Query) (Page, error) {
	q = q.Normalized()
	where, args := searchWhere(q)
	out := Page{Page: q.Page, Size: q.Size, Entries: []Entry{}}

	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM tv_shows`+where, args...).Scan(&out.Total); err != nil {
		return Page{}, mapErr("count search", err)
	}
	if out.Total == 0 || int64(q.offset()) >= out.Total {
		return out, nil
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := fmt.Sprintf(" ORDER BY %s %s NULLS LAST, tv_show_id ASC", sortColumns[q.SortBy], dir)
	args = append(args, q.Size, q.offset())
	sql := `SELECT ` + entryColumns + ` FROM tv_shows` + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, mapErr("search shows", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return Page{}, err
	}
	if err := s.loadGenres(ctx, entries); err != nil {
		return Page{}, err
	}
	if entries != nil {
		out.Entries = entries
	}
	return out, nil
}

func (s *PostgresCatalogStore) loadGenres(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	idx := make(map[string]int, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		idx[e.ID] = i
	}
	rows, err := s.db.Query(ctx, `
SELECT sg.tv_show_id, g.id, g.name
FROM tv_show_genres sg JOIN genres g ON g.id = sg.genre_id
WHERE sg.tv_show_id = ANY($1::uuid[])
ORDER BY g.name`, ids)
	if err != nil {
		return mapErr("query show genres", err)
	}
	defer rows.Close()
	for rows.Next() {
		var showID string
		var g Genre
		if err := rows.Scan(&showID, &g.ID, &g.Name); err != nil {
			return mapErr("scan show genre", err)
		}
		if i, ok := idx[showID]; ok {
			entries[i].Genres = append(entries[i].Genres, g)
		}
	}
	return mapErr("iterate show genres", rows.Err())
}

func (s *PostgresCatalogStore) SaveAll(ctx context.Context, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		saved, err := writeEntry(ctx, tx, e, now)
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr("commit", err)
	}
	return out, nil
}

func (s *PostgresCatalogStore) Save(ctx context.Context, e Entry) (Entry, error) {
	out, err := s.SaveAll(ctx, []Entry{e})
	if err != nil {
		return Entry{}, err
	}
	return out[0], nil
}

func writeEntry(ctx context.Context, q querier, e Entry, now time.Time) (Entry, error) {
	days := e.ScheduleDays
	if days == nil {
		days = []string{}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
		if _, err := q.Exec(ctx, `
INSERT INTO tv_shows (`+entryColumns+`, created_at, updated_at)
VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$23)`,
			e.ID, e.ExternalID, e.Name, e.Type, e.Language, e.Status, e.Runtime, e.AverageRuntime,
			e.Premiered, e.Ended, e.OfficialSite, e.Rating, e.ScheduleTime, days, e.TVRageID,
			e.TheTVDBID, e.IMDbID, e.ImageMedium, e.ImageOriginal, e.Summary, e.URL, e.UpstreamUpdated, now,
		); err != nil {
			return Entry{}, mapErr("insert show", err)
		}
	} else {
		tag, err := q.Exec(ctx, `
UPDATE tv_shows
SET tv_show_id=$2, name=$3, type=$4, language=$5, status=$6, runtime=$7, average_runtime=$8,
    premiered=$9, ended=$10, official_site=$11, rating=$12, schedule_time=$13, schedule_days=$14,
    tvrage_id=$15, thetvdb_id=$16, imdb_id=$17, image_medium=$18, image_original=$19, summary=$20,
    url=$21, upstream_updated=$22, updated_at=$23
WHERE id=$1::uuid`,
			e.ID, e.ExternalID, e.Name, e.Type, e.Language, e.Status, e.Runtime, e.AverageRuntime,
			e.Premiered, e.Ended, e.OfficialSite, e.Rating, e.ScheduleTime, days, e.TVRageID,
			e.TheTVDBID, e.IMDbID, e.ImageMedium, e.ImageOriginal, e.Summary, e.URL, e.UpstreamUpdated, now,
		)
		if err != nil {
			return Entry{}, mapErr("update show", err)
		}
		if tag.RowsAffected() == 0 {
			return Entry{}, fmt.Errorf("update show %s: %w", e.ID, ErrNotFound)
		}
	}

	// Genre associations are replaced wholesale.
	if _, err := q.Exec(ctx, `DELETE FROM tv_show_genres WHERE tv_show_id=$1::uuid`, e.ID); err != nil {
		return Entry{}, mapErr("clear show genres", err)
	}
	if len(e.Genres) > 0 {
		gids := make([]string, 0, len(e.Genres))
		for _, g := range e.Genres {
			gids = append(gids, g.ID)
		}
		if _, err := q.Exec(ctx, `
INSERT INTO tv_show_genres (tv_show_id, genre_id)
SELECT $1::uuid, gid FROM unnest($2::uuid[]) AS gid
ON CONFLICT DO NOTHING`, e.ID, gids); err != nil {
			return Entry{}, mapErr("attach show genres", err)
		}
	}
	return e, nil
}

// PostgresGenreStore is the production Postgres-backed GenreStore.
type PostgresGenreStore struct {
	db *pgxpool.Pool
}

func NewPostgresGenreStore(db *pgxpool.Pool) *PostgresGenreStore {
	return &PostgresGenreStore{db: db}
}

func (s *PostgresGenreStore) FindByNameIn(ctx context.Context, names []string) ([]Genre, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	rows, err := s.db.Query(ctx, `SELECT id, name FROM genres WHERE lower(name) = ANY($1)`, lowered)
	if err != nil {
		return nil, mapErr("query genres", err)
	}
	defer rows.Close()
	var out []Genre
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, mapErr("scan genre", err)
		}
		out = append(out, g)
	}
	return out, mapErr("iterate genres", rows.Err())
}

func (s *PostgresGenreStore) SaveAll(ctx context.Context, genres []Genre) ([]Genre, error) {
	if len(genres) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Genre, 0, len(genres))
	for _, g := range genres {
		if g.ID == "" {
			g.ID = uuid.NewString()
			if _, err := tx.Exec(ctx, `INSERT INTO genres (id, name) VALUES ($1::uuid, $2)`, g.ID, g.Name); err != nil {
				return nil, mapErr("insert genre", err)
			}
		} else if _, err := tx.Exec(ctx, `UPDATE genres SET name=$2 WHERE id=$1::uuid`, g.ID, g.Name); err != nil {
			return nil, mapErr("update genre", err)
		}
		out = append(out, g)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr("commit", err)
	}
	return out, nil
}
