package tvmaze

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/tvshows-platform/services/shows/internal/store"
)

const dateLayout = "2006-01-02"

var validate = validator.New()

// entryRules are the required fields of a catalog entry.
type entryRules struct {
	ExternalID int64  `validate:"gt=0"`
	Name       string `validate:"required"`
}

// ToEntry maps rec to a new catalog entry without genres or surrogate id.
func ToEntry(rec ShowRecord) (store.Entry, error) {
	var e store.Entry
	if err := ApplyToEntry(rec, &e); err != nil {
		return store.Entry{}, err
	}
	return e, nil
}

// ApplyToEntry overwrites every descriptive field of e with rec. The
// surrogate id and genre associations are left alone.
func ApplyToEntry(rec ShowRecord, e *store.Entry) error {
	name := strings.TrimSpace(rec.Name)
	if err := validate.Struct(entryRules{ExternalID: rec.ID, Name: name}); err != nil {
		return fmt.Errorf("%w: show %d: %v", ErrMapping, rec.ID, err)
	}
	premiered, err := parseDate(rec.Premiered)
	if err != nil {
		return fmt.Errorf("%w: show %d premiered: %v", ErrMapping, rec.ID, err)
	}
	ended, err := parseDate(rec.Ended)
	if err != nil {
		return fmt.Errorf("%w: show %d ended: %v", ErrMapping, rec.ID, err)
	}

	e.ExternalID = rec.ID
	e.Name = name
	e.URL = rec.URL
	e.Type = rec.Type
	e.Language = rec.Language
	e.Status = rec.Status
	e.Runtime = rec.Runtime
	e.AverageRuntime = rec.AverageRuntime
	e.Premiered = premiered
	e.Ended = ended
	e.OfficialSite = rec.OfficialSite
	e.Rating = rec.Rating.Average
	e.ScheduleTime = rec.Schedule.Time
	e.ScheduleDays = append([]string(nil), rec.Schedule.Days...)
	e.TVRageID = rec.Externals.TVRage
	e.TheTVDBID = rec.Externals.TheTVDB
	e.IMDbID = rec.Externals.IMDb
	e.ImageMedium, e.ImageOriginal = "", ""
	if rec.Image != nil {
		e.ImageMedium = rec.Image.Medium
		e.ImageOriginal = rec.Image.Original
	}
	e.Summary = rec.Summary
	e.UpstreamUpdated = rec.Updated
	return nil
}

// GenreNames returns the trimmed, non-empty genre names of rec.
func GenreNames(rec ShowRecord) []string {
	out := make([]string, 0, len(rec.Genres))
	for _, g := range rec.Genres {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
