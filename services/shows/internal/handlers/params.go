package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/tvshows-platform/services/shows/internal/store"
)

// paramError names the query parameter that failed to parse or validate.
type paramError struct {
	param  string
	reason string
}

func (e *paramError) Error() string { return fmt.Sprintf("invalid %s: %s", e.param, e.reason) }

func (e *paramError) details() map[string]any {
	return map[string]any{"param": e.param, "reason": e.reason}
}

// listParams carries the bounds checked by the validator after parsing.
type listParams struct {
	Page      int      `param:"page" validate:"gte=0"`
	Size      int      `param:"size" validate:"gte=1,lte=100"`
	SortBy    string   `param:"sort_by" validate:"omitempty,oneof=id name rating premiered"`
	SortOrder string   `param:"sort_order" validate:"omitempty,oneof=asc desc"`
	MinRating *float64 `param:"min_rating" validate:"omitempty,gte=0,lte=10"`
	MaxRating *float64 `param:"max_rating" validate:"omitempty,gte=0,lte=10"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string { return f.Tag.Get("param") })
	return v
}()

func check(p listParams) *paramError {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &paramError{param: fe.Field(), reason: reason}
	}
	return &paramError{param: "query", reason: err.Error()}
}

func parseInt(vals map[string][]string, name string, def int) (int, *paramError) {
	raw := strings.TrimSpace(first(vals, name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{param: name, reason: "not an integer"}
	}
	return n, nil
}

func parseFloat(vals map[string][]string, name string) (*float64, *paramError) {
	raw := strings.TrimSpace(first(vals, name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &paramError{param: name, reason: "not a number"}
	}
	return &f, nil
}

func parseDate(vals map[string][]string, name string) (*time.Time, *paramError) {
	raw := strings.TrimSpace(first(vals, name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, &paramError{param: name, reason: "expected YYYY-MM-DD"}
	}
	return &t, nil
}

func first(vals map[string][]string, name string) string {
	if v := vals[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func parsePaging(r *http.Request) (store.Query, *paramError) {
	vals := r.URL.Query()
	page, bad := parseInt(vals, "page", 0)
	if bad != nil {
		return store.Query{}, bad
	}
	size, bad := parseInt(vals, "size", store.DefaultPageSize)
	if bad != nil {
		return store.Query{}, bad
	}
	if bad := check(listParams{Page: page, Size: size}); bad != nil {
		return store.Query{}, bad
	}
	return store.Query{Page: page, Size: size}, nil
}

func parseListQuery(r *http.Request) (store.Query, *paramError) {
	q, bad := parsePaging(r)
	if bad != nil {
		return store.Query{}, bad
	}
	vals := r.URL.Query()

	p := listParams{
		Page:      q.Page,
		Size:      q.Size,
		SortBy:    strings.ToLower(strings.TrimSpace(first(vals, "sort_by"))),
		SortOrder: strings.ToLower(strings.TrimSpace(first(vals, "sort_order"))),
	}
	if p.MinRating, bad = parseFloat(vals, "min_rating"); bad != nil {
		return store.Query{}, bad
	}
	if p.MaxRating, bad = parseFloat(vals, "max_rating"); bad != nil {
		return store.Query{}, bad
	}
	if bad := check(p); bad != nil {
		return store.Query{}, bad
	}
	if p.MinRating != nil && p.MaxRating != nil && *p.MinRating > *p.MaxRating {
		return store.Query{}, &paramError{param: "min_rating", reason: "greater than max_rating"}
	}

	if q.PremieredFrom, bad = parseDate(vals, "premiered"); bad != nil {
		return store.Query{}, bad
	}
	if q.EndedBy, bad = parseDate(vals, "ended"); bad != nil {
		return store.Query{}, bad
	}
	for _, raw := range splitList(vals["ids"]) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return store.Query{}, &paramError{param: "ids", reason: "expected positive integers"}
		}
		q.ExternalIDs = append(q.ExternalIDs, id)
	}

	q.Name = first(vals, "name")
	q.Summary = first(vals, "description")
	q.Status = first(vals, "status")
	q.Language = first(vals, "language")
	q.Genres = splitList(vals["genres"])
	q.MinRating, q.MaxRating = p.MinRating, p.MaxRating
	q.SortBy = p.SortBy
	q.Desc = p.SortOrder == "desc"
	return q, nil
}
