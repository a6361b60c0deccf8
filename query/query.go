// Package query implements the collection query language shared by the REST
// client, the REST handlers and the realtime hub: a filter tree, a sort list,
// and limit/offset/fields.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultLimit is applied when a query does not set a limit.
	DefaultLimit = 100
	// MaxLimit caps any limit, including "unlimited" (-1).
	MaxLimit = 1000
)

var (
	// ErrInvalidQuery is returned when query parameters cannot be decoded.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUnknownField is returned when a filter or sort references a field
	// that is not queryable.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownOperator is returned for a filter operator outside the supported set.
	ErrUnknownOperator = errors.New("unknown filter operator")
)

// Query describes a read against a collection.
type Query struct {
	Filter Filter   `json:"filter,omitempty"`
	Sort   []string `json:"sort,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// EffectiveLimit resolves the zero and unlimited values against the defaults.
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit == 0:
		return DefaultLimit
	case q.Limit < 0 || q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Encode renders the query as URL parameters.
func (q Query) Encode() url.Values {
	v := url.Values{}
	if len(q.Filter) > 0 {
		b, err := json.Marshal(q.Filter)
		if err == nil {
			v.Set("filter", string(b))
		}
	}
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	return v
}

// Parse decodes URL parameters produced by Encode.
func Parse(v url.Values) (Query, error) {
	var q Query

	if raw := v.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Filter); err != nil {
			return Query{}, fmt.Errorf("%w: filter: %v", ErrInvalidQuery, err)
		}
	}
	if raw := v.Get("sort"); raw != "" {
		q.Sort = splitList(raw)
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < -1 {
			return Query{}, fmt.Errorf("%w: limit %q", ErrInvalidQuery, raw)
		}
		q.Limit = n
	}
	if raw := v.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Query{}, fmt.Errorf("%w: offset %q", ErrInvalidQuery, raw)
		}
		q.Offset = n
	}
	if raw := v.Get("fields"); raw != "" {
		q.Fields = splitList(raw)
	}
	return q, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
