package query

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestQuery_EncodeParseRoundTrip(t *testing.T) {
	q := Query{
		Filter: And(
			Field("date_created", "_gte", "2024-05-01T10:00:00Z"),
			Field("user_created.id", "_eq", "user-1"),
		),
		Sort:   []string{"-date_created", "id"},
		Limit:  25,
		Offset: 50,
		Fields: []string{"*", "user_created.*"},
	}

	got, err := Parse(q.Encode())
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	if !reflect.DeepEqual(got.Sort, q.Sort) {
		t.Errorf("Sort = %v, want %v", got.Sort, q.Sort)
	}
	if got.Limit != q.Limit || got.Offset != q.Offset {
		t.Errorf("Limit/Offset = %d/%d, want %d/%d", got.Limit, got.Offset, q.Limit, q.Offset)
	}
	if !reflect.DeepEqual(got.Fields, q.Fields) {
		t.Errorf("Fields = %v, want %v", got.Fields, q.Fields)
	}

	record := map[string]any{
		"date_created": "2024-05-01T11:00:00Z",
		"user_created": map[string]any{"id": "user-1"},
	}
	if !got.Filter.Match(record) {
		t.Error("decoded filter should match record")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{name: "malformed filter", values: url.Values{"filter": {"{not json"}}},
		{name: "non numeric limit", values: url.Values{"limit": {"ten"}}},
		{name: "limit below -1", values: url.Values{"limit": {"-5"}}},
		{name: "negative offset", values: url.Values{"offset": {"-1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.values)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("Parse() error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}

func TestQuery_EffectiveLimit(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: DefaultLimit},
		{limit: -1, want: MaxLimit},
		{limit: 5000, want: MaxLimit},
		{limit: 20, want: 20},
	}

	for _, tt := range tests {
		if got := (Query{Limit: tt.limit}).EffectiveLimit(); got != tt.want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestFilter_Match(t *testing.T) {
	record := map[string]any{
		"id":           "m-2",
		"text":         "hello team",
		"date_created": "2024-05-01T10:00:00.5Z",
		"user_created": map[string]any{"id": "u-1", "first_name": "Ada"},
		"score":        float64(3),
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "empty filter", filter: nil, want: true},
		{name: "eq", filter: Field("id", "_eq", "m-2"), want: true},
		{name: "neq", filter: Field("id", "_neq", "m-2"), want: false},
		{name: "timestamp gte equal", filter: Field("date_created", "_gte", "2024-05-01T10:00:00.5Z"), want: true},
		{name: "timestamp gt equal", filter: Field("date_created", "_gt", "2024-05-01T10:00:00.5Z"), want: false},
		{name: "timestamp with offset", filter: Field("date_created", "_lt", "2024-05-01T12:00:01+02:00"), want: true},
		{name: "time value", filter: Field("date_created", "_gt", time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)), want: true},
		{name: "numeric int arg", filter: Field("score", "_lte", 3), want: true},
		{name: "contains", filter: Field("text", "_contains", "team"), want: true},
		{name: "contains miss", filter: Field("text", "_contains", "board"), want: false},
		{name: "contains is case sensitive", filter: Field("text", "_contains", "Team"), want: false},
		{name: "in", filter: Field("id", "_in", []any{"m-1", "m-2"}), want: true},
		{name: "nin", filter: Field("id", "_nin", []string{"m-1", "m-2"}), want: false},
		{name: "nested relation", filter: Field("user_created.id", "_eq", "u-1"), want: true},
		{name: "nested relation miss", filter: Field("user_created.id", "_eq", "u-9"), want: false},
		{name: "null on missing field", filter: Field("deleted_at", "_null", true), want: true},
		{name: "nnull on present field", filter: Field("text", "_nnull", true), want: true},
		{
			name:   "and",
			filter: And(Field("id", "_eq", "m-2"), Field("text", "_contains", "nope")),
			want:   false,
		},
		{
			name: "or",
			filter: Filter{"_or": []any{
				map[string]any(Field("id", "_eq", "m-1")),
				map[string]any(Field("id", "_eq", "m-2")),
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(record); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnd(t *testing.T) {
	if got := And(nil, Filter{}); got != nil {
		t.Errorf("And(empty...) = %v, want nil", got)
	}

	single := Field("id", "_eq", "x")
	if got := And(nil, single); !reflect.DeepEqual(got, single) {
		t.Errorf("And(single) = %v, want %v", got, single)
	}

	got := And(single, Field("text", "_eq", "y"))
	list, ok := got["_and"].([]any)
	if !ok || len(list) != 2 {
		t.Errorf("And(two) = %v, want _and with 2 entries", got)
	}
}

func TestFilter_WhereSQL(t *testing.T) {
	cols := Columns{
		"id":              {Name: "id"},
		"text":            {Name: "text"},
		"date_created":    {Name: "date_created", Time: true},
		"user_created.id": {Name: "user_created"},
	}

	t.Run("combined conditions", func(t *testing.T) {
		f := And(
			Field("date_created", "_gte", "2024-05-01T12:00:00+02:00"),
			Field("user_created.id", "_eq", "u-1"),
		)
		sql, args, err := f.WhereSQL(cols)
		if err != nil {
			t.Fatalf("WhereSQL() unexpected error: %v", err)
		}
		want := "(date_created >= ? AND user_created = ?)"
		if sql != want {
			t.Errorf("WhereSQL() sql = %q, want %q", sql, want)
		}
		if len(args) != 2 {
			t.Fatalf("WhereSQL() args = %v, want 2 args", args)
		}
		ts, ok := args[0].(time.Time)
		if !ok || !ts.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) || ts.Location() != time.UTC {
			t.Errorf("WhereSQL() timestamp arg = %v, want UTC 10:00", args[0])
		}
	})

	t.Run("contains is a literal substring test", func(t *testing.T) {
		sql, args, err := Field("text", "_contains", "50%_off").WhereSQL(cols)
		if err != nil {
			t.Fatalf("WhereSQL() unexpected error: %v", err)
		}
		if sql != "instr(text, ?) > 0" {
			t.Errorf("WhereSQL() sql = %q", sql)
		}
		if len(args) != 1 || args[0] != "50%_off" {
			t.Errorf("WhereSQL() args = %v, want the raw needle", args)
		}
	})

	errTests := []struct {
		name   string
		filter Filter
		want   error
	}{
		{name: "unknown field", filter: Field("password", "_eq", "x"), want: ErrUnknownField},
		{name: "unknown operator", filter: Field("id", "_regex", "x"), want: ErrUnknownOperator},
		{name: "bad timestamp", filter: Field("date_created", "_gt", "yesterday"), want: ErrInvalidQuery},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.filter.WhereSQL(cols)
			if !errors.Is(err, tt.want) {
				t.Errorf("WhereSQL() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOrderSQL(t *testing.T) {
	cols := Columns{"date_created": {Name: "date_created"}, "id": {Name: "id"}}

	got, err := OrderSQL([]string{"-date_created", "id"}, cols)
	if err != nil {
		t.Fatalf("OrderSQL() unexpected error: %v", err)
	}
	if want := "date_created DESC, id ASC"; got != want {
		t.Errorf("OrderSQL() = %q, want %q", got, want)
	}

	if _, err := OrderSQL([]string{"secret"}, cols); !errors.Is(err, ErrUnknownField) {
		t.Errorf("OrderSQL() error = %v, want ErrUnknownField", err)
	}
}
