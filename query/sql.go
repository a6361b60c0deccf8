package query

import (
	"fmt"
	"strings"
	"time"
)

// Column maps a queryable field path to a SQL column.
type Column struct {
	Name string
	// Time marks timestamp columns; string filter values are parsed as RFC 3339.
	Time bool
}

// Columns is the whitelist of queryable fields of a collection.
type Columns map[string]Column

// Allowed reports whether path is a known field.
func (c Columns) Allowed(path string) bool {
	_, ok := c[path]
	return ok
}

// WhereSQL translates the filter into a SQL condition with positional
// arguments. An empty filter yields an empty condition.
func (f Filter) WhereSQL(cols Columns) (string, []any, error) {
	if len(f) == 0 {
		return "", nil, nil
	}
	if err := f.Validate(cols.Allowed); err != nil {
		return "", nil, err
	}
	return whereNode(f, "", cols)
}

func whereNode(node map[string]any, prefix string, cols Columns) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	for _, key := range sortedKeys(node) {
		val := node[key]
		switch key {
		case "_and", "_or":
			list, _ := asList(val)
			var sub []string
			for _, item := range list {
				m, _ := asMap(item)
				s, a, err := whereNode(m, prefix, cols)
				if err != nil {
					return "", nil, err
				}
				if s != "" {
					sub = append(sub, s)
					args = append(args, a...)
				}
			}
			if len(sub) > 0 {
				sep := " AND "
				if key == "_or" {
					sep = " OR "
				}
				parts = append(parts, "("+strings.Join(sub, sep)+")")
			}
		default:
			cond, _ := asMap(val)
			path := joinPath(prefix, key)
			if !isOperatorMap(cond) {
				s, a, err := whereNode(cond, path, cols)
				if err != nil {
					return "", nil, err
				}
				if s != "" {
					parts = append(parts, s)
					args = append(args, a...)
				}
				continue
			}
			col := cols[path]
			for _, op := range sortedKeys(cond) {
				s, a, err := opSQL(col, op, cond[op])
				if err != nil {
					return "", nil, fmt.Errorf("%s: %w", path, err)
				}
				parts = append(parts, s)
				args = append(args, a...)
			}
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

func opSQL(col Column, op string, arg any) (string, []any, error) {
	switch op {
	case "_null":
		if truthy(arg) {
			return col.Name + " IS NULL", nil, nil
		}
		return col.Name + " IS NOT NULL", nil, nil
	case "_nnull":
		if truthy(arg) {
			return col.Name + " IS NOT NULL", nil, nil
		}
		return col.Name + " IS NULL", nil, nil
	case "_in", "_nin":
		list, ok := asList(arg)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s expects an array", ErrInvalidQuery, op)
		}
		values := make([]any, 0, len(list))
		for _, item := range list {
			v, err := sqlValue(col, item)
			if err != nil {
				return "", nil, err
			}
			values = append(values, v)
		}
		if op == "_in" {
			return col.Name + " IN ?", []any{values}, nil
		}
		return col.Name + " NOT IN ?", []any{values}, nil
	case "_contains":
		s, ok := arg.(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: _contains expects a string", ErrInvalidQuery)
		}
		// instr matches bytes exactly, the way Filter.Match does; LIKE would
		// fold ASCII case
		return "instr(" + col.Name + ", ?) > 0", []any{s}, nil
	}

	v, err := sqlValue(col, arg)
	if err != nil {
		return "", nil, err
	}
	if v == nil {
		switch op {
		case "_eq":
			return col.Name + " IS NULL", nil, nil
		case "_neq":
			return col.Name + " IS NOT NULL", nil, nil
		}
	}
	sym := map[string]string{
		"_eq": "=", "_neq": "<>",
		"_gt": ">", "_gte": ">=", "_lt": "<", "_lte": "<=",
	}[op]
	if sym == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
	return col.Name + " " + sym + " ?", []any{v}, nil
}

func sqlValue(col Column, v any) (any, error) {
	if !col.Time {
		return v, nil
	}
	switch x := v.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a timestamp", ErrInvalidQuery, x)
		}
		return t.UTC(), nil
	case time.Time:
		return x.UTC(), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %v is not a timestamp", ErrInvalidQuery, v)
}

// OrderSQL translates sort entries ("field" or "-field") into an ORDER BY
// clause body.
func OrderSQL(sortFields []string, cols Columns) (string, error) {
	parts := make([]string, 0, len(sortFields))
	for _, s := range sortFields {
		dir := "ASC"
		if strings.HasPrefix(s, "-") {
			dir = "DESC"
			s = s[1:]
		}
		col, ok := cols[s]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, s)
		}
		parts = append(parts, col.Name+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}
