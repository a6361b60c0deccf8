package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filter is a filter tree in the collection filter syntax:
//
//	{"field": {"_op": value}, "_and": [...], "_or": [...]}
//
// A field whose value is not an operator object is a nested filter on a
// related record, e.g. {"user_created": {"id": {"_eq": "..."}}}.
type Filter map[string]any

var operators = map[string]bool{
	"_eq": true, "_neq": true,
	"_gt": true, "_gte": true, "_lt": true, "_lte": true,
	"_in": true, "_nin": true,
	"_contains": true,
	"_null":     true, "_nnull": true,
}

// Field builds a single-condition filter.
func Field(path, op string, value any) Filter {
	parts := strings.Split(path, ".")
	var node Filter = Filter{parts[len(parts)-1]: map[string]any{op: value}}
	for i := len(parts) - 2; i >= 0; i-- {
		node = Filter{parts[i]: map[string]any(node)}
	}
	return node
}

// And combines filters with _and, skipping empty ones.
func And(filters ...Filter) Filter {
	nonEmpty := make([]any, 0, len(filters))
	for _, f := range filters {
		if len(f) > 0 {
			nonEmpty = append(nonEmpty, map[string]any(f))
		}
	}
	switch len(nonEmpty) {
	case 0:
		return nil
	case 1:
		return Filter(nonEmpty[0].(map[string]any))
	default:
		return Filter{"_and": nonEmpty}
	}
}

// Validate checks operators and asks allowed whether each dotted field path
// may be filtered on.
func (f Filter) Validate(allowed func(path string) bool) error {
	return validateNode(f, "", allowed)
}

func validateNode(node map[string]any, prefix string, allowed func(string) bool) error {
	for key, val := range node {
		switch key {
		case "_and", "_or":
			list, ok := asList(val)
			if !ok {
				return fmt.Errorf("%w: %s expects an array", ErrInvalidQuery, key)
			}
			for _, item := range list {
				sub, ok := asMap(item)
				if !ok {
					return fmt.Errorf("%w: %s entries must be objects", ErrInvalidQuery, key)
				}
				if err := validateNode(sub, prefix, allowed); err != nil {
					return err
				}
			}
		default:
			if strings.HasPrefix(key, "_") {
				return fmt.Errorf("%w: %s", ErrUnknownOperator, key)
			}
			cond, ok := asMap(val)
			if !ok {
				return fmt.Errorf("%w: condition on %s must be an object", ErrInvalidQuery, key)
			}
			path := joinPath(prefix, key)
			if isOperatorMap(cond) {
				if allowed != nil && !allowed(path) {
					return fmt.Errorf("%w: %s", ErrUnknownField, path)
				}
				for op := range cond {
					if !operators[op] {
						return fmt.Errorf("%w: %s", ErrUnknownOperator, op)
					}
				}
				continue
			}
			if err := validateNode(cond, path, allowed); err != nil {
				return err
			}
		}
	}
	return nil
}

// Match reports whether a record decoded from JSON satisfies the filter.
// An empty filter matches everything.
func (f Filter) Match(record map[string]any) bool {
	return matchNode(f, record)
}

func matchNode(node map[string]any, record map[string]any) bool {
	for key, val := range node {
		switch key {
		case "_and":
			list, _ := asList(val)
			for _, item := range list {
				sub, ok := asMap(item)
				if !ok || !matchNode(sub, record) {
					return false
				}
			}
		case "_or":
			list, _ := asList(val)
			matched := false
			for _, item := range list {
				if sub, ok := asMap(item); ok && matchNode(sub, record) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			cond, ok := asMap(val)
			if !ok {
				return false
			}
			if isOperatorMap(cond) {
				if !matchOps(cond, relationKey(record[key])) {
					return false
				}
				continue
			}
			nested, ok := record[key].(map[string]any)
			if !ok || !matchNode(cond, nested) {
				return false
			}
		}
	}
	return true
}

// relationKey reduces an embedded related record to its id, so
// {"user_created": {"_eq": id}} matches an expanded author.
func relationKey(v any) any {
	if m, ok := v.(map[string]any); ok {
		if id, ok := m["id"]; ok {
			return id
		}
	}
	return v
}

func matchOps(cond map[string]any, value any) bool {
	for op, arg := range cond {
		var ok bool
		switch op {
		case "_eq":
			ok = equal(value, arg)
		case "_neq":
			ok = !equal(value, arg)
		case "_gt", "_gte", "_lt", "_lte":
			c, comparable := compare(value, arg)
			if comparable {
				switch op {
				case "_gt":
					ok = c > 0
				case "_gte":
					ok = c >= 0
				case "_lt":
					ok = c < 0
				default:
					ok = c <= 0
				}
			}
		case "_in", "_nin":
			list, _ := asList(arg)
			found := false
			for _, item := range list {
				if equal(value, item) {
					found = true
					break
				}
			}
			ok = found == (op == "_in")
		case "_contains":
			s, isStr := value.(string)
			sub, argStr := arg.(string)
			ok = isStr && argStr && strings.Contains(s, sub)
		case "_null":
			ok = (value == nil) == truthy(arg)
		case "_nnull":
			ok = (value != nil) == truthy(arg)
		}
		if !ok {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, ok := compare(a, b)
	return ok && c == 0
}

// compare orders numbers numerically, timestamps chronologically and other
// strings lexically.
func compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt), true
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 0, false
		}
		return 0, true
	}
	return 0, false
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	case float64:
		return x != 0
	}
	return v != nil
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "_") || k == "_and" || k == "_or" {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case Filter:
		return x, true
	}
	return nil, false
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []Filter:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
