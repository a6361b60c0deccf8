package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/team-chat/query"
)

// Items is a typed handle on a collection. T is the record type the
// collection's JSON decodes into.
type Items[T any] struct {
	c    *Client
	name string
	path string
}

// Collection binds a collection name to a record type. System collections
// prefixed with "directus_" map to their own REST root (directus_users is
// served at /users); others are served under /items/<name>.
func Collection[T any](c *Client, name string) *Items[T] {
	return &Items[T]{c: c, name: name, path: collectionPath(name)}
}

func collectionPath(name string) string {
	if system, ok := strings.CutPrefix(name, "directus_"); ok {
		return "/" + system
	}
	return "/items/" + name
}

// Name returns the collection name.
func (it *Items[T]) Name() string {
	return it.name
}

// ReadMany returns the records matching q.
func (it *Items[T]) ReadMany(ctx context.Context, q query.Query) ([]T, error) {
	data, err := it.c.read(ctx, request{
		method:    http.MethodGet,
		path:      it.path,
		params:    q.Encode(),
		protected: true,
	})
	if err != nil {
		return nil, err
	}
	var out []T
	if err := decode(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", it.name, err)
	}
	return out, nil
}

// ReadOne returns the record with the given id.
func (it *Items[T]) ReadOne(ctx context.Context, id string, fields ...string) (T, error) {
	var out T
	var params url.Values
	if len(fields) > 0 {
		params = url.Values{"fields": {strings.Join(fields, ",")}}
	}
	data, err := it.c.read(ctx, request{
		method:    http.MethodGet,
		path:      it.itemPath(id),
		params:    params,
		protected: true,
	})
	if err != nil {
		return out, err
	}
	if err := decode(data, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", it.name, id, err)
	}
	return out, nil
}

// Create stores a new record and returns it as the backend saved it.
func (it *Items[T]) Create(ctx context.Context, payload any) (T, error) {
	return it.write(ctx, http.MethodPost, it.path, payload)
}

// Update patches a record.
func (it *Items[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return it.write(ctx, http.MethodPatch, it.itemPath(id), payload)
}

// Delete removes a record.
func (it *Items[T]) Delete(ctx context.Context, id string) error {
	_, err := it.c.call(ctx, request{method: http.MethodDelete, path: it.itemPath(id), protected: true})
	return err
}

func (it *Items[T]) write(ctx context.Context, method, path string, payload any) (T, error) {
	var out T
	data, err := it.c.call(ctx, request{method: method, path: path, body: payload, protected: true})
	if err != nil {
		return out, err
	}
	if err := decode(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", it.name, err)
	}
	return out, nil
}

func (it *Items[T]) itemPath(id string) string {
	return it.path + "/" + url.PathEscape(id)
}

func decode(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, out)
}
