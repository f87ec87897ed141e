// Package repository defines the storage interfaces the client and server
// depend on, implemented by concrete backends.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ListQuery narrows a collection listing.
type ListQuery struct {
	Filter string // backend filter expression, build with Filter
	Sort   string // e.g. "-created" or "navn"
	Expand string // comma separated relation fields
	Fields string
}

// Values renders the non-empty query fields as URL parameters.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	for k, s := range map[string]string{"filter": q.Filter, "sort": q.Sort, "expand": q.Expand, "fields": q.Fields} {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v
}

// CollectionRepository provides CRUD access to backend record collections.
// Records travel as raw JSON and are decoded by the caller.
type CollectionRepository interface {
	// GetFullList returns every record matching q, following pagination.
	GetFullList(ctx context.Context, collection string, q ListQuery) ([]json.RawMessage, error)
	// GetOne loads a single record by id.
	GetOne(ctx context.Context, collection, id string, q ListQuery) (json.RawMessage, error)
	// Create inserts a record and returns the stored version.
	Create(ctx context.Context, collection string, body any, q ListQuery) (json.RawMessage, error)
	// Update patches a record and returns the stored version.
	Update(ctx context.Context, collection, id string, body any, q ListQuery) (json.RawMessage, error)
	// Delete removes a record.
	Delete(ctx context.Context, collection, id string) error
}

// FullList lists a collection and decodes each record into T.
func FullList[T any](ctx context.Context, r CollectionRepository, collection string, q ListQuery) ([]T, error) {
	raws, err := r.GetFullList(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// One loads a single record into T.
func One[T any](ctx context.Context, r CollectionRepository, collection, id string, q ListQuery) (T, error) {
	var v T
	raw, err := r.GetOne(ctx, collection, id, q)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return v, nil
}

// Create inserts body and decodes the stored record into T.
func Create[T any](ctx context.Context, r CollectionRepository, collection string, body any, q ListQuery) (T, error) {
	var v T
	raw, err := r.Create(ctx, collection, body, q)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return v, nil
}

// Update patches record id with body and decodes the stored record into T.
func Update[T any](ctx context.Context, r CollectionRepository, collection, id string, body any, q ListQuery) (T, error) {
	var v T
	raw, err := r.Update(ctx, collection, id, body, q)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return v, nil
}
