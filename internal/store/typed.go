package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// List reads a collection into typed values.
func List[T any](ctx context.Context, s *RecordStore, collection string) ([]T, error) {
	records, err := s.ListAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := convert(rec, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Get reads one typed record by key.
func Get[T any](ctx context.Context, s *RecordStore, collection, key string) (T, bool, error) {
	var v T
	rec, ok, err := s.GetByKey(ctx, collection, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := convert(rec, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode %s record: %w", collection, err)
	}
	return v, true, nil
}

// Put upserts a typed value.
func Put[T any](ctx context.Context, s *RecordStore, collection string, v T) error {
	var rec Record
	if err := convert(v, &rec); err != nil {
		return fmt.Errorf("failed to encode %s record: %w", collection, err)
	}
	return s.Save(ctx, collection, rec)
}

func convert(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
