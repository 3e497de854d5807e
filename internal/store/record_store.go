package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every collection key on the medium.
const DefaultKeyPrefix = "medos_"

// ErrMissingKey is returned by Save when a record lacks its collection's key field.
var ErrMissingKey = errors.New("record is missing its key field")

// errUnchanged aborts a medium update without writing.
var errUnchanged = errors.New("collection unchanged")

// RecordStore exposes keyed collections of JSON records on top of a Medium.
// Each collection is stored as one JSON array under <prefix><collection>.
type RecordStore struct {
	medium  Medium
	prefix  string
	schemas Schemas
	log     *zap.Logger
}

func NewRecordStore(medium Medium, prefix string, schemas Schemas, logger *zap.Logger) *RecordStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if schemas == nil {
		schemas = DefaultSchemas()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{medium: medium, prefix: prefix, schemas: schemas, log: logger}
}

// Initialize prepares the medium. Safe to call more than once.
func (s *RecordStore) Initialize(ctx context.Context) error {
	if err := s.medium.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	return nil
}

func (s *RecordStore) Close() error {
	return s.medium.Close()
}

func (s *RecordStore) storageKey(collection string) string {
	return s.prefix + collection
}

// ListAll returns every record of a collection with declared date fields decoded.
// Collections that were never written, or whose content cannot be parsed, are empty.
func (s *RecordStore) ListAll(ctx context.Context, collection string) ([]Record, error) {
	raw, err := s.medium.Get(ctx, s.storageKey(collection))
	if errors.Is(err, ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	items := s.parseCollection(collection, raw)
	schema := s.schemas.lookup(collection)
	records := make([]Record, 0, len(items))
	for _, item := range items {
		decoded, _ := schema.decodeValue(map[string]any(item)).(map[string]any)
		records = append(records, Record(decoded))
	}
	return records, nil
}

// GetByKey returns the first record whose key field equals key.
func (s *RecordStore) GetByKey(ctx context.Context, collection, key string) (Record, bool, error) {
	records, err := s.ListAll(ctx, collection)
	if err != nil {
		return nil, false, err
	}
	keyField := s.schemas.lookup(collection).Key
	for _, rec := range records {
		if k, ok := keyOf(rec, keyField); ok && k == key {
			return rec, true, nil
		}
	}
	return nil, false, nil
}

// Save replaces the record with the same key, or appends it, then rewrites the collection.
func (s *RecordStore) Save(ctx context.Context, collection string, record Record) error {
	keyField := s.schemas.lookup(collection).Key
	key, ok := keyOf(record, keyField)
	if !ok {
		return fmt.Errorf("save to %s: %w (%s)", collection, ErrMissingKey, keyField)
	}

	err := s.medium.Update(ctx, s.storageKey(collection), func(current string, exists bool) (string, error) {
		var items []Record
		if exists {
			items = s.parseCollection(collection, current)
		}
		replaced := false
		for i, item := range items {
			if k, ok := keyOf(item, keyField); ok && k == key {
				items[i] = record
				replaced = true
				break
			}
		}
		if !replaced {
			items = append(items, record)
		}
		return encodeCollection(items)
	})
	if err != nil {
		return fmt.Errorf("failed to save to %s: %w", collection, err)
	}
	return nil
}

// DeleteByKey removes the record with the given key. Absent records are a no-op.
func (s *RecordStore) DeleteByKey(ctx context.Context, collection, key string) error {
	keyField := s.schemas.lookup(collection).Key
	err := s.medium.Update(ctx, s.storageKey(collection), func(current string, exists bool) (string, error) {
		if !exists {
			return "", errUnchanged
		}
		items := s.parseCollection(collection, current)
		kept := make([]Record, 0, len(items))
		for _, item := range items {
			if k, ok := keyOf(item, keyField); ok && k == key {
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == len(items) {
			return "", errUnchanged
		}
		return encodeCollection(kept)
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return nil
}

// ClearCollection drops the whole collection from the medium.
func (s *RecordStore) ClearCollection(ctx context.Context, collection string) error {
	if err := s.medium.Delete(ctx, s.storageKey(collection)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	return nil
}

// parseCollection decodes a stored JSON array. Malformed content reads as empty.
func (s *RecordStore) parseCollection(collection, raw string) []Record {
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.log.Warn("discarding malformed collection",
			zap.String("collection", collection),
			zap.Error(err))
		return nil
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			s.log.Warn("skipping non-object entry", zap.String("collection", collection))
			continue
		}
		records = append(records, Record(obj))
	}
	return records
}

func encodeCollection(items []Record) (string, error) {
	if items == nil {
		items = []Record{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode collection: %w", err)
	}
	return string(b), nil
}

func keyOf(rec Record, field string) (string, bool) {
	switch v := rec[field].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), v != ""
	default:
		return "", false
	}
}
