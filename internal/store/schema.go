package store

import (
	"regexp"
	"time"

	"github.com/araddon/dateparse"
)

// FieldType is the semantic type a collection declares for a field name.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldBool
	FieldDate
	FieldObject
)

// Schema describes how one collection is keyed and decoded.
// Field declarations apply at every nesting depth of a record.
type Schema struct {
	Key    string
	Fields map[string]FieldType
}

// Schemas maps collection name to its schema.
type Schemas map[string]Schema

const defaultKeyField = "id"

var isoDateTimePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

func baseFields() map[string]FieldType {
	return map[string]FieldType{"timestamp": FieldDate}
}

// DefaultSchemas returns the key table for the application's collections.
// "users" is keyed by email; everything else by id.
func DefaultSchemas() Schemas {
	s := Schemas{}
	for _, name := range []string{
		CollectionProfiles,
		CollectionMedications,
		CollectionScans,
		CollectionChatHistory,
		CollectionInsurancePolicies,
		CollectionSession,
	} {
		s[name] = Schema{Key: defaultKeyField, Fields: baseFields()}
	}
	s[CollectionUsers] = Schema{Key: "email", Fields: baseFields()}
	return s
}

func (s Schemas) lookup(collection string) Schema {
	if schema, ok := s[collection]; ok {
		if schema.Key == "" {
			schema.Key = defaultKeyField
		}
		return schema
	}
	return Schema{Key: defaultKeyField, Fields: baseFields()}
}

// decodeValue reconstitutes declared date fields, recursing into objects and arrays.
func (sc Schema) decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, field := range val {
			if str, ok := field.(string); ok && sc.Fields[k] == FieldDate {
				if t, ok := parseTimestamp(str); ok {
					out[k] = t
					continue
				}
			}
			out[k] = sc.decodeValue(field)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sc.decodeValue(item)
		}
		return out
	default:
		return v
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if !isoDateTimePrefix.MatchString(s) {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	// Zone-less forms are read as UTC.
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
