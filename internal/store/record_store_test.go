package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMediums(t *testing.T) map[string]Medium {
	t.Helper()
	sqlite, err := NewSQLiteMedium(filepath.Join(t.TempDir(), "medos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	rdb := NewRedisMedium(mr.Addr(), "")
	t.Cleanup(func() { rdb.Close() })

	return map[string]Medium{
		"memory": NewMemoryMedium(),
		"sqlite": sqlite,
		"redis":  rdb,
	}
}

func newTestStore(t *testing.T, m Medium) *RecordStore {
	t.Helper()
	s := NewRecordStore(m, "", DefaultSchemas(), zap.NewNop())
	require.NoError(t, s.Initialize(context.Background()))
	// Second call must be harmless.
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestRecordStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, m := range newMediums(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			rec := Record{"id": "p1", "name": "Ada"}
			require.NoError(t, s.Save(ctx, CollectionProfiles, rec))
			require.NoError(t, s.Save(ctx, CollectionProfiles, rec))

			all, err := s.ListAll(ctx, CollectionProfiles)
			require.NoError(t, err)
			require.Len(t, all, 1)

			require.NoError(t, s.Save(ctx, CollectionProfiles, Record{"id": "p1", "name": "Grace"}))
			got, ok, err := s.GetByKey(ctx, CollectionProfiles, "p1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Grace", got["name"])
		})
	}
}

func TestRecordStore_NumericKeys(t *testing.T) {
	ctx := context.Background()
	for name, m := range newMediums(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": 1234567, "name": "Metformin"}))
			require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": float64(1234567), "name": "Metformin XR"}))

			all, err := s.ListAll(ctx, CollectionMedications)
			require.NoError(t, err)
			require.Len(t, all, 1, "int and float forms of the same key are one record")

			got, ok, err := s.GetByKey(ctx, CollectionMedications, "1234567")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Metformin XR", got["name"])

			require.NoError(t, s.DeleteByKey(ctx, CollectionMedications, "1234567"))
			_, ok, err = s.GetByKey(ctx, CollectionMedications, "1234567")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRecordStore_PreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryMedium())
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": id}))
	}
	require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": "b", "name": "updated"}))

	all, err := s.ListAll(ctx, CollectionMedications)
	require.NoError(t, err)
	var ids []any
	for _, r := range all {
		ids = append(ids, r["id"])
	}
	assert.Equal(t, []any{"a", "b", "c"}, ids)
	assert.Equal(t, "updated", all[1]["name"])
}

func TestRecordStore_TimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, m := range newMediums(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, s.Save(ctx, CollectionScans, Record{
				"id":        "scan_1",
				"timestamp": when,
				"createdAt": "2024-05-01T10:00:00.000Z",
				"nested": map[string]any{
					"timestamp": "2023-01-02T03:04:05",
					"items":     []any{map[string]any{"timestamp": "2022-12-31T23:59:59Z"}},
				},
				"label": "timestamp",
			}))

			got, ok, err := s.GetByKey(ctx, CollectionScans, "scan_1")
			require.NoError(t, err)
			require.True(t, ok)

			ts, isTime := got["timestamp"].(time.Time)
			require.True(t, isTime, "timestamp should decode to time.Time, got %T", got["timestamp"])
			assert.True(t, when.Equal(ts))
			assert.Equal(t, "2024-05-01T10:00:00.000Z", got["createdAt"])
			assert.Equal(t, "timestamp", got["label"])

			nested := got["nested"].(map[string]any)
			assertTime(t, time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC), nested["timestamp"])
			item := nested["items"].([]any)[0].(map[string]any)
			assertTime(t, time.Date(2022, 12, 31, 23, 59, 59, 0, time.UTC), item["timestamp"])
		})
	}
}

func assertTime(t *testing.T, want time.Time, got any) {
	t.Helper()
	ts, ok := got.(time.Time)
	if assert.True(t, ok, "expected time.Time, got %T", got) {
		assert.True(t, want.Equal(ts), "want %s, got %s", want, ts)
	}
}

func TestRecordStore_NonISOTimestampStaysString(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryMedium())
	require.NoError(t, s.Save(ctx, CollectionChatHistory, Record{"id": "m1", "timestamp": "yesterday"}))

	got, _, err := s.GetByKey(ctx, CollectionChatHistory, "m1")
	require.NoError(t, err)
	assert.Equal(t, "yesterday", got["timestamp"])
}

func TestRecordStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, m := range newMediums(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			// Deleting from a never-written collection is a no-op.
			require.NoError(t, s.DeleteByKey(ctx, CollectionMedications, "nope"))

			require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": "m1"}))
			require.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": "m2"}))
			require.NoError(t, s.DeleteByKey(ctx, CollectionMedications, "m1"))
			require.NoError(t, s.DeleteByKey(ctx, CollectionMedications, "m1"))

			all, err := s.ListAll(ctx, CollectionMedications)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "m2", all[0]["id"])
		})
	}
}

func TestRecordStore_MissingCollectionIsEmpty(t *testing.T) {
	s := newTestStore(t, NewMemoryMedium())
	all, err := s.ListAll(context.Background(), "never_written")
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)

	_, ok, err := s.GetByKey(context.Background(), "never_written", "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordStore_MalformedCollectionReadsEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMedium()
	s := newTestStore(t, m)
	require.NoError(t, m.Update(ctx, DefaultKeyPrefix+CollectionProfiles, func(string, bool) (string, error) {
		return "{not json", nil
	}))

	all, err := s.ListAll(ctx, CollectionProfiles)
	require.NoError(t, err)
	assert.Empty(t, all)

	// The next write replaces the damaged value.
	require.NoError(t, s.Save(ctx, CollectionProfiles, Record{"id": "p1"}))
	raw, err := m.Get(ctx, DefaultKeyPrefix+CollectionProfiles)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1"}]`, raw)
}

func TestRecordStore_SaveRejectsMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryMedium())

	err := s.Save(ctx, CollectionProfiles, Record{"name": "no id"})
	assert.ErrorIs(t, err, ErrMissingKey)

	// users are keyed by email, not id.
	err = s.Save(ctx, CollectionUsers, Record{"id": "u1", "profileId": "p1"})
	assert.ErrorIs(t, err, ErrMissingKey)
	require.NoError(t, s.Save(ctx, CollectionUsers, Record{"email": "a@b.c", "profileId": "p1"}))

	got, ok, err := s.GetByKey(ctx, CollectionUsers, "a@b.c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1", got["profileId"])
}

func TestRecordStore_ClearCollection(t *testing.T) {
	ctx := context.Background()
	for name, m := range newMediums(t) {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			require.NoError(t, s.Save(ctx, CollectionChatHistory, Record{"id": "m1"}))
			require.NoError(t, s.ClearCollection(ctx, CollectionChatHistory))
			require.NoError(t, s.ClearCollection(ctx, CollectionChatHistory))

			_, err := m.Get(ctx, DefaultKeyPrefix+CollectionChatHistory)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecordStore_CustomPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMedium()
	s := NewRecordStore(m, "test_", nil, nil)
	require.NoError(t, s.Save(ctx, CollectionProfiles, Record{"id": "p1"}))

	_, err := m.Get(ctx, "test_profiles")
	require.NoError(t, err)
	_, err = m.Get(ctx, DefaultKeyPrefix+CollectionProfiles)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordStore_ConcurrentSavesAreNotLost(t *testing.T) {
	ctx := context.Background()
	sqlite, err := NewSQLiteMedium(filepath.Join(t.TempDir(), "concurrent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	for name, m := range map[string]Medium{"memory": NewMemoryMedium(), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, m)
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Save(ctx, CollectionMedications, Record{"id": fmt.Sprintf("m%d", i)}))
				}(i)
			}
			wg.Wait()

			all, err := s.ListAll(ctx, CollectionMedications)
			require.NoError(t, err)
			assert.Len(t, all, 20)
		})
	}
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryMedium())

	want := Profile{
		ID:         "p1",
		Name:       "Bio Hacker",
		Age:        20,
		Gender:     "Neutral",
		Country:    "India",
		Conditions: []string{"Optimization Protocol"},
		Role:       RolePatient,
		IsPrimary:  true,
		History:    []HistoryRecord{{ID: "h1", Date: "2024-01-01", HospitalName: "City", Summary: "ok"}},
	}
	require.NoError(t, Put(ctx, s, CollectionProfiles, want))

	got, ok, err := Get[Profile](ctx, s, CollectionProfiles, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = Get[Profile](ctx, s, CollectionProfiles, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	msg := ChatMessage{ID: "m1", Role: "user", Content: "hi", Timestamp: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)}
	require.NoError(t, Put(ctx, s, CollectionChatHistory, msg))
	msgs, err := List[ChatMessage](ctx, s, CollectionChatHistory)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msg.Timestamp.Equal(msgs[0].Timestamp))
}
