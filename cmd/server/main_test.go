package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medos.dev/biovault/internal/config"
	"medos.dev/biovault/internal/core"
	"medos.dev/biovault/internal/store"
)

func newExportFixture(t *testing.T) (*core.ProfileService, *store.RecordStore) {
	t.Helper()
	rs := store.NewRecordStore(store.NewMemoryMedium(), "", store.DefaultSchemas(), zap.NewNop())
	require.NoError(t, rs.Initialize(context.Background()))
	return core.NewProfileService(rs, zap.NewNop()), rs
}

func TestWriteExport_EmptyStoreCreatesNothing(t *testing.T) {
	ctx := context.Background()
	profiles, rs := newExportFixture(t)
	path := filepath.Join(t.TempDir(), "export.json")

	err := writeExport(ctx, profiles, path, zap.NewNop())
	require.ErrorIs(t, err, core.ErrNotSignedIn)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	for _, collection := range []string{store.CollectionProfiles, store.CollectionSession} {
		recs, err := rs.ListAll(ctx, collection)
		require.NoError(t, err)
		assert.Empty(t, recs, collection)
	}
}

func TestWriteExport_ActiveProfile(t *testing.T) {
	ctx := context.Background()
	profiles, _ := newExportFixture(t)
	_, _, err := profiles.SignIn(ctx, "user@example.com")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.json")

	require.NoError(t, writeExport(ctx, profiles, path, zap.NewNop()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc core.ExportDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "Google User", doc.Profile.Name)
}

func TestOpenMedium(t *testing.T) {
	m, err := openMedium(config.Config{StoreMedium: config.MediumMemory})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryMedium{}, m)

	_, err = openMedium(config.Config{StoreMedium: "etcd"})
	assert.Error(t, err)
}
