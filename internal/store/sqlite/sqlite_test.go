package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/vpsman/internal/store"
	"github.com/loykin/vpsman/internal/store/storetest"
)

func TestRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		db, err := New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.SaveApplication(ctx, store.Application{Name: "api", Command: "node a.js", Port: 3000,
		Environment: map[string]string{"A": "1"}}))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	app, err := db.GetApplication(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, 3000, app.Port)
	assert.Equal(t, "1", app.Environment["A"])
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
