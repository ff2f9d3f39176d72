// Package storetest is a behavioral suite shared by every
// store.Repository implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/store"
)

// Run executes the suite. open must return a fresh, empty repository.
func Run(t *testing.T, open func(t *testing.T) store.Repository) {
	t.Run("EmptyLists", func(t *testing.T) {
		r := open(t)
		apps, err := r.ListApplications(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, apps)
		assert.Empty(t, apps)
		doms, err := r.ListDomains(context.Background())
		require.NoError(t, err)
		assert.Empty(t, doms)
	})
	t.Run("ApplicationUpsertKeepsOrder", func(t *testing.T) { applicationUpsert(t, open(t)) })
	t.Run("ApplicationNotFound", func(t *testing.T) { applicationNotFound(t, open(t)) })
	t.Run("ApplicationValidation", func(t *testing.T) {
		err := open(t).SaveApplication(context.Background(), store.Application{Name: ""})
		assert.True(t, apperr.Is(err, apperr.KindInvalid), "got %v", err)
	})
	t.Run("DomainRoundTrip", func(t *testing.T) { domainRoundTrip(t, open(t)) })
	t.Run("DomainNotFound", func(t *testing.T) {
		r := open(t)
		_, err := r.GetDomain(context.Background(), "missing.example.com")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
		err = r.DeleteDomain(context.Background(), "missing.example.com")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	})
}

func applicationUpsert(t *testing.T, r store.Repository) {
	ctx := context.Background()
	require.NoError(t, r.SaveApplication(ctx, store.Application{Name: "api", Path: "/srv/api", Command: "node server.js", Port: 3000}))
	require.NoError(t, r.SaveApplication(ctx, store.Application{Name: "web", Path: "/srv/web", Command: "npm start", Port: 3001,
		Environment: map[string]string{"NODE_ENV": "production"}}))

	first, err := r.GetApplication(ctx, "api")
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.SaveApplication(ctx, store.Application{Name: "api", Path: "/srv/api", Command: "node server.js", Port: 3005, IsRunning: true, PID: 99}))

	apps, err := r.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "api", apps[0].Name, "upsert must replace in place")
	assert.Equal(t, 3005, apps[0].Port)
	assert.True(t, apps[0].IsRunning)
	assert.Equal(t, 99, apps[0].PID)
	assert.True(t, apps[0].CreatedAt.Equal(first.CreatedAt), "createdAt must survive upsert: %v vs %v", apps[0].CreatedAt, first.CreatedAt)
	assert.True(t, apps[0].UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, "web", apps[1].Name)
	assert.Equal(t, map[string]string{"NODE_ENV": "production"}, apps[1].Environment)
}

func applicationNotFound(t *testing.T, r store.Repository) {
	ctx := context.Background()
	_, err := r.GetApplication(ctx, "ghost")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, r.SaveApplication(ctx, store.Application{Name: "tmp", Command: "sleep 1", Port: 4000}))
	require.NoError(t, r.DeleteApplication(ctx, "tmp"))
	err = r.DeleteApplication(ctx, "tmp")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func domainRoundTrip(t *testing.T, r store.Repository) {
	ctx := context.Background()
	require.NoError(t, r.SaveDomain(ctx, store.Domain{Domain: "a.example.com", TargetPort: 3000, IsActive: true, Application: "api"}))
	require.NoError(t, r.SaveDomain(ctx, store.Domain{Domain: "b.example.com", TargetPort: 3001}))
	require.NoError(t, r.SaveDomain(ctx, store.Domain{Domain: "a.example.com", TargetPort: 3002, IsActive: false}))

	doms, err := r.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, doms, 2)
	assert.Equal(t, "a.example.com", doms[0].Domain)
	assert.Equal(t, 3002, doms[0].TargetPort)
	assert.False(t, doms[0].IsActive)
	assert.Empty(t, doms[0].Application)

	got, err := r.GetDomain(ctx, "b.example.com")
	require.NoError(t, err)
	assert.Equal(t, 3001, got.TargetPort)

	require.NoError(t, r.DeleteDomain(ctx, "a.example.com"))
	doms, err = r.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, doms, 1)
	assert.Equal(t, "b.example.com", doms[0].Domain)
}
