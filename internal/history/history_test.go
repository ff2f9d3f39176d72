package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ calls int }

func (f *failingSink) Send(context.Context, Event) error {
	f.calls++
	return errors.New("unreachable")
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventDomainActivated, "a.example.com", map[string]string{"port": "3000"}, nil)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventDomainActivated, e.Type)
	assert.False(t, e.OccurredAt.IsZero())
	assert.Empty(t, e.Error)

	failed := NewEvent(EventProxyCreated, "b.example.com", nil, errors.New("reload failed"))
	assert.Equal(t, "reload failed", failed.Error)
	assert.NotEqual(t, e.ID, failed.ID)
}

func TestRecorderIsBestEffort(t *testing.T) {
	bad := &failingSink{}
	mem := NewMemory(0)
	r := NewRecorder(bad, mem)
	r.Record(context.Background(), NewEvent(EventApplicationStarted, "api", nil, nil))
	assert.Equal(t, 1, bad.calls)
	require.Len(t, mem.Events(), 1)
	assert.Equal(t, []EventType{EventApplicationStarted}, mem.Types())
}

func TestRecorderSurvivesCanceledContext(t *testing.T) {
	mem := NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewRecorder(mem).Record(ctx, NewEvent(EventApplicationStopped, "api", nil, nil))
	assert.Len(t, mem.Events(), 1)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{})
	assert.NoError(t, r.Close())
}

func TestMemoryLimit(t *testing.T) {
	m := NewMemory(2)
	for _, typ := range []EventType{EventDomainCreated, EventDomainActivated, EventDomainRemoved} {
		_ = m.Send(context.Background(), NewEvent(typ, "x", nil, nil))
	}
	assert.Equal(t, []EventType{EventDomainActivated, EventDomainRemoved}, m.Types())
}
