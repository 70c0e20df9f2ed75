package detector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipmirror/clipmirror/internal/media"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLister struct {
	mu    sync.Mutex
	calls int
	items []media.Item
	err   error
}

func (l *fakeLister) ListRecent(_ context.Context) ([]media.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]media.Item(nil), l.items...), nil
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type sinkRecorder struct {
	mu    sync.Mutex
	items []media.Item
	ch    chan media.Item
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{ch: make(chan media.Item, 16)}
}

func (r *sinkRecorder) sink(item media.Item) {
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
	select {
	case r.ch <- item:
	default:
	}
}

func (r *sinkRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item.ID)
	}
	return out
}

func (r *sinkRecorder) waitForItem(t *testing.T) media.Item {
	t.Helper()
	select {
	case item := <-r.ch:
		return item
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for detected item")
		return media.Item{}
	}
}

func TestParseWindow(t *testing.T) {
	t.Run("empty bounds mean always active", func(t *testing.T) {
		w, err := ParseWindow("", "")
		require.NoError(t, err)
		assert.True(t, w.Contains(time.Now()))
		assert.Equal(t, "always", w.String())
	})

	t.Run("valid bounds", func(t *testing.T) {
		w, err := ParseWindow("09:30", "18:00")
		require.NoError(t, err)
		assert.Equal(t, "09:30-18:00", w.String())
	})

	t.Run("one sided bounds are rejected", func(t *testing.T) {
		_, err := ParseWindow("09:00", "")
		assert.Error(t, err)
		_, err = ParseWindow("", "18:00")
		assert.Error(t, err)
	})

	t.Run("malformed clock is rejected", func(t *testing.T) {
		_, err := ParseWindow("9am", "18:00")
		assert.Error(t, err)
		_, err = ParseWindow("09:00", "25:61")
		assert.Error(t, err)
	})
}

func TestWindowContains(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 6, 15, hour, minute, 0, 0, time.Local)
	}

	t.Run("normal range with inclusive bounds", func(t *testing.T) {
		w, err := ParseWindow("10:00", "22:00")
		require.NoError(t, err)

		assert.True(t, w.Contains(at(10, 0)))
		assert.True(t, w.Contains(at(15, 30)))
		assert.True(t, w.Contains(at(22, 0)))
		assert.False(t, w.Contains(at(9, 59)))
		assert.False(t, w.Contains(at(22, 1)))
	})

	t.Run("range crossing midnight", func(t *testing.T) {
		w, err := ParseWindow("22:00", "06:00")
		require.NoError(t, err)

		assert.True(t, w.Contains(at(23, 0)))
		assert.True(t, w.Contains(at(3, 0)))
		assert.True(t, w.Contains(at(22, 0)))
		assert.True(t, w.Contains(at(6, 0)))
		assert.False(t, w.Contains(at(12, 0)))
		assert.False(t, w.Contains(at(21, 59)))
	})
}

func TestNewPollerValidation(t *testing.T) {
	rec := newSinkRecorder()

	_, err := NewPoller(PollerConfig{}, nil, rec.sink, setupTestLogger())
	assert.Error(t, err)

	_, err = NewPoller(PollerConfig{}, &fakeLister{}, nil, setupTestLogger())
	assert.Error(t, err)

	_, err = NewPoller(PollerConfig{ActiveStart: "bogus", ActiveEnd: "18:00"}, &fakeLister{}, rec.sink, setupTestLogger())
	assert.Error(t, err)
}

func TestPollerDedup(t *testing.T) {
	lister := &fakeLister{items: []media.Item{
		{ID: "vid-1", Title: "First", SourceURL: "https://source.example/vid-1"},
		{ID: "vid-2", Title: "Second", SourceURL: "https://source.example/vid-2"},
	}}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	p.poll(ctx)
	assert.Equal(t, []string{"vid-1", "vid-2"}, rec.ids())

	// The same listing on the next sweep yields nothing new.
	p.poll(ctx)
	assert.Equal(t, []string{"vid-1", "vid-2"}, rec.ids())

	// A new item shows up alongside the old ones.
	lister.mu.Lock()
	lister.items = append(lister.items, media.Item{ID: "vid-3", Title: "Third", SourceURL: "https://source.example/vid-3"})
	lister.mu.Unlock()

	p.poll(ctx)
	assert.Equal(t, []string{"vid-1", "vid-2", "vid-3"}, rec.ids())
}

func TestPollerSkipsItemsWithoutID(t *testing.T) {
	lister := &fakeLister{items: []media.Item{
		{ID: "", Title: "Nameless"},
		{ID: "ok-1", Title: "Named", SourceURL: "https://source.example/ok-1"},
	}}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err)

	p.poll(context.Background())
	assert.Equal(t, []string{"ok-1"}, rec.ids())
}

func TestPollerActiveHours(t *testing.T) {
	lister := &fakeLister{items: []media.Item{{ID: "vid-1", SourceURL: "https://source.example/vid-1"}}}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{
		ActiveStart: "10:00",
		ActiveEnd:   "11:00",
	}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err)

	p.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	}
	p.poll(context.Background())
	assert.Equal(t, 0, lister.callCount(), "no sweep outside the window")
	assert.Empty(t, rec.ids())

	p.now = func() time.Time {
		return time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)
	}
	p.poll(context.Background())
	assert.Equal(t, 1, lister.callCount())
	assert.Equal(t, []string{"vid-1"}, rec.ids())
}

func TestPollerListerFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("catalog unreachable")}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err)

	p.poll(context.Background())
	assert.Empty(t, rec.ids())
}

func TestPollerStartStop(t *testing.T) {
	lister := &fakeLister{items: []media.Item{{ID: "vid-1", SourceURL: "https://source.example/vid-1"}}}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{Schedule: "@every 1h"}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))

	// The immediate first sweep delivers without waiting for the schedule.
	item := rec.waitForItem(t)
	assert.Equal(t, "vid-1", item.ID)

	assert.Error(t, p.Start(context.Background()), "second start must fail")

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop(), "stop is idempotent")
}

func TestPollerInvalidSchedule(t *testing.T) {
	lister := &fakeLister{}
	rec := newSinkRecorder()

	p, err := NewPoller(PollerConfig{Schedule: "not a schedule"}, lister, rec.sink, setupTestLogger())
	require.NoError(t, err, "schedule is validated at start")

	assert.Error(t, p.Start(context.Background()))
}
