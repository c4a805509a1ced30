package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/testutil"
)

type recorder struct {
	mu       sync.Mutex
	events   []string
	seed     map[string]any
	block    chan struct{}
	stopErr  error
	stopped  bool
	statuses []event.Status
}

func (r *recorder) add(s string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) Start(context.Context) error { return nil }

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.stopErr
}

func (r *recorder) RefreshMonitoredEntries(entries map[string]any) {
	r.mu.Lock()
	r.seed = entries
	r.mu.Unlock()
	r.add("refresh")
}

func (r *recorder) DatabaseModified(c database.Change) { r.add(c.Kind.String() + " " + c.Path) }
func (r *recorder) ProcessNews(n event.News)          { r.add("news " + n.Key) }
func (r *recorder) ClearState()                       { r.add("clear") }

func (r *recorder) ProcessStatus(s event.Status, _ string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
	r.add("status")
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newDB(t *testing.T) *database.Database {
	t.Helper()
	db := database.New()
	require.NoError(t, db.Register("root/a", 1))
	require.NoError(t, db.Register("root/b", 2))
	return db
}

func TestRelay_RoutesEvents(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	relay := NewRelay(ctx)
	all, onlyA := &recorder{}, &recorder{}
	require.NoError(t, relay.Add(ctx, "all", all, nil))
	require.NoError(t, relay.Add(ctx, "a", onlyA, []string{"root/a"}))

	relay.Attach(db)
	require.NoError(t, db.SetValue("root/b", 3))
	require.NoError(t, db.Register("root/c", 0))
	relay.News(event.News{Key: "root/a", Value: 5})
	relay.News(event.News{Key: "root/b", Value: 3})
	relay.Status(event.Running, "")
	relay.Clear()
	require.NoError(t, relay.Stop())

	assert.Equal(t, []string{"refresh", "added root/c", "news root/a", "news root/b", "status", "clear"}, all.Events())
	assert.Equal(t, []string{"refresh", "added root/c", "news root/a", "status", "clear"}, onlyA.Events())
	assert.Equal(t, map[string]any{"root/a": 1}, onlyA.seed)
	assert.Equal(t, map[string]any{"root/a": 1, "root/b": 2}, all.seed)
	assert.True(t, all.stopped)
	assert.Equal(t, []event.Status{event.Running}, all.statuses)
}

func TestRelay_SlowMonitorDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(ctx, WithQueueSize(2))
	slow := &recorder{block: make(chan struct{})}
	require.NoError(t, relay.Add(ctx, "slow", slow, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			relay.News(event.News{Key: "root/a", Value: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing news blocked on a slow monitor")
	}
	close(slow.block)
	require.NoError(t, relay.Stop())

	delivered := len(slow.Events())
	assert.GreaterOrEqual(t, delivered, 1)
	assert.Equal(t, uint64(50-delivered), relay.Dropped("slow"))
}

func TestRelay_StopJoinsErrors(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(ctx)
	require.NoError(t, relay.Add(ctx, "x", &recorder{stopErr: errors.New("disk full")}, nil))
	require.NoError(t, relay.Add(ctx, "y", &recorder{}, nil))

	err := relay.Stop()

	assert.ErrorContains(t, err, `stopping monitor "x": disk full`)
	assert.NoError(t, relay.Stop())
	assert.ErrorIs(t, relay.Add(ctx, "z", &recorder{}, nil), ErrRelayStopped)
}

func TestRelay_StopAbandonsStuckMonitor(t *testing.T) {
	ctx := context.Background()
	relay := NewRelay(ctx, WithDrainTimeout(50*time.Millisecond))
	stuck := &recorder{block: make(chan struct{})}
	defer close(stuck.block)
	healthy := &recorder{}
	require.NoError(t, relay.Add(ctx, "stuck", stuck, nil))
	require.NoError(t, relay.Add(ctx, "healthy", healthy, nil))
	relay.News(event.News{Key: "root/a", Value: 1})

	start := time.Now()
	err := relay.Stop()

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, ErrMonitorAbandoned)
	assert.ErrorContains(t, err, `monitor "stuck"`)
	assert.NotContains(t, err.Error(), `"healthy"`)
	healthy.mu.Lock()
	assert.True(t, healthy.stopped)
	healthy.mu.Unlock()
}

func TestText(t *testing.T) {
	var out testutil.SafeBuffer
	m := NewText(&out)
	m.RefreshMonitoredEntries(map[string]any{"root/loop_index": 0, "root/loop/x_value": 1.5})
	m.ProcessNews(event.News{Key: "root/loop_index", Value: 3})
	m.DatabaseModified(database.Change{Kind: database.EntryRemoved, Path: "root/loop/x_value"})
	m.DatabaseModified(database.Change{Kind: database.EntryAdded, Path: "root/y", Value: "on"})
	m.ProcessStatus(event.Completed, "Measure succeeded")

	require.NoError(t, m.Stop())

	assert.Equal(t, "status: COMPLETED (Measure succeeded)\n"+
		"root/loop_index = 3\n"+
		"root/y          = on\n"+
		"(1 updates)\n", out.String())
}
