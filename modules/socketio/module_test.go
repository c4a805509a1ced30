package socketio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

type emitted struct {
	event   string
	payload map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(ev string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: ev, payload: args[0].(map[string]any)})
	return nil
}

func TestNew_Attributes(t *testing.T) {
	testCases := []struct {
		name    string
		attrs   map[string]cty.Value
		wantErr string
		check   func(t *testing.T, m *Monitor)
	}{
		{
			name:  "defaults",
			attrs: map[string]cty.Value{"url": cty.StringVal("http://localhost:3000/socket.io/")},
			check: func(t *testing.T, m *Monitor) {
				assert.Equal(t, "/", m.input.Namespace)
				assert.Equal(t, "news", m.input.Event)
				assert.Equal(t, "status", m.input.StatusEvent)
				assert.Equal(t, 10*time.Second, m.timeout)
			},
		},
		{
			name: "overrides",
			attrs: map[string]cty.Value{
				"url":     cty.StringVal("http://localhost:3000/"),
				"event":   cty.StringVal("lab"),
				"timeout": cty.StringVal("250ms"),
			},
			check: func(t *testing.T, m *Monitor) {
				assert.Equal(t, "lab", m.input.Event)
				assert.Equal(t, 250*time.Millisecond, m.timeout)
			},
		},
		{name: "missing url", attrs: nil, wantErr: `missing required attribute "url"`},
		{
			name:    "bad timeout",
			attrs:   map[string]cty.Value{"url": cty.StringVal("http://x/"), "timeout": cty.StringVal("soon")},
			wantErr: "invalid timeout",
		},
		{
			name:    "unknown attribute",
			attrs:   map[string]cty.Value{"url": cty.StringVal("http://x/"), "room": cty.StringVal("a")},
			wantErr: "unsupported attributes: room",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mon, err := New(context.Background(), tc.attrs)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, mon.(*Monitor))
		})
	}
}

func TestMonitor_Payloads(t *testing.T) {
	mon, err := New(context.Background(), map[string]cty.Value{"url": cty.StringVal("http://x/")})
	require.NoError(t, err)
	m := mon.(*Monitor)

	// Nothing is emitted before a connection exists.
	m.ProcessNews(event.News{Key: "root/a", Value: 1.0})

	fake := &fakeEmitter{}
	m.out = fake
	m.RefreshMonitoredEntries(map[string]any{"root/a": 0.0})
	m.DatabaseModified(database.Change{Kind: database.EntryUpdated, Path: "root/a", Value: 1.0})
	m.ProcessNews(event.News{Key: "root/a", Value: 2.0})
	m.ProcessStatus(event.Paused, "")
	m.ClearState()
	require.NoError(t, m.Stop())
	m.ProcessNews(event.News{Key: "root/a", Value: 3.0})

	require.Len(t, fake.events, 5)
	assert.Equal(t, "refresh", fake.events[0].payload["kind"])
	assert.Equal(t, map[string]any{"kind": "updated", "path": "root/a", "value": 1.0}, fake.events[1].payload)
	assert.Equal(t, map[string]any{"kind": "news", "path": "root/a", "value": 2.0}, fake.events[2].payload)
	assert.Equal(t, "status", fake.events[3].event)
	assert.Equal(t, event.Paused.String(), fake.events[3].payload["status"])
	assert.Equal(t, "clear", fake.events[4].payload["kind"])
}

func TestMonitor_StartFailsWithoutServer(t *testing.T) {
	mon, err := New(context.Background(), map[string]cty.Value{
		"url":     cty.StringVal("http://127.0.0.1:1/socket.io/"),
		"timeout": cty.StringVal("500ms"),
	})
	require.NoError(t, err)

	err = mon.Start(context.Background())
	require.Error(t, err)
	require.NoError(t, mon.Stop())
}

func TestModule_Register(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	assert.Contains(t, r.Monitors, Kind)
}
