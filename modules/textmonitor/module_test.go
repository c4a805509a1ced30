package textmonitor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestModule_New(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	m := &Module{Out: &out}

	mon, err := m.New(ctx, nil)
	require.NoError(t, err)
	mon.DatabaseModified(database.Change{Kind: database.EntryAdded, Path: "root/loop_index", Value: 1.0})
	require.NoError(t, mon.Stop())
	assert.Contains(t, out.String(), "root/loop_index")

	path := filepath.Join(t.TempDir(), "table.txt")
	mon, err = m.New(ctx, map[string]cty.Value{"path": cty.StringVal(path)})
	require.NoError(t, err)
	_, isObserver := mon.(monitor.StatusObserver)
	assert.True(t, isObserver)
	mon.DatabaseModified(database.Change{Kind: database.EntryAdded, Path: "root/voltage", Value: 2.0})
	require.NoError(t, mon.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "root/voltage")
}

func TestModule_New_RejectsUnknownAttributes(t *testing.T) {
	_, err := (&Module{}).New(context.Background(), map[string]cty.Value{"colour": cty.StringVal("red")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported attributes: colour")
}

func TestModule_Register(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	assert.Contains(t, r.Monitors, monitor.TextKind)
}
