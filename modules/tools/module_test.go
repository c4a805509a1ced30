package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/registry"
)

func TestModule_Register(t *testing.T) {
	r := registry.New()
	(&Module{DateLayout: "2006-01-02"}).Register(r)

	assert.Contains(t, r.Checks, check.InternalID)
	h, ok := r.Header(header.DateID)
	require.True(t, ok)
	text, err := h.BuildHeader(context.Background(), header.Info{Start: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text, "2024-03-01"), text)
	_, ok = r.Header(header.MeasureID)
	assert.True(t, ok)
}
