package task

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

func arrayTree(t *testing.T, tasks ...Task) *RootTask {
	t.Helper()
	root := NewRootTask()
	require.NoError(t, root.AppendChild(NewSimpleTask("src", map[string]any{
		"data":  []any{1.0, 5.0, -2.0, 5.0},
		"table": map[string]any{"volt": []any{0.5, 0.25, 2.0}},
		"x":     []any{0.0, 1.0, 2.0, 3.0, 4.0},
		"y":     []any{1.0, 3.0, 5.0, 7.0, 9.0},
	})))
	for _, child := range tasks {
		require.NoError(t, root.AppendChild(child))
	}
	return root
}

func TestArrayExtrema(t *testing.T) {
	testCases := []struct {
		name   string
		column string
		array  string
		mode   string
		want   map[string]any
	}{
		{
			name:  "max",
			array: "src_data",
			mode:  ExtremaMax,
			want:  map[string]any{"root/ext_max_ind": 1, "root/ext_max_value": 5.0},
		},
		{
			name:  "min",
			array: "src_data",
			mode:  ExtremaMin,
			want:  map[string]any{"root/ext_min_ind": 2, "root/ext_min_value": -2.0},
		},
		{
			name:   "both on a column",
			array:  "src_table",
			column: "volt",
			mode:   ExtremaBoth,
			want: map[string]any{
				"root/ext_max_ind": 2, "root/ext_max_value": 2.0,
				"root/ext_min_ind": 1, "root/ext_min_value": 0.25,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ext := NewArrayExtremaTask("ext", tc.array, tc.column, tc.mode)
			root := arrayTree(t, ext)
			assert.ElementsMatch(t, slices.Collect(maps.Keys(tc.want)), entryPaths(ext))

			rt := NewRuntime(root.Database(), nil, nil)
			passed, report := root.Check(context.Background(), rt)
			require.True(t, passed, report)
			require.NoError(t, root.Run(context.Background(), rt))

			for path, want := range tc.want {
				got, err := root.Database().GetValue(path)
				require.NoError(t, err)
				assert.Equal(t, want, got, path)
			}
		})
	}
}

func entryPaths(t Task) []string {
	var out []string
	for entry := range t.DatabaseEntries() {
		out = append(out, EntryPath(t, entry))
	}
	return out
}

func TestArrayExtrema_Check(t *testing.T) {
	root := arrayTree(t,
		NewArrayExtremaTask("mode", "src_data", "", "Median"),
		NewArrayExtremaTask("nocol", "src_data", "volt", ExtremaMax),
		NewArrayExtremaTask("needcol", "src_table", "", ExtremaMin),
		NewArrayExtremaTask("missing", "nowhere", "", ExtremaMin),
	)

	passed, report := root.Check(context.Background(), NewRuntime(root.Database(), nil, nil))

	assert.False(t, passed)
	assert.ElementsMatch(t, []string{"root/mode-mode", "root/nocol", "root/needcol", "root/missing"},
		slices.Collect(maps.Keys(report)))
	assert.Contains(t, report["root/nocol"], "has no columns")
}

func TestArrayFindValue(t *testing.T) {
	find := NewArrayFindValueTask("find", "src_data", "", "src_data[0] + 4")
	root := arrayTree(t, find)
	rt := NewRuntime(root.Database(), nil, nil)

	passed, report := root.Check(context.Background(), rt)
	require.True(t, passed, report)
	require.NoError(t, root.Run(context.Background(), rt))

	idx, err := root.Database().GetValue("root/find_index")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestArrayFindValue_NotFound(t *testing.T) {
	root := arrayTree(t, NewArrayFindValueTask("find", "src_table", "volt", "3"))

	err := root.Run(context.Background(), NewRuntime(root.Database(), nil, nil))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "root/find", execErr.Task)
	assert.ErrorContains(t, err, "could not find 3")
}

func TestArrayFindValue_Check(t *testing.T) {
	root := arrayTree(t,
		NewArrayFindValueTask("badvalue", "src_data", "", "unknown + 1"),
		NewArrayFindValueTask("badarray", "nowhere", "", "1"),
		NewArrayFindValueTask("badcolumn", "src_table", "current", "1"),
	)

	passed, report := root.Check(context.Background(), NewRuntime(root.Database(), nil, nil))

	assert.False(t, passed)
	assert.ElementsMatch(t, []string{"root/badvalue-value", "root/badarray-array", "root/badcolumn-column"},
		slices.Collect(maps.Keys(report)))
}

func TestArrayFit(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
		guess      string
		want       []float64
	}{
		{name: "line", expression: "param[0] * x + param[1]", want: []float64{2, 1}},
		{name: "with guess", expression: "param[1] + x * param[0]", guess: "[1.5, 0.5]", want: []float64{2, 1}},
		{name: "quadratic", expression: "param[0] * pow(x, 2) + param[1] * x + param[2]", want: []float64{0, 2, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := arrayTree(t, NewArrayFitTask("fit", "src_y", "src_x", tc.expression, tc.guess))
			rt := NewRuntime(root.Database(), nil, nil)

			passed, report := root.Check(context.Background(), rt)
			require.True(t, passed, report)
			require.NoError(t, root.Run(context.Background(), rt))

			got, err := root.Database().GetValue("root/fit_fit")
			require.NoError(t, err)
			params, ok := got.([]any)
			require.True(t, ok, "fit is a %T", got)
			require.Len(t, params, len(tc.want))
			for i, want := range tc.want {
				assert.InDelta(t, want, params[i], 1e-6, "param[%d]", i)
			}
		})
	}
}

func TestArrayFit_Check(t *testing.T) {
	testCases := []struct {
		name       string
		data       string
		expression string
		guess      string
		wantKey    string
	}{
		{name: "guess count", data: "src_y", expression: "param[0] * x + param[1]", guess: "[1, 2, 3]", wantKey: "root/fit-guess"},
		{name: "no parameter", data: "src_y", expression: "x * 2", wantKey: "root/fit-expression"},
		{name: "unknown name", data: "src_y", expression: "param[0] * z", wantKey: "root/fit-expression"},
		{name: "missing data", data: "nowhere", expression: "param[0] * x", wantKey: "root/fit-data"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := arrayTree(t, NewArrayFitTask("fit", tc.data, "src_x", tc.expression, tc.guess))

			passed, report := root.Check(context.Background(), NewRuntime(root.Database(), nil, nil))

			assert.False(t, passed)
			assert.Contains(t, report, tc.wantKey)
			assert.Len(t, report, 1)
		})
	}
}

func TestArrayFactories(t *testing.T) {
	str := cty.StringVal
	testCases := []struct {
		name        string
		factory     Factory
		cfg         *config.Task
		wantKind    string
		wantEntries []string
	}{
		{
			name:    "extrema defaults to max",
			factory: NewArrayExtremaFactory,
			cfg: &config.Task{Kind: KindArrayExtrema, Name: "ext", Attributes: map[string]cty.Value{
				"target_array": str("src_data"),
			}},
			wantKind:    KindArrayExtrema,
			wantEntries: []string{"max_ind", "max_value"},
		},
		{
			name:    "find value",
			factory: NewArrayFindValueFactory,
			cfg: &config.Task{Kind: KindArrayFindValue, Name: "find", Attributes: map[string]cty.Value{
				"target_array": str("src_data"),
				"value":        str("5"),
			}},
			wantKind:    KindArrayFindValue,
			wantEntries: []string{"index"},
		},
		{
			name:    "fit",
			factory: NewArrayFitFactory,
			cfg: &config.Task{Kind: KindArrayFit, Name: "fit", Attributes: map[string]cty.Value{
				"data_array":     str("src_y"),
				"variable_array": str("src_x"),
				"expression":     str("param[0] * x"),
			}},
			wantKind:    KindArrayFit,
			wantEntries: []string{"fit"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			built, err := tc.factory(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, built.Kind())
			assert.ElementsMatch(t, tc.wantEntries, slices.Collect(maps.Keys(built.DatabaseEntries())))

			cfg, err := built.Config()
			require.NoError(t, err)
			for name, want := range tc.cfg.Attributes {
				assert.True(t, want.RawEquals(cfg.Attributes[name]), "attribute %s", name)
			}
		})
	}
}

func TestParamCount(t *testing.T) {
	testCases := []struct {
		expression string
		want       int
		wantErr    bool
	}{
		{expression: "param[0] * x", want: 1},
		{expression: "param[2] + param[0]", want: 3},
		{expression: "x", want: 0},
		{expression: "param * x", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.expression, func(t *testing.T) {
			n, err := NewArrayFitTask("fit", "y", "x", tc.expression, "").ParamCount()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}
