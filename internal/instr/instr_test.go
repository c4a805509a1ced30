package instr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/task"
	"github.com/zclconf/go-cty/cty"
)

func newSourceRuntime(t *testing.T, root *task.RootTask, settings map[string]cty.Value) (*task.Runtime, **SimulatedSource) {
	t.Helper()
	var created *SimulatedSource
	factory := Factory(func(p *config.Profile) (Driver, error) {
		s, err := NewSimulatedSource(p)
		created = s
		return s, err
	})
	deps := map[string]map[string]any{
		DriversCollector:  {SimulatedDriver: factory},
		ProfilesCollector: {"bench": &config.Profile{Name: "bench", Driver: SimulatedDriver, Settings: settings}},
	}
	return task.NewRuntime(root.Database(), deps, nil), &created
}

func TestSetDCVoltage_RampsInSteps(t *testing.T) {
	root := task.NewRootTask()
	src := NewSetDCVoltageTask("src", SourceParams{
		Driver: SimulatedDriver, Profile: "bench", TargetValue: "0.5 + 0.5", BackStep: 0.3,
	})
	require.NoError(t, root.AppendChild(src))
	rt, created := newSourceRuntime(t, root, nil)

	require.NoError(t, root.Run(context.Background(), rt))
	require.NoError(t, rt.Cleanup(context.Background()))

	require.NotNil(t, *created)
	assert.Equal(t, []float64{0.3, 0.6, 0.9, 1.0}, (*created).History())
	assert.Equal(t, 1, (*created).Closed())
	v, err := root.Database().GetValue("root/src_voltage")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestSetDCVoltage_NoBackStepJumps(t *testing.T) {
	root := task.NewRootTask()
	require.NoError(t, root.AppendChild(NewSetDCVoltageTask("a", SourceParams{
		Driver: SimulatedDriver, Profile: "bench", TargetValue: "-2",
	})))
	require.NoError(t, root.AppendChild(NewSetDCVoltageTask("b", SourceParams{
		Driver: SimulatedDriver, Profile: "bench", TargetValue: "a_voltage",
	})))
	rt, created := newSourceRuntime(t, root, map[string]cty.Value{"initial": cty.NumberIntVal(3)})

	require.NoError(t, root.Run(context.Background(), rt))

	// Both tasks share the connection of the profile; the second one is
	// already at its target.
	assert.Equal(t, []float64{-2}, (*created).History())
}

func TestSetDCCurrent_RefusesVoltageSource(t *testing.T) {
	root := task.NewRootTask()
	require.NoError(t, root.AppendChild(NewSetDCCurrentTask("src", SourceParams{
		Driver: SimulatedDriver, Profile: "bench", TargetValue: "0.001",
	})))
	rt, _ := newSourceRuntime(t, root, nil)

	err := root.Run(context.Background(), rt)

	var execErr *task.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "root/src", execErr.Task)
	assert.ErrorContains(t, err, "not CURR")
}

func TestSourceTask_Check(t *testing.T) {
	testCases := []struct {
		name     string
		params   SourceParams
		wantKeys []string
	}{
		{
			name:   "valid",
			params: SourceParams{Driver: SimulatedDriver, Profile: "bench", TargetValue: "2 * 3"},
		},
		{
			name:     "missing instrument",
			params:   SourceParams{TargetValue: "1"},
			wantKeys: []string{"root/src-driver", "root/src-profile"},
		},
		{
			name:     "unknown profile",
			params:   SourceParams{Driver: SimulatedDriver, Profile: "other", TargetValue: "1"},
			wantKeys: []string{"root/src-profile"},
		},
		{
			name:     "bad formula",
			params:   SourceParams{Driver: SimulatedDriver, Profile: "bench", TargetValue: "missing + 1"},
			wantKeys: []string{"root/src-volt"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			root := task.NewRootTask()
			require.NoError(t, root.AppendChild(NewSetDCVoltageTask("src", tc.params)))
			rt, _ := newSourceRuntime(t, root, nil)

			passed, report := root.Check(context.Background(), rt)

			assert.Equal(t, len(tc.wantKeys) == 0, passed)
			assert.Len(t, report, len(tc.wantKeys))
			for _, k := range tc.wantKeys {
				assert.Contains(t, report, k)
			}
			if passed {
				v, err := root.Database().GetValue("root/src_voltage")
				require.NoError(t, err)
				assert.Equal(t, 6.0, v)
			}
		})
	}
}

func TestSourceFactory_RoundTrip(t *testing.T) {
	cfg := &config.Task{
		Kind: KindSetDCCurrent,
		Name: "bias",
		Attributes: map[string]cty.Value{
			"driver":       cty.StringVal(SimulatedDriver),
			"profile":      cty.StringVal("bench"),
			"target_value": cty.StringVal("1e-3"),
		},
	}
	built, err := NewSetDCCurrentFactory(cfg)
	require.NoError(t, err)

	src := built.(*SourceTask)
	assert.Equal(t, defaultDelay, src.Params().Delay)
	assert.Equal(t, map[string]any{"current": 0.01}, src.DatabaseEntries())
	assert.Equal(t, map[string][]string{
		DriversCollector:  {SimulatedDriver},
		ProfilesCollector: {"bench"},
	}, src.RuntimeDependencies())

	out, err := src.Config()
	require.NoError(t, err)
	assert.Equal(t, "1e-3", out.Attributes["target_value"].AsString())
}

func TestAcquire_OpenFailure(t *testing.T) {
	root := task.NewRootTask()
	rt, _ := newSourceRuntime(t, root, map[string]cty.Value{
		"fail_open": cty.True,
		"address":   cty.StringVal("GPIB::2"),
	})

	_, err := Acquire(context.Background(), rt, SimulatedDriver, "bench")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorContains(t, err, "GPIB::2")
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("bench.yaml", "driver: SimulatedSource\nsettings:\n  function: CURR\n  initial: 2\n")
	write("named.yaml", "name: yoko\ndriver: YokogawaGS200\nsettings:\n  address: GPIB::1\n")
	write("notes.txt", "ignored")

	profiles, err := LoadProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	bench := profiles["bench"]
	require.NotNil(t, bench)
	assert.Equal(t, SimulatedDriver, bench.Driver)
	src, err := NewSimulatedSource(bench)
	require.NoError(t, err)
	assert.Equal(t, FunctionCurrent, src.Function())

	assert.Equal(t, "GPIB::1", profiles["yoko"].Settings["address"].AsString())
}

func TestLoadProfile_MissingDriver(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.yaml")
	require.NoError(t, os.WriteFile(file, []byte("settings: {}\n"), 0o600))

	_, err := LoadProfile(file)
	assert.ErrorContains(t, err, "missing driver")
}

// functionOnly reports a voltage output but cannot set it.
type functionOnly struct{}

func (functionOnly) Open(context.Context) error { return nil }
func (functionOnly) Close() error               { return nil }
func (functionOnly) Function() string           { return FunctionVoltage }

func TestSetDCVoltage_DriverWithoutVoltageControl(t *testing.T) {
	root := task.NewRootTask()
	require.NoError(t, root.AppendChild(NewSetDCVoltageTask("src", SourceParams{
		Driver: "Partial", Profile: "bench", TargetValue: "1",
	})))
	deps := map[string]map[string]any{
		DriversCollector: {"Partial": Factory(func(*config.Profile) (Driver, error) {
			return functionOnly{}, nil
		})},
		ProfilesCollector: {"bench": &config.Profile{Name: "bench", Driver: "Partial"}},
	}
	rt := task.NewRuntime(root.Database(), deps, nil)

	err := root.Run(context.Background(), rt)

	var execErr *task.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorContains(t, err, "cannot output a voltage")
	require.NoError(t, rt.Cleanup(context.Background()))
}
