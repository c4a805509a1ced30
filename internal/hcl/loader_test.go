package hcl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/testutil"
	"github.com/zclconf/go-cty/cty"
)

var ctyEqual = cmp.Comparer(func(a, b cty.Value) bool {
	return a.Type().Equals(b.Type()) && a.Equals(b).True()
})

const sweepHCL = `
	measure "iv-sweep" {
	  engine  = "process"
	  checks  = ["internal"]
	  headers = ["date", "measure"]

	  monitor "text" {
	    entries = ["loop/voltage"]
	    title   = upper("iv")
	  }

	  task "RootTask" "root" {
	    default_path = "/tmp/data"

	    task "LoopTask" "loop" {
	      start = 0
	      stop  = 1
	      step  = 0.5

	      task "SetDCVoltageTask" "bias" {
	        access_exceptions = ["voltage"]
	        driver            = "SimulatedSource"
	        profile           = "smu"
	        target_value      = "loop_index * 0.5"
	      }
	    }
	  }
	}

	profile "smu" {
	  driver   = "SimulatedSource"
	  function = "VOLT"
	}
`

func TestLoader_Load(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"sweep.hcl": sweepHCL})

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)

	want := &config.Model{
		Measures: []*config.Measure{{
			Name:    "iv-sweep",
			Engine:  "process",
			Checks:  []string{"internal"},
			Headers: []string{"date", "measure"},
			Monitors: []*config.Tool{{
				Kind:       "text",
				Entries:    []string{"loop/voltage"},
				Attributes: map[string]cty.Value{"title": cty.StringVal("IV")},
			}},
			Root: &config.Task{
				Kind:       "RootTask",
				Name:       "root",
				Attributes: map[string]cty.Value{"default_path": cty.StringVal("/tmp/data")},
				Children: []*config.Task{{
					Kind: "LoopTask",
					Name: "loop",
					Attributes: map[string]cty.Value{
						"start": cty.NumberIntVal(0),
						"stop":  cty.NumberIntVal(1),
						"step":  cty.NumberFloatVal(0.5),
					},
					Children: []*config.Task{{
						Kind:             "SetDCVoltageTask",
						Name:             "bias",
						AccessExceptions: []string{"voltage"},
						Attributes: map[string]cty.Value{
							"driver":       cty.StringVal("SimulatedSource"),
							"profile":      cty.StringVal("smu"),
							"target_value": cty.StringVal("loop_index * 0.5"),
						},
					}},
				}},
			},
		}},
		Profiles: map[string]*config.Profile{
			"smu": {
				Name:     "smu",
				Driver:   "SimulatedSource",
				Settings: map[string]cty.Value{"function": cty.StringVal("VOLT")},
				Source:   filepath.Join(dir, "sweep.hcl"),
			},
		},
	}

	if diff := cmp.Diff(want, model, ctyEqual); diff != "" {
		t.Errorf("loaded model mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Load_NestedTasks(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"nested.hcl": `
		measure "nested" {
		  task "RootTask" "root" {
		    task "ComplexTask" "outer" {
		      access_exceptions = ["inner_y"]

		      task "ComplexTask" "middle" {
		        task "FormulaTask" "inner" {
		          formulas = { y = "1 + 1" }
		        }
		        task "SleepTask" "pause" {
		          time = 0.1
		        }
		      }
		    }
		    task "SimpleTask" "last" {}
		  }
		}
	`})

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Measures, 1)

	var got []string
	var walk func(prefix string, task *config.Task)
	walk = func(prefix string, task *config.Task) {
		path := prefix + task.Name
		got = append(got, task.Kind+" "+path)
		for _, child := range task.Children {
			walk(path+"/", child)
		}
	}
	walk("", model.Measures[0].Root)

	want := []string{
		"RootTask root",
		"ComplexTask root/outer",
		"ComplexTask root/outer/middle",
		"FormulaTask root/outer/middle/inner",
		"SleepTask root/outer/middle/pause",
		"SimpleTask root/last",
	}
	assert.Equal(t, want, got)

	outer := model.Measures[0].Root.Children[0]
	assert.Equal(t, []string{"inner_y"}, outer.AccessExceptions)
	assert.Empty(t, outer.Attributes)
	inner := outer.Children[0].Children[0]
	require.Contains(t, inner.Attributes, "formulas")
	assert.Equal(t, "1 + 1", inner.Attributes["formulas"].GetAttr("y").AsString())
}

func TestLoader_Load_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "no root task",
			files:   map[string]string{"a.hcl": `measure "m" {}`},
			wantErr: `measure "m" has no root task block`,
		},
		{
			name: "two root tasks",
			files: map[string]string{"a.hcl": `
				measure "m" {
				  task "RootTask" "a" {}
				  task "RootTask" "b" {}
				}
			`},
			wantErr: "Duplicate task block",
		},
		{
			name: "duplicate measure",
			files: map[string]string{
				"a.hcl": `measure "m" { task "RootTask" "root" {} }`,
				"b.hcl": `measure "m" { task "RootTask" "root" {} }`,
			},
			wantErr: `measure "m" defined in both`,
		},
		{
			name:    "duplicate profile",
			files:   map[string]string{"a.hcl": "profile \"p\" { driver = \"x\" }\nprofile \"p\" { driver = \"y\" }\n"},
			wantErr: `profile "p" defined in both`,
		},
		{
			name:    "profile without driver",
			files:   map[string]string{"a.hcl": `profile "p" {}`},
			wantErr: `Missing required argument`,
		},
		{
			name:    "syntax error",
			files:   map[string]string{"a.hcl": `measure "m" {`},
			wantErr: "failed to parse HCL file",
		},
		{
			name: "unknown variable",
			files: map[string]string{"a.hcl": `
				measure "m" {
				  task "RootTask" "root" {
				    default_path = somewhere
				  }
				}
			`},
			wantErr: `task "root"`,
		},
		{
			name: "unexpected block in task",
			files: map[string]string{"a.hcl": `
				measure "m" {
				  task "RootTask" "root" {
				    settings {}
				  }
				}
			`},
			wantErr: `task "root"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := testutil.WriteFiles(t, tc.files)
			_, err := NewLoader().Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoader_Load_SingleFileAndMissingPath(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"one.hcl": `measure "m" { task "RootTask" "root" {} }`})

	model, err := NewLoader().Load(context.Background(), filepath.Join(dir, "one.hcl"))
	require.NoError(t, err)
	require.Len(t, model.Measures, 1)
	assert.Empty(t, model.Measures[0].Root.Attributes)

	_, err = NewLoader().Load(context.Background(), filepath.Join(dir, "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")
}

func TestWriter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := testutil.WriteFiles(t, map[string]string{"sweep.hcl": sweepHCL})
	loaded, err := NewLoader().Load(ctx, dir)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Writer{}.WriteMeasures(&buf, loaded.Measures...))
	require.NoError(t, Writer{}.WriteProfiles(&buf, loaded.Profiles))
	assert.Contains(t, buf.String(), `task "SetDCVoltageTask" "bias" {`)

	out := filepath.Join(t.TempDir(), "dump.hcl")
	require.NoError(t, os.WriteFile(out, buf.Bytes(), 0o644))
	reloaded, err := NewLoader().Load(ctx, out)
	require.NoError(t, err)

	ignoreSource := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Source"
	}, cmp.Ignore())
	if diff := cmp.Diff(loaded, reloaded, ctyEqual, ignoreSource); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_MissingRoot(t *testing.T) {
	err := Writer{}.WriteMeasures(&bytes.Buffer{}, &config.Measure{Name: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no root task")
}
