package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type sweepParams struct {
	Start   float64           `cty:"start"`
	Stop    float64           `cty:"stop"`
	Step    float64           `cty:"step"`
	Label   string            `cty:"label"`
	Tags    []string          `cty:"tags"`
	Extra   map[string]string `cty:"extra"`
	Raw     cty.Value         `cty:"raw"`
	ignored int
}

func TestDecodeAttributes(t *testing.T) {
	params := sweepParams{Step: 1, Label: "default"}
	err := DecodeAttributes(map[string]cty.Value{
		"start": cty.NumberIntVal(2),
		"stop":  cty.StringVal("10"),
		"tags":  cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
		"extra": cty.ObjectVal(map[string]cty.Value{"k": cty.StringVal("v")}),
		"raw":   cty.BoolVal(true),
		"label": cty.NullVal(cty.String),
	}, &params)

	require.NoError(t, err)
	assert.Equal(t, 2.0, params.Start)
	assert.Equal(t, 10.0, params.Stop)
	assert.Equal(t, 1.0, params.Step)
	assert.Equal(t, "default", params.Label)
	assert.Equal(t, []string{"a", "b"}, params.Tags)
	assert.Equal(t, map[string]string{"k": "v"}, params.Extra)
	assert.True(t, params.Raw.True())
}

func TestDecodeAttributes_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		attrs   map[string]cty.Value
		target  any
		wantErr string
	}{
		{
			name:    "unsupported attribute",
			attrs:   map[string]cty.Value{"start": cty.NumberIntVal(1), "colour": cty.StringVal("red")},
			target:  &sweepParams{},
			wantErr: "unsupported attributes: colour",
		},
		{
			name:    "wrong type",
			attrs:   map[string]cty.Value{"start": cty.StringVal("abc")},
			target:  &sweepParams{},
			wantErr: `attribute "start"`,
		},
		{
			name:    "not a pointer",
			attrs:   nil,
			target:  sweepParams{},
			wantErr: "non-nil pointer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := DecodeAttributes(tc.attrs, tc.target)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEncodeAttributes_RoundTrip(t *testing.T) {
	in := sweepParams{Start: 0, Stop: 1, Step: 0.25, Label: "bias", Tags: []string{"x"}}

	attrs, err := EncodeAttributes(in)
	require.NoError(t, err)
	assert.NotContains(t, attrs, "raw")
	assert.NotContains(t, attrs, "extra")

	var out sweepParams
	require.NoError(t, DecodeAttributes(attrs, &out))
	assert.Equal(t, in, out)
}

func TestTaskWalk(t *testing.T) {
	root := &Task{Kind: "RootTask", Name: "root", Children: []*Task{
		{Kind: "LoopTask", Name: "loop", Children: []*Task{{Kind: "SleepTask", Name: "wait"}}},
		{Kind: "FormulaTask", Name: "calc"},
	}}
	var names []string
	require.NoError(t, root.Walk(func(t *Task) error {
		names = append(names, t.Name)
		return nil
	}))
	assert.Equal(t, []string{"root", "loop", "wait", "calc"}, names)
}
