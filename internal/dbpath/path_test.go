package dbpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "root", raw: "root", want: []string{"root"}},
		{name: "nested entry", raw: "root/sweep/bias_voltage", want: []string{"root", "sweep", "bias_voltage"}},
		{name: "dots and dashes", raw: "root/loop-1/a.b", want: []string{"root", "loop-1", "a.b"}},
		{name: "empty", raw: "", wantErr: true},
		{name: "empty segment", raw: "root//a", wantErr: true},
		{name: "trailing slash", raw: "root/a/", wantErr: true},
		{name: "not rooted", raw: "sweep/a", wantErr: true},
		{name: "dot segment", raw: "root/../a", wantErr: true},
		{name: "space", raw: "root/a b", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse(tc.raw)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Segments)
			assert.Equal(t, tc.raw, p.String())
		})
	}
}

func TestPath_Navigation(t *testing.T) {
	p := MustParse("root/sweep/bias_voltage")

	assert.Equal(t, "bias_voltage", p.Base())
	assert.Equal(t, "root/sweep", p.Parent().String())
	assert.True(t, p.Parent().Parent().IsRoot())
	assert.True(t, p.Parent().Parent().Parent().IsZero())
	assert.Equal(t, "root/sweep/inner", p.Parent().Join("inner").String())

	assert.True(t, p.HasPrefix(MustParse("root/sweep")))
	assert.True(t, p.HasPrefix(p))
	assert.False(t, p.HasPrefix(MustParse("root/swe")))
	assert.False(t, Root().HasPrefix(p))
}

func TestPath_JoinDoesNotAlias(t *testing.T) {
	base := MustParse("root/a")
	left := base.Join("x")
	right := base.Join("y")

	assert.Equal(t, "root/a/x", left.String())
	assert.Equal(t, "root/a/y", right.String())
	assert.True(t, base.Equal(MustParse("root/a")))
}

func TestSplit(t *testing.T) {
	node, name, err := Split("root/sweep/bias_voltage")
	require.NoError(t, err)
	assert.Equal(t, "root/sweep", node)
	assert.Equal(t, "bias_voltage", name)

	_, _, err = Split("root")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestIsBeneath(t *testing.T) {
	assert.True(t, IsBeneath("root/a/b", "root/a"))
	assert.False(t, IsBeneath("root/ab", "root/a"))
	assert.False(t, IsBeneath("root/a", "root/a"))
}
