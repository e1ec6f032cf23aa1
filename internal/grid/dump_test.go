package grid

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numbered returns a grid whose value at each flat offset equals the offset.
func numbered(t *testing.T, points ...int) *Grid {
	t.Helper()
	d := len(points)
	lower := make([]float64, d)
	upper := make([]float64, d)
	for i := range upper {
		upper[i] = 1
	}
	g, err := New(lower, upper, make([]bool, d), points)
	require.NoError(t, err)
	for off := 0; off < g.Len(); off++ {
		g.data.values[off] = float32(off)
	}
	return g
}

func TestDump_Layout(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		points []int
		want   string
	}{
		{"1d single row", []int{3}, "0 1 2\n"},
		{"2d rows then blank line", []int{2, 3}, "0 1 2\n3 4 5\n\n"},
		{"3d blank line per sweep", []int{2, 2, 2}, "0 1\n2 3\n\n4 5\n6 7\n\n"},
		{"4d", []int{2, 2, 2, 2}, "0 1\n2 3\n4 5\n6 7\n\n8 9\n10 11\n12 13\n14 15\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, numbered(t, tt.points...).Dump(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestSerialize_Format(t *testing.T) {
	t.Parallel()
	g, err := New([]float64{0}, []float64{1}, []bool{false}, []int{2})
	require.NoError(t, err)
	require.NoError(t, g.SetValue(Index{0}, 1.5))
	require.NoError(t, g.SetDeriv(Index{0}, 0.25, 0))

	data, err := g.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "# cvgrid text v1\ndims 1\ndim 0 1 false 2\ncells\n1.5|0.25 0|0\n", string(data))
}

func TestSerialize_RoundTrip(t *testing.T) {
	t.Parallel()
	g, err := New(
		[]float64{-math.Pi, 0.1, -5},
		[]float64{math.Pi, 0.7, 5},
		[]bool{true, false, false},
		[]int{5, 4, 3},
	)
	require.NoError(t, err)
	for off := 0; off < g.Len(); off++ {
		g.data.values[off] = float32(off)*0.1 - 1
		for k := 0; k < 3; k++ {
			g.data.grads[off*3+k] = math.Sqrt(float64(off+1)) * math.Pow(10, float64(k*100-150))
		}
	}

	data, err := g.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.True(t, g.Geometry().Equal(got.Geometry()))
	assert.Equal(t, g.Values(), got.Values())
	assert.Equal(t, g.Gradients(), got.Gradients())
	assert.True(t, g.Equal(got))

	again, err := got.Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestLoad_GeometryMismatch(t *testing.T) {
	t.Parallel()
	src := newCubeGrid(t)
	require.NoError(t, src.SetValue(Index{1, 1, 1}, 2))
	data, err := src.Serialize()
	require.NoError(t, err)

	dst, err := New([]float64{0, 0, 0}, []float64{10, 10, 10}, []bool{false, false, false}, []int{4, 3, 3})
	require.NoError(t, err)
	require.NoError(t, dst.SetValue(Index{3, 0, 0}, 9))

	err = dst.Load(data)
	require.ErrorIs(t, err, ErrConfig)

	v, err := dst.Value(Index{3, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(9), v)
}

func TestLoad_MatchingGeometry(t *testing.T) {
	t.Parallel()
	src := newCubeGrid(t)
	require.NoError(t, src.SetValue(Index{2, 1, 0}, -4))
	require.NoError(t, src.SetDeriv(Index{2, 1, 0}, 0.125, 2))
	data, err := src.Serialize()
	require.NoError(t, err)

	dst := newCubeGrid(t)
	require.NoError(t, dst.SetValue(Index{0, 0, 0}, 1))
	require.NoError(t, dst.Load(data))
	assert.True(t, src.Equal(dst))
}

func TestDeserialize_Malformed(t *testing.T) {
	t.Parallel()
	g := numbered(t, 2, 2)
	good, err := g.Serialize()
	require.NoError(t, err)
	text := string(good)

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"missing header", strings.TrimPrefix(text, textHeader+"\n")},
		{"bad dims", strings.Replace(text, "dims 2", "dims x", 1)},
		{"bad dim line", strings.Replace(text, "dim 0 1 false 2", "dim 0 1 maybe 2", 1)},
		{"degenerate geometry", strings.Replace(text, "dim 0 1 false 2", "dim 1 1 false 2", 1)},
		{"missing cells marker", strings.Replace(text, "cells\n", "", 1)},
		{"too few cells", strings.Replace(text, "2|0,0 3|0,0", "2|0,0", 1)},
		{"too many cells", text + "9|0,0\n"},
		{"short gradient", strings.Replace(text, "3|0,0", "3|0", 1)},
		{"no gradient", strings.Replace(text, "3|0,0", "3", 1)},
		{"bad value", strings.Replace(text, "3|0,0", "x|0,0", 1)},
		{"bad gradient", strings.Replace(text, "3|0,0", "3|0,y", 1)},
		{"dims beyond input", textHeader + "\ndims 10000000000000\n"},
		{"points beyond input", textHeader + "\ndims 1\ndim 0 1 false 3000000000\ncells\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Deserialize([]byte(tt.data))
			assert.ErrorIs(t, err, ErrConfig)
			assert.Nil(t, got)
		})
	}
}
