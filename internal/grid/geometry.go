package grid

import (
	"fmt"
	"math"
)

// Dimension describes one axis of the collective-variable space.
type Dimension struct {
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Periodic bool    `json:"periodic"`
	Points   int     `json:"points"`
}

// Span returns Upper - Lower.
func (d Dimension) Span() float64 { return d.Upper - d.Lower }

// Spacing returns the distance between adjacent grid points.
func (d Dimension) Spacing() float64 { return d.Span() / float64(d.Points-1) }

// Geometry is the immutable shape of a grid: its axes, their spacing and the
// row-major strides used to address flat storage. The zero value is not
// usable; build one with NewGeometry.
type Geometry struct {
	dims    []Dimension
	spacing []float64
	strides []int
	cells   int
}

// NewGeometry validates the per-dimension inputs and precomputes spacing and
// strides. All four slices must have the same non-zero length.
func NewGeometry(lower, upper []float64, periodic []bool, points []int) (*Geometry, error) {
	d := len(lower)
	if len(upper) != d || len(periodic) != d || len(points) != d {
		return nil, fmt.Errorf("%w: lower, upper, periodic and points must have equal length, got %d, %d, %d and %d",
			ErrConfig, len(lower), len(upper), len(periodic), len(points))
	}
	dims := make([]Dimension, d)
	for i := range dims {
		dims[i] = Dimension{Lower: lower[i], Upper: upper[i], Periodic: periodic[i], Points: points[i]}
	}
	return NewGeometryFromDims(dims)
}

// NewGeometryFromDims builds a Geometry from already-assembled dimensions.
// The slice is copied.
func NewGeometryFromDims(dims []Dimension) (*Geometry, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: at least one dimension is required", ErrConfig)
	}
	g := &Geometry{
		dims:    make([]Dimension, len(dims)),
		spacing: make([]float64, len(dims)),
		strides: make([]int, len(dims)),
	}
	copy(g.dims, dims)

	for i, dim := range g.dims {
		if math.IsNaN(dim.Lower) || math.IsInf(dim.Lower, 0) || math.IsNaN(dim.Upper) || math.IsInf(dim.Upper, 0) {
			return nil, fmt.Errorf("%w: dimension %d has non-finite bounds [%g, %g]", ErrConfig, i, dim.Lower, dim.Upper)
		}
		if dim.Upper <= dim.Lower {
			return nil, fmt.Errorf("%w: dimension %d upper bound %g must exceed lower bound %g", ErrConfig, i, dim.Upper, dim.Lower)
		}
		if dim.Points < 2 {
			return nil, fmt.Errorf("%w: dimension %d needs at least 2 points, got %d", ErrConfig, i, dim.Points)
		}
		g.spacing[i] = dim.Spacing()
		if !(g.spacing[i] > 0) || math.IsInf(g.spacing[i], 0) {
			return nil, fmt.Errorf("%w: dimension %d has unusable spacing %g", ErrConfig, i, g.spacing[i])
		}
	}

	// stride_i = product of Points_j for j > i
	cells := 1
	for i := len(g.dims) - 1; i >= 0; i-- {
		g.strides[i] = cells
		if cells > math.MaxInt/g.dims[i].Points {
			return nil, fmt.Errorf("%w: grid of %v points overflows the cell count", ErrConfig, g.Points())
		}
		cells *= g.dims[i].Points
	}
	g.cells = cells
	return g, nil
}

// NDim returns the dimensionality D.
func (g *Geometry) NDim() int { return len(g.dims) }

// Cells returns the total number of grid cells.
func (g *Geometry) Cells() int { return g.cells }

// Dim returns a copy of dimension i.
func (g *Geometry) Dim(i int) Dimension { return g.dims[i] }

// Dims returns a copy of all dimensions.
func (g *Geometry) Dims() []Dimension {
	out := make([]Dimension, len(g.dims))
	copy(out, g.dims)
	return out
}

// Spacing returns a copy of the per-dimension spacing.
func (g *Geometry) Spacing() []float64 {
	out := make([]float64, len(g.spacing))
	copy(out, g.spacing)
	return out
}

// Points returns a copy of the per-dimension point counts.
func (g *Geometry) Points() []int {
	out := make([]int, len(g.dims))
	for i := range g.dims {
		out[i] = g.dims[i].Points
	}
	return out
}

// Equal reports whether two geometries describe exactly the same axes.
func (g *Geometry) Equal(other *Geometry) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.dims) != len(other.dims) {
		return false
	}
	for i := range g.dims {
		if g.dims[i] != other.dims[i] {
			return false
		}
	}
	return true
}

// ToIndex maps a coordinate to the cell containing it. Periodic axes wrap
// the coordinate into [Lower, Upper) first; non-periodic axes clamp into
// [Lower, Upper]. The resulting cell index is saturated into
// [0, Points-1] to absorb floating point error at the edges.
func (g *Geometry) ToIndex(coord []float64) (Index, error) {
	if len(coord) != len(g.dims) {
		return nil, fmt.Errorf("%w: coordinate has %d components, grid has %d dimensions",
			ErrDimensionMismatch, len(coord), len(g.dims))
	}
	idx := make(Index, len(g.dims))
	for i, c := range coord {
		dim := g.dims[i]
		if math.IsNaN(c) {
			return nil, fmt.Errorf("%w: component %d is NaN", ErrInvalidCoordinate, i)
		}

		if dim.Periodic {
			if math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: component %d is infinite on a periodic axis", ErrInvalidCoordinate, i)
			}
			c = dim.Lower + wrap(c-dim.Lower, dim.Span())
		} else if c < dim.Lower {
			c = dim.Lower
		} else if c > dim.Upper {
			c = dim.Upper
		}

		// The last point of a periodic axis is an image of the first and
		// is never produced by a wrapped coordinate.
		last := dim.Points - 1
		if dim.Periodic {
			last = dim.Points - 2
		}
		k := int(math.Floor((c - dim.Lower) / g.spacing[i]))
		if k < 0 {
			k = 0
		} else if k > last {
			k = last
		}
		idx[i] = k
	}
	return idx, nil
}

// CellCenter returns the coordinate of the grid point at idx.
func (g *Geometry) CellCenter(idx Index) ([]float64, error) {
	if err := g.checkIndex(idx); err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = g.dims[i].Lower + float64(k)*g.spacing[i]
	}
	return out, nil
}

// wrap returns x reduced into [0, span).
func wrap(x, span float64) float64 {
	x = math.Mod(x, span)
	if x < 0 {
		x += span
	}
	// x+span can round up to span for tiny negative x.
	if x >= span {
		x = 0
	}
	return x
}
