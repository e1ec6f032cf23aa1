// Package gridplot renders two-dimensional slices of a grid as heatmaps,
// either as a static PNG (gonum/plot) or an interactive HTML page
// (go-echarts).
package gridplot

import (
	"fmt"

	"github.com/banshee-data/cvgrid/internal/grid"
)

// Plane is a two-dimensional slice through a grid. Every axis other than
// X and Y is held at the index given in Fixed. It implements
// plotter.GridXYZ.
type Plane struct {
	XDim, YDim int
	Fixed      grid.Index

	xs, ys []float64
	z      [][]float64 // z[col][row]
}

// Slice extracts the xDim/yDim plane from g. fixed supplies the index for
// the remaining axes; entries for xDim and yDim are ignored. A nil fixed
// is treated as all zeros.
func Slice(g *grid.Grid, xDim, yDim int, fixed grid.Index) (*Plane, error) {
	n := g.NDim()
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 dimensions to slice, grid has %d", grid.ErrDimensionMismatch, n)
	}
	if xDim < 0 || xDim >= n || yDim < 0 || yDim >= n || xDim == yDim {
		return nil, fmt.Errorf("%w: invalid slice axes (%d, %d) for %d dimensions", grid.ErrDimensionMismatch, xDim, yDim, n)
	}
	if fixed == nil {
		fixed = make(grid.Index, n)
	}
	if len(fixed) != n {
		return nil, fmt.Errorf("%w: fixed index has %d entries, grid has %d dimensions", grid.ErrDimensionMismatch, len(fixed), n)
	}

	geom := g.Geometry()
	p := &Plane{
		XDim:  xDim,
		YDim:  yDim,
		Fixed: append(grid.Index(nil), fixed...),
		xs:    geom.Axis(xDim),
		ys:    geom.Axis(yDim),
	}
	idx := append(grid.Index(nil), fixed...)
	p.z = make([][]float64, len(p.xs))
	for c := range p.xs {
		p.z[c] = make([]float64, len(p.ys))
		idx[xDim] = c
		for r := range p.ys {
			idx[yDim] = r
			v, err := g.Value(idx)
			if err != nil {
				return nil, err
			}
			p.z[c][r] = float64(v)
		}
	}
	return p, nil
}

// Dims returns the number of columns and rows.
func (p *Plane) Dims() (c, r int) { return len(p.xs), len(p.ys) }

// Z returns the value at column c, row r.
func (p *Plane) Z(c, r int) float64 { return p.z[c][r] }

// X returns the coordinate of column c.
func (p *Plane) X(c int) float64 { return p.xs[c] }

// Y returns the coordinate of row r.
func (p *Plane) Y(r int) float64 { return p.ys[r] }

// Range returns the minimum and maximum Z.
func (p *Plane) Range() (lo, hi float64) {
	first := true
	for _, col := range p.z {
		for _, v := range col {
			if first {
				lo, hi = v, v
				first = false
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}
