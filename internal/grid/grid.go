package grid

import (
	"fmt"
)

// Grid stores one value and one gradient per cell of a Geometry.
// Grid is not safe for concurrent use; see Manager.
type Grid struct {
	geom *Geometry
	data storage
}

// New constructs a zero-filled grid. It fails with ErrConfig under the same
// conditions as NewGeometry and never returns a partially built Grid.
func New(lower, upper []float64, periodic []bool, points []int) (*Grid, error) {
	geom, err := NewGeometry(lower, upper, periodic, points)
	if err != nil {
		return nil, err
	}
	return NewWithGeometry(geom), nil
}

// NewWithGeometry constructs a zero-filled grid over an existing geometry.
func NewWithGeometry(geom *Geometry) *Grid {
	return &Grid{geom: geom, data: newStorage(geom.Cells(), geom.NDim())}
}

// Geometry returns the grid's immutable geometry.
func (g *Grid) Geometry() *Geometry { return g.geom }

// NDim returns the number of dimensions.
func (g *Grid) NDim() int { return g.geom.NDim() }

// Len returns the number of cells.
func (g *Grid) Len() int { return g.geom.Cells() }

// ToIndex is shorthand for g.Geometry().ToIndex.
func (g *Grid) ToIndex(coord []float64) (Index, error) { return g.geom.ToIndex(coord) }

// Value returns the value stored at idx.
func (g *Grid) Value(idx Index) (float32, error) {
	off, err := g.geom.offset(idx)
	if err != nil {
		return 0, err
	}
	return g.data.values[off], nil
}

// SetValue overwrites the value stored at idx.
func (g *Grid) SetValue(idx Index, v float32) error {
	off, err := g.geom.offset(idx)
	if err != nil {
		return err
	}
	g.data.values[off] = v
	return nil
}

// AddValue adds delta to the value stored at idx.
func (g *Grid) AddValue(idx Index, delta float32) error {
	off, err := g.geom.offset(idx)
	if err != nil {
		return err
	}
	g.data.values[off] += delta
	return nil
}

// Deriv returns gradient component dim at idx.
func (g *Grid) Deriv(idx Index, dim int) (float64, error) {
	off, err := g.gradOffset(idx, dim)
	if err != nil {
		return 0, err
	}
	return g.data.grads[off], nil
}

// SetDeriv overwrites gradient component dim at idx.
func (g *Grid) SetDeriv(idx Index, v float64, dim int) error {
	off, err := g.gradOffset(idx, dim)
	if err != nil {
		return err
	}
	g.data.grads[off] = v
	return nil
}

// Gradient returns a copy of the full gradient at idx.
func (g *Grid) Gradient(idx Index) ([]float64, error) {
	off, err := g.geom.offset(idx)
	if err != nil {
		return nil, err
	}
	start := g.data.gradOffset(off, 0)
	out := make([]float64, g.data.ndim)
	copy(out, g.data.grads[start:start+g.data.ndim])
	return out, nil
}

// SetGradient overwrites the full gradient at idx.
func (g *Grid) SetGradient(idx Index, grad []float64) error {
	if len(grad) != g.data.ndim {
		return fmt.Errorf("%w: gradient has %d components, grid has %d dimensions",
			ErrDimensionMismatch, len(grad), g.data.ndim)
	}
	off, err := g.geom.offset(idx)
	if err != nil {
		return err
	}
	copy(g.data.grads[g.data.gradOffset(off, 0):], grad)
	return nil
}

func (g *Grid) gradOffset(idx Index, dim int) (int, error) {
	if dim < 0 || dim >= g.data.ndim {
		return 0, fmt.Errorf("%w: gradient dimension %d, valid range is [0, %d)",
			ErrDimensionMismatch, dim, g.data.ndim)
	}
	off, err := g.geom.offset(idx)
	if err != nil {
		return 0, err
	}
	return g.data.gradOffset(off, dim), nil
}

// ValueAt returns the value of the cell containing coord.
func (g *Grid) ValueAt(coord []float64) (float32, error) {
	idx, err := g.geom.ToIndex(coord)
	if err != nil {
		return 0, err
	}
	return g.Value(idx)
}

// SetValueAt overwrites the value of the cell containing coord.
func (g *Grid) SetValueAt(coord []float64, v float32) error {
	idx, err := g.geom.ToIndex(coord)
	if err != nil {
		return err
	}
	return g.SetValue(idx, v)
}

// DerivAt returns gradient component dim of the cell containing coord.
func (g *Grid) DerivAt(coord []float64, dim int) (float64, error) {
	idx, err := g.geom.ToIndex(coord)
	if err != nil {
		return 0, err
	}
	return g.Deriv(idx, dim)
}

// SetDerivAt overwrites gradient component dim of the cell containing coord.
func (g *Grid) SetDerivAt(coord []float64, v float64, dim int) error {
	idx, err := g.geom.ToIndex(coord)
	if err != nil {
		return err
	}
	return g.SetDeriv(idx, v, dim)
}

// Values returns a copy of all values in row-major order.
func (g *Grid) Values() []float32 {
	out := make([]float32, len(g.data.values))
	copy(out, g.data.values)
	return out
}

// Gradients returns a copy of all gradients, NDim components per cell, in
// row-major order.
func (g *Grid) Gradients() []float64 {
	out := make([]float64, len(g.data.grads))
	copy(out, g.data.grads)
	return out
}

// Clone returns a deep copy sharing only the immutable geometry.
func (g *Grid) Clone() *Grid {
	return &Grid{geom: g.geom, data: g.data.clone()}
}

// Reset zeroes every value and gradient.
func (g *Grid) Reset() {
	clear(g.data.values)
	clear(g.data.grads)
}

// Merge adds other's values and gradients cell by cell. Both grids must have
// the same geometry.
func (g *Grid) Merge(other *Grid) error {
	if other == nil {
		return fmt.Errorf("%w: cannot merge a nil grid", ErrConfig)
	}
	if !g.geom.Equal(other.geom) {
		return fmt.Errorf("%w: cannot merge grids with different geometry", ErrConfig)
	}
	for i, v := range other.data.values {
		g.data.values[i] += v
	}
	for i, v := range other.data.grads {
		g.data.grads[i] += v
	}
	return nil
}

// Equal reports whether two grids have the same geometry and identical
// cell contents.
func (g *Grid) Equal(other *Grid) bool {
	if other == nil {
		return false
	}
	if !g.geom.Equal(other.geom) {
		return false
	}
	for i := range g.data.values {
		if g.data.values[i] != other.data.values[i] {
			return false
		}
	}
	for i := range g.data.grads {
		if g.data.grads[i] != other.data.grads[i] {
			return false
		}
	}
	return true
}

// replace swaps in another grid's storage after checking geometry.
func (g *Grid) replace(src *Grid) error {
	if !g.geom.Equal(src.geom) {
		return fmt.Errorf("%w: snapshot geometry %v does not match grid geometry %v",
			ErrConfig, src.geom.Dims(), g.geom.Dims())
	}
	g.data = src.data
	return nil
}
