package grid

import "fmt"

// Index addresses one grid cell, one component per dimension.
type Index []int

// storage is the flat strided backing array: one float32 value per cell and
// a gradient of NDim float64 components per cell, both in row-major order.
type storage struct {
	values []float32
	grads  []float64
	ndim   int
}

func newStorage(cells, ndim int) storage {
	return storage{
		values: make([]float32, cells),
		grads:  make([]float64, cells*ndim),
		ndim:   ndim,
	}
}

func (s storage) clone() storage {
	out := storage{
		values: make([]float32, len(s.values)),
		grads:  make([]float64, len(s.grads)),
		ndim:   s.ndim,
	}
	copy(out.values, s.values)
	copy(out.grads, s.grads)
	return out
}

func (s storage) gradOffset(cell, dim int) int { return cell*s.ndim + dim }

// checkIndex rejects indices of the wrong length or with any component
// outside [0, Points). It never clamps.
func (g *Geometry) checkIndex(idx Index) error {
	if len(idx) != len(g.dims) {
		return fmt.Errorf("%w: index has %d components, grid has %d dimensions",
			ErrDimensionMismatch, len(idx), len(g.dims))
	}
	for i, k := range idx {
		if k < 0 || k >= g.dims[i].Points {
			return fmt.Errorf("%w: component %d is %d, valid range is [0, %d)",
				ErrIndexOutOfRange, i, k, g.dims[i].Points)
		}
	}
	return nil
}

// offset returns sum(idx_i * stride_i) after validating idx.
func (g *Geometry) offset(idx Index) (int, error) {
	if err := g.checkIndex(idx); err != nil {
		return 0, err
	}
	off := 0
	for i, k := range idx {
		off += k * g.strides[i]
	}
	return off, nil
}

// unflatten converts a flat cell offset back to its Index.
func (g *Geometry) unflatten(off int) Index {
	idx := make(Index, len(g.dims))
	for i, s := range g.strides {
		idx[i] = off / s
		off %= s
	}
	return idx
}
