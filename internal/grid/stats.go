package grid

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Summary describes the current contents of a grid.
type Summary struct {
	Cells        int     `json:"cells"`
	NonZeroCells int     `json:"nonzero_cells"`
	MinValue     float64 `json:"min_value"`
	MaxValue     float64 `json:"max_value"`
	MeanValue    float64 `json:"mean_value"`
	MaxGradNorm  float64 `json:"max_grad_norm"`
}

// Summary computes value extrema, the mean value, the largest gradient
// norm and the number of cells holding a non-zero value or gradient.
func (g *Grid) Summary() Summary {
	vals := make([]float64, len(g.data.values))
	for i, v := range g.data.values {
		vals[i] = float64(v)
	}
	s := Summary{
		Cells:     len(vals),
		MinValue:  floats.Min(vals),
		MaxValue:  floats.Max(vals),
		MeanValue: floats.Sum(vals) / float64(len(vals)),
	}

	nd := g.data.ndim
	for i := range vals {
		grad := g.data.grads[i*nd : (i+1)*nd]
		norm := floats.Norm(grad, 2)
		s.MaxGradNorm = math.Max(s.MaxGradNorm, norm)
		if vals[i] != 0 || norm != 0 {
			s.NonZeroCells++
		}
	}
	return s
}

// Axis returns the coordinates of the grid points along dimension i.
func (g *Geometry) Axis(i int) []float64 {
	d := g.dims[i]
	return floats.Span(make([]float64, d.Points), d.Lower, d.Upper)
}
