package grid

import "errors"

// ErrConfig reports malformed or inconsistent construction or load input:
// mismatched sequence lengths, degenerate bounds, too few points, or a
// snapshot whose geometry disagrees with the target grid.
var ErrConfig = errors.New("grid config error")

// ErrIndexOutOfRange reports an index component outside [0, Points) for its
// dimension. Indexed accessors never clamp.
var ErrIndexOutOfRange = errors.New("grid index out of range")

// ErrDimensionMismatch reports a coordinate or index whose length differs
// from the grid dimensionality, or a gradient dimension outside [0, D).
var ErrDimensionMismatch = errors.New("grid dimension mismatch")

// ErrInvalidCoordinate reports a coordinate that cannot be mapped to a cell
// (NaN on any axis, or an infinity on a periodic axis).
var ErrInvalidCoordinate = errors.New("grid coordinate invalid")
