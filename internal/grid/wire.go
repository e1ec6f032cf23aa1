package grid

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, protobuf compatible:
//
//	message Grid {
//	  repeated Dimension dims = 1;
//	  repeated float values = 2 [packed = true];
//	  repeated double gradients = 3 [packed = true];
//	}
//	message Dimension {
//	  double lower = 1;
//	  double upper = 2;
//	  bool periodic = 3;
//	  int64 points = 4;
//	}
const (
	wireGridDims      protowire.Number = 1
	wireGridValues    protowire.Number = 2
	wireGridGradients protowire.Number = 3

	wireDimLower    protowire.Number = 1
	wireDimUpper    protowire.Number = 2
	wireDimPeriodic protowire.Number = 3
	wireDimPoints   protowire.Number = 4
)

// EncodeWire returns the protobuf wire encoding of the grid.
func (g *Grid) EncodeWire() []byte {
	var b []byte
	for _, d := range g.geom.dims {
		var m []byte
		m = protowire.AppendTag(m, wireDimLower, protowire.Fixed64Type)
		m = protowire.AppendFixed64(m, math.Float64bits(d.Lower))
		m = protowire.AppendTag(m, wireDimUpper, protowire.Fixed64Type)
		m = protowire.AppendFixed64(m, math.Float64bits(d.Upper))
		m = protowire.AppendTag(m, wireDimPeriodic, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeBool(d.Periodic))
		m = protowire.AppendTag(m, wireDimPoints, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(d.Points))
		b = protowire.AppendTag(b, wireGridDims, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	vals := make([]byte, 0, 4*len(g.data.values))
	for _, v := range g.data.values {
		vals = protowire.AppendFixed32(vals, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, wireGridValues, protowire.BytesType)
	b = protowire.AppendBytes(b, vals)

	grads := make([]byte, 0, 8*len(g.data.grads))
	for _, v := range g.data.grads {
		grads = protowire.AppendFixed64(grads, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, wireGridGradients, protowire.BytesType)
	b = protowire.AppendBytes(b, grads)
	return b
}

// DecodeWire builds a Grid from its protobuf wire encoding. Repeated
// values and gradients may arrive packed or one element per tag. Unknown
// fields are skipped.
func DecodeWire(b []byte) (*Grid, error) {
	var (
		dims   []Dimension
		values []float32
		grads  []float64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == wireGridDims && typ == protowire.BytesType:
			m, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
			}
			d, err := decodeWireDim(m)
			if err != nil {
				return nil, err
			}
			dims = append(dims, d)
			b = b[n:]
		case num == wireGridValues && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(b)
			if n < 0 || len(p)%4 != 0 {
				return nil, fmt.Errorf("%w: malformed packed values", ErrConfig)
			}
			for len(p) > 0 {
				v, m := protowire.ConsumeFixed32(p)
				values = append(values, math.Float32frombits(v))
				p = p[m:]
			}
			b = b[n:]
		case num == wireGridValues && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
			}
			values = append(values, math.Float32frombits(v))
			b = b[n:]
		case num == wireGridGradients && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(b)
			if n < 0 || len(p)%8 != 0 {
				return nil, fmt.Errorf("%w: malformed packed gradients", ErrConfig)
			}
			for len(p) > 0 {
				v, m := protowire.ConsumeFixed64(p)
				grads = append(grads, math.Float64frombits(v))
				p = p[m:]
			}
			b = b[n:]
		case num == wireGridGradients && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
			}
			grads = append(grads, math.Float64frombits(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	geom, err := NewGeometryFromDims(dims)
	if err != nil {
		return nil, err
	}
	if len(values) != geom.cells {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrConfig, geom.cells, len(values))
	}
	if len(grads) != geom.cells*geom.NDim() {
		return nil, fmt.Errorf("%w: expected %d gradient components, got %d",
			ErrConfig, geom.cells*geom.NDim(), len(grads))
	}
	return &Grid{geom: geom, data: storage{values: values, grads: grads, ndim: geom.NDim()}}, nil
}

func decodeWireDim(b []byte) (Dimension, error) {
	var d Dimension
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == wireDimLower && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(m))
			}
			d.Lower = math.Float64frombits(v)
			n = m
		case num == wireDimUpper && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(m))
			}
			d.Upper = math.Float64frombits(v)
			n = m
		case num == wireDimPeriodic && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(m))
			}
			d.Periodic = protowire.DecodeBool(v)
			n = m
		case num == wireDimPoints && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(m))
			}
			if v > math.MaxInt32 {
				return d, fmt.Errorf("%w: point count %d too large", ErrConfig, v)
			}
			d.Points = int(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, fmt.Errorf("%w: %v", ErrConfig, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return d, nil
}

// LoadWire overwrites g from a wire encoding with identical geometry.
func (g *Grid) LoadWire(b []byte) error {
	src, err := DecodeWire(b)
	if err != nil {
		return err
	}
	return g.replace(src)
}
