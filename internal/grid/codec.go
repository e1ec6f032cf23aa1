package grid

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

const (
	binaryMagic   uint64 = 0xc76d9a1e5f3b2e01
	binaryVersion uint32 = 1
)

// Compression selects how snapshot blobs are packed.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression accepts "", "none", "gzip" or "zstd". The empty string
// means gzip.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "":
		return CompressionGzip, nil
	case CompressionNone, CompressionGzip, CompressionZstd:
		return Compression(s), nil
	}
	return "", fmt.Errorf("%w: unknown compression %q", ErrConfig, s)
}

// binaryHeader is the fixed-size prefix of the binary form. It is followed
// by NDim dimension records, then Cells float32 values, then Cells*NDim
// float64 gradient components, all little-endian.
type binaryHeader struct {
	Magic   uint64
	Version uint32
	NDim    uint32
	Cells   uint64
}

type binaryDim struct {
	Lower    float64
	Upper    float64
	Periodic uint8
	_        [7]byte
	Points   uint64
}

// MarshalBinary encodes the geometry and every cell. Decoding the result
// reproduces bit-identical values and gradients.
func (g *Grid) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(24 + 32*g.NDim() + 4*len(g.data.values) + 8*len(g.data.grads))

	hd := binaryHeader{
		Magic:   binaryMagic,
		Version: binaryVersion,
		NDim:    uint32(g.NDim()),
		Cells:   uint64(g.geom.cells),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hd); err != nil {
		return nil, err
	}
	for _, d := range g.geom.dims {
		bd := binaryDim{Lower: d.Lower, Upper: d.Upper, Points: uint64(d.Points)}
		if d.Periodic {
			bd.Periodic = 1
		}
		if err := binary.Write(&buf, binary.LittleEndian, bd); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, g.data.values); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, g.data.grads); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into g. The
// encoded geometry must equal g's geometry; otherwise ErrConfig is returned
// and g is unchanged.
func (g *Grid) UnmarshalBinary(data []byte) error {
	src, err := decodeBinary(data)
	if err != nil {
		return err
	}
	return g.replace(src)
}

// DecodeBinary builds a new Grid from data produced by MarshalBinary.
func DecodeBinary(data []byte) (*Grid, error) {
	return decodeBinary(data)
}

func decodeBinary(data []byte) (*Grid, error) {
	r := bytes.NewReader(data)
	var hd binaryHeader
	if err := binary.Read(r, binary.LittleEndian, &hd); err != nil {
		return nil, fmt.Errorf("%w: reading binary header: %v", ErrConfig, err)
	}
	if hd.Magic != binaryMagic {
		return nil, fmt.Errorf("%w: not a grid snapshot (magic %#x)", ErrConfig, hd.Magic)
	}
	if hd.Version != binaryVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrConfig, hd.Version)
	}
	if hd.NDim == 0 || int64(hd.NDim)*32 > int64(r.Len()) {
		return nil, fmt.Errorf("%w: bad dimension count %d", ErrConfig, hd.NDim)
	}

	dims := make([]Dimension, hd.NDim)
	for i := range dims {
		var bd binaryDim
		if err := binary.Read(r, binary.LittleEndian, &bd); err != nil {
			return nil, fmt.Errorf("%w: reading dimension %d: %v", ErrConfig, i, err)
		}
		dims[i] = Dimension{Lower: bd.Lower, Upper: bd.Upper, Periodic: bd.Periodic != 0, Points: int(bd.Points)}
	}
	geom, err := NewGeometryFromDims(dims)
	if err != nil {
		return nil, err
	}
	if uint64(geom.cells) != hd.Cells {
		return nil, fmt.Errorf("%w: header declares %d cells, geometry has %d", ErrConfig, hd.Cells, geom.cells)
	}
	// Compare per-cell so a hostile cell count cannot overflow the size.
	per := 4 + 8*geom.NDim()
	if r.Len()%per != 0 || r.Len()/per != geom.cells {
		return nil, fmt.Errorf("%w: %d payload bytes do not hold %d cells", ErrConfig, r.Len(), geom.cells)
	}

	g := NewWithGeometry(geom)
	if err := binary.Read(r, binary.LittleEndian, g.data.values); err != nil {
		return nil, fmt.Errorf("%w: reading values: %v", ErrConfig, err)
	}
	if err := binary.Read(r, binary.LittleEndian, g.data.grads); err != nil {
		return nil, fmt.Errorf("%w: reading gradients: %v", ErrConfig, err)
	}
	return g, nil
}

// EncodeBlob returns the compressed binary form used as a checkpoint blob.
func (g *Grid) EncodeBlob(c Compression) ([]byte, error) {
	raw, err := g.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return compressBlob(raw, c)
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob []byte, c Compression) (*Grid, error) {
	raw, err := decompressBlob(blob, c)
	if err != nil {
		return nil, err
	}
	return decodeBinary(raw)
}

func compressBlob(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionGzip, "":
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(raw); err != nil {
			gz.Close()
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return zstd.CompressLevel(nil, raw, 1)
	}
	return nil, fmt.Errorf("%w: unknown compression %q", ErrConfig, c)
}

func decompressBlob(blob []byte, c Compression) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty grid blob", ErrConfig)
	}
	switch c {
	case CompressionNone:
		return blob, nil
	case CompressionGzip, "":
		gz, err := gzip.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case CompressionZstd:
		raw, err := zstd.Decompress(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress zstd blob: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %q", ErrConfig, c)
}
