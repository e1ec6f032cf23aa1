package grid

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	textHeader = "# cvgrid text v1"

	// minCellBytes is the shortest cell token plus its separator.
	minCellBytes = len("0|0 ")
)

// Dump writes every cell value in row-major order: one line per innermost
// row, with an extra blank line after each completed sweep of dimension 1.
// A 1-D grid prints a single row.
func (g *Grid) Dump(w io.Writer) error {
	return g.writeCells(w, func(b []byte, off int) []byte {
		return strconv.AppendFloat(b, float64(g.data.values[off]), 'g', -1, 32)
	})
}

// Serialize returns the deterministic textual form of the grid: a header
// carrying the full geometry followed by every cell as value|g0,g1,...
// in the same layout as Dump. Floats use the shortest representation that
// round-trips exactly.
func (g *Grid) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, textHeader)
	fmt.Fprintf(&buf, "dims %d\n", g.NDim())
	for _, d := range g.geom.dims {
		fmt.Fprintf(&buf, "dim %s %s %t %d\n",
			strconv.FormatFloat(d.Lower, 'g', -1, 64),
			strconv.FormatFloat(d.Upper, 'g', -1, 64),
			d.Periodic, d.Points)
	}
	fmt.Fprintln(&buf, "cells")
	err := g.writeCells(&buf, func(b []byte, off int) []byte {
		b = strconv.AppendFloat(b, float64(g.data.values[off]), 'g', -1, 32)
		b = append(b, '|')
		start := g.data.gradOffset(off, 0)
		for k := 0; k < g.data.ndim; k++ {
			if k > 0 {
				b = append(b, ',')
			}
			b = strconv.AppendFloat(b, g.data.grads[start+k], 'g', -1, 64)
		}
		return b
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCells lays out cells row by row. cell appends the token for one
// flat offset.
func (g *Grid) writeCells(w io.Writer, cell func([]byte, int) []byte) error {
	bw := bufio.NewWriter(w)
	d := g.NDim()
	rowLen := g.geom.dims[d-1].Points
	// Cells per completed sweep of dimension 1. A 2-D grid has a single
	// sweep, so it ends with one blank line; a 1-D grid has none.
	sweep := 0
	switch {
	case d >= 3:
		sweep = g.geom.strides[0]
	case d == 2:
		sweep = g.geom.cells
	}

	line := make([]byte, 0, 64)
	for off := 0; off < g.geom.cells; off += rowLen {
		line = line[:0]
		for j := 0; j < rowLen; j++ {
			if j > 0 {
				line = append(line, ' ')
			}
			line = cell(line, off+j)
		}
		line = append(line, '\n')
		end := off + rowLen
		if sweep > 0 && end%sweep == 0 {
			line = append(line, '\n')
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Deserialize rebuilds a Grid from the output of Serialize.
func Deserialize(data []byte) (*Grid, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	next := func() (string, bool) {
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line != "" {
				return line, true
			}
		}
		return "", false
	}

	line, ok := next()
	if !ok || line != textHeader {
		return nil, fmt.Errorf("%w: missing %q header", ErrConfig, textHeader)
	}
	line, _ = next()
	var ndim int
	if _, err := fmt.Sscanf(line, "dims %d", &ndim); err != nil || ndim < 1 {
		return nil, fmt.Errorf("%w: bad dims line %q", ErrConfig, line)
	}

	var dims []Dimension
	for len(dims) < ndim {
		line, ok = next()
		if !ok {
			return nil, fmt.Errorf("%w: expected %d dim lines, got %d", ErrConfig, ndim, len(dims))
		}
		f := strings.Fields(line)
		if len(f) != 5 || f[0] != "dim" {
			return nil, fmt.Errorf("%w: bad dim line %q", ErrConfig, line)
		}
		lo, err1 := strconv.ParseFloat(f[1], 64)
		hi, err2 := strconv.ParseFloat(f[2], 64)
		per, err3 := strconv.ParseBool(f[3])
		n, err4 := strconv.Atoi(f[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return nil, fmt.Errorf("%w: bad dim line %q", ErrConfig, line)
		}
		dims = append(dims, Dimension{Lower: lo, Upper: hi, Periodic: per, Points: n})
	}
	geom, err := NewGeometryFromDims(dims)
	if err != nil {
		return nil, err
	}

	if line, _ = next(); line != "cells" {
		return nil, fmt.Errorf("%w: expected cells section, got %q", ErrConfig, line)
	}

	if geom.cells > (len(data)+1)/minCellBytes {
		return nil, fmt.Errorf("%w: %d bytes cannot hold %d cells", ErrConfig, len(data), geom.cells)
	}

	g := NewWithGeometry(geom)
	off := 0
	for {
		line, ok = next()
		if !ok {
			break
		}
		for _, tok := range strings.Fields(line) {
			if off >= geom.cells {
				return nil, fmt.Errorf("%w: more than %d cells", ErrConfig, geom.cells)
			}
			if err := g.parseCell(off, tok); err != nil {
				return nil, err
			}
			off++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if off != geom.cells {
		return nil, fmt.Errorf("%w: expected %d cells, got %d", ErrConfig, geom.cells, off)
	}
	return g, nil
}

func (g *Grid) parseCell(off int, tok string) error {
	val, grad, ok := strings.Cut(tok, "|")
	if !ok {
		return fmt.Errorf("%w: cell %d: missing gradient in %q", ErrConfig, off, tok)
	}
	v, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return fmt.Errorf("%w: cell %d: %v", ErrConfig, off, err)
	}
	comps := strings.Split(grad, ",")
	if len(comps) != g.data.ndim {
		return fmt.Errorf("%w: cell %d has %d gradient components, want %d",
			ErrConfig, off, len(comps), g.data.ndim)
	}
	g.data.values[off] = float32(v)
	start := g.data.gradOffset(off, 0)
	for k, c := range comps {
		x, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return fmt.Errorf("%w: cell %d: %v", ErrConfig, off, err)
		}
		g.data.grads[start+k] = x
	}
	return nil
}

// Load overwrites the grid with serialized text. Data whose geometry
// differs from g fails with ErrConfig and leaves g untouched.
func (g *Grid) Load(data []byte) error {
	src, err := Deserialize(data)
	if err != nil {
		return err
	}
	return g.replace(src)
}
