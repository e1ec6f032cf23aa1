package gridplot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// viridis stops, shared by the HTML visual map.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// SaveHeatmapPNG writes the plane as a heatmap image. The output format
// follows the file extension (png, svg, pdf).
func SaveHeatmapPNG(p *Plane, title, path string) error {
	hm := plotter.NewHeatMap(p, palette.Heat(64, 1))
	lo, hi := p.Range()
	if lo == hi {
		// a flat plane still needs a non-empty colour range
		hi = lo + 1
	}
	hm.Min, hm.Max = lo, hi

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = fmt.Sprintf("cv%d", p.XDim)
	pl.Y.Label.Text = fmt.Sprintf("cv%d", p.YDim)
	pl.Add(hm)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	if err := pl.Save(8*vg.Inch, 7*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap: %w", err)
	}
	return nil
}

// RenderHeatmapHTML writes the plane as a standalone go-echarts page.
func RenderHeatmapHTML(w io.Writer, p *Plane, title string) error {
	cols, rows := p.Dims()
	xs := make([]string, cols)
	for c := range xs {
		xs[c] = strconv.FormatFloat(p.X(c), 'g', 6, 64)
	}
	ys := make([]string, rows)
	for r := range ys {
		ys[r] = strconv.FormatFloat(p.Y(r), 'g', 6, 64)
	}
	data := make([]opts.HeatMapData, 0, cols*rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, p.Z(c, r)}})
		}
	}
	lo, hi := p.Range()

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("cv%d x cv%d fixed=%v", p.XDim, p.YDim, p.Fixed)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: fmt.Sprintf("cv%d", p.XDim), NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: fmt.Sprintf("cv%d", p.YDim), NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(xs).AddSeries("value", data)

	if err := hm.Render(w); err != nil {
		return fmt.Errorf("render heatmap: %w", err)
	}
	return nil
}
