package render

import (
	"bytes"
	"fmt"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"iotchart/internal/chart"
)

// go-chart refuses canvases smaller than its own padding and tick area.
const svgMinHeight = 120

// SVGEngine draws charts as SVG documents with go-chart.
type SVGEngine struct {
	loc *time.Location
}

func NewSVGEngine(loc *time.Location) *SVGEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &SVGEngine{loc: loc}
}

func (e *SVGEngine) Construct(container string, set chart.SeriesSet, opts chart.Options) (chart.Handle, error) {
	return construct(container, "image/svg+xml", e.Render, set, opts)
}

// Render draws one SVG frame.
func (e *SVGEngine) Render(set chart.SeriesSet, opts chart.Options) ([]byte, error) {
	f := resolveFrame(set, opts)
	if f.height < svgMinHeight {
		f.height = svgMinHeight
	}

	span := f.xHigh - f.xLow
	xTicks := []gochart.Tick{}
	for _, x := range f.xTicks() {
		xTicks = append(xTicks, gochart.Tick{Value: float64(x), Label: timeLabel(x, span, e.loc, opts.AxisX.OnlyInteger)})
	}
	yTicks := []gochart.Tick{}
	for _, v := range f.yTicks {
		yTicks = append(yTicks, gochart.Tick{Value: v, Label: valueLabel(v)})
	}

	// The baseline pins both ranges even when every series is empty.
	series := []gochart.Series{
		gochart.ContinuousSeries{
			Name:    "window",
			XValues: []float64{float64(f.xLow), float64(f.xHigh)},
			YValues: []float64{f.yLow, f.yLow},
			Style:   gochart.Style{StrokeWidth: 0, StrokeColor: drawing.ColorTransparent},
		},
	}
	for i, s := range set {
		pts := path(s, opts.Interpolation)
		if len(pts) == 0 {
			continue
		}
		xs := make([]float64, len(pts))
		ys := make([]float64, len(pts))
		for j, p := range pts {
			xs[j] = float64(p.X)
			ys[j] = p.Y
		}
		c := seriesColors[i%len(seriesColors)]
		col := drawing.Color{R: c.R, G: c.G, B: c.B, A: c.A}
		style := gochart.Style{StrokeColor: col, StrokeWidth: lineWidth}
		if opts.ShowPoints {
			style.DotColor = col
			style.DotWidth = pointRadius
		}
		series = append(series, gochart.ContinuousSeries{
			Name:    fmt.Sprintf("series-%d", i),
			XValues: xs,
			YValues: ys,
			Style:   style,
		})
	}

	ch := gochart.Chart{
		Width:      f.width,
		Height:     f.height,
		Background: gochart.Style{Padding: gochart.Box{Top: 10, Left: 10, Right: 16, Bottom: 10}},
		XAxis: gochart.XAxis{
			Range: &gochart.ContinuousRange{Min: float64(f.xLow), Max: float64(f.xHigh)},
			Ticks: xTicks,
		},
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: f.yLow, Max: f.yHigh},
			Ticks: yTicks,
		},
		Series: series,
	}

	var buf bytes.Buffer
	if err := ch.Render(gochart.SVG, &buf); err != nil {
		return nil, fmt.Errorf("svg: %w", err)
	}
	return buf.Bytes(), nil
}
