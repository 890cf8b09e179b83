package render

import (
	"bytes"
	"fmt"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"iotchart/internal/chart"
)

const (
	marginLeft   = 40.0
	marginRight  = 12.0
	marginTop    = 8.0
	marginBottom = 20.0
	pointRadius  = 3.0
	lineWidth    = 2.0
)

var (
	backgroundColor = color.NRGBA{0, 0, 0, 255}
	labelColor      = color.NRGBA{220, 220, 220, 255}
	gridColor       = color.NRGBA{112, 112, 112, 255}
	seriesColors    = []color.NRGBA{
		{115, 191, 105, 255},
		{234, 184, 57, 255},
		{105, 115, 191, 255},
		{242, 73, 92, 255},
		{87, 148, 242, 255},
		{184, 119, 217, 255},
	}
)

// PNGEngine draws charts as PNG images with gg.
type PNGEngine struct {
	loc  *time.Location
	face font.Face
}

// NewPNGEngine returns an engine labelling times in loc. A nil face uses a built-in bitmap font.
func NewPNGEngine(loc *time.Location, face font.Face) *PNGEngine {
	if loc == nil {
		loc = time.UTC
	}
	if face == nil {
		face = basicfont.Face7x13
	}
	return &PNGEngine{loc: loc, face: face}
}

// LoadFontFace loads a TrueType font for use with NewPNGEngine.
func LoadFontFace(path string, points float64) (font.Face, error) {
	face, err := gg.LoadFontFace(path, points)
	if err != nil {
		return nil, fmt.Errorf("load font %s: %w", path, err)
	}
	return face, nil
}

func (e *PNGEngine) Construct(container string, set chart.SeriesSet, opts chart.Options) (chart.Handle, error) {
	return construct(container, "image/png", e.Render, set, opts)
}

// Render draws one PNG frame.
func (e *PNGEngine) Render(set chart.SeriesSet, opts chart.Options) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("Failed to render PNG: %v", r)
			err = fmt.Errorf("png: %v", r)
		}
	}()

	f := resolveFrame(set, opts)
	logrus.Debugf("Rendering PNG width=%d height=%d x=[%d,%d] y=[%g,%g]", f.width, f.height, f.xLow, f.xHigh, f.yLow, f.yHigh)

	plotW := float64(f.width) - (marginLeft + marginRight)
	plotH := float64(f.height) - (marginTop + marginBottom)
	if plotW <= 0 || plotH <= 0 {
		return nil, fmt.Errorf("png: %dx%d leaves no room for the plot", f.width, f.height)
	}
	xScale := plotW / float64(f.xHigh-f.xLow)
	yScale := plotH / (f.yHigh - f.yLow)
	toX := func(x int64) float64 { return marginLeft + float64(x-f.xLow)*xScale }
	toY := func(y float64) float64 { return marginTop + plotH - (y-f.yLow)*yScale }

	dc := gg.NewContext(f.width, f.height)
	dc.SetColor(backgroundColor)
	dc.DrawRectangle(0, 0, float64(f.width), float64(f.height))
	dc.Fill()
	dc.SetFontFace(e.face)

	logrus.Trace("Drawing y-axis grid and labels")
	dc.SetLineWidth(1)
	dc.SetDash(3, 3)
	for _, v := range f.yTicks {
		y := toY(v)
		dc.SetColor(gridColor)
		dc.DrawLine(marginLeft, y, marginLeft+plotW, y)
		dc.Stroke()
		dc.SetColor(labelColor)
		dc.DrawStringAnchored(valueLabel(v), marginLeft-6, y, 1, 0.5)
	}
	dc.SetDash()

	logrus.Trace("Drawing x-axis labels")
	span := f.xHigh - f.xLow
	ticks := f.xTicks()
	for i, x := range ticks {
		ax := 0.5
		if i == 0 {
			ax = 0
		} else if i == len(ticks)-1 {
			ax = 1
		}
		dc.DrawStringAnchored(timeLabel(x, span, e.loc, opts.AxisX.OnlyInteger), toX(x), marginTop+plotH+4, ax, 1)
	}

	if set.Len() == 0 {
		logrus.Debug("No points found - rendering 'No data' message")
		dc.DrawStringAnchored("No data", marginLeft+plotW/2, marginTop+plotH/2, 0.5, 0.5)
		return encodePNG(dc)
	}

	dc.Push()
	dc.DrawRectangle(marginLeft, marginTop, plotW, plotH)
	dc.Clip()
	dc.SetLineWidth(lineWidth)
	for i, s := range set {
		dc.SetColor(seriesColors[i%len(seriesColors)])
		pts := path(s, opts.Interpolation)
		if len(pts) > 1 {
			dc.MoveTo(toX(pts[0].X), toY(pts[0].Y))
			for _, p := range pts[1:] {
				dc.LineTo(toX(p.X), toY(p.Y))
			}
			dc.Stroke()
		}
		if opts.ShowPoints || len(s) == 1 {
			for _, p := range s {
				dc.DrawCircle(toX(p.X), toY(p.Y), pointRadius)
				dc.Fill()
			}
		}
	}
	dc.ResetClip()
	dc.Pop()

	return encodePNG(dc)
}

func encodePNG(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
