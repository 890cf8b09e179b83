package render

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"iotchart/internal/chart"
)

const (
	defaultWidth  = 600
	defaultHeight = 100
	xLabelCount   = 6
	yAutoTicks    = 5
)

// frame is the resolved plotting area of one draw.
type frame struct {
	width, height int
	xLow, xHigh   int64
	yLow, yHigh   float64
	yTicks        []float64
}

func resolveFrame(set chart.SeriesSet, opts chart.Options) frame {
	f := frame{width: opts.Width, height: opts.Height}
	if f.width <= 0 {
		f.width = defaultWidth
	}
	if f.height <= 0 {
		f.height = defaultHeight
	}

	f.xLow, f.xHigh = opts.AxisX.Low, opts.AxisX.High
	if opts.AxisX.Scale == chart.ScaleAuto || f.xHigh <= f.xLow {
		if lo, hi, ok := xExtent(set); ok {
			f.xLow, f.xHigh = lo, hi
		}
	}
	if f.xHigh <= f.xLow {
		f.xHigh = f.xLow + 1
	}

	f.yLow, f.yHigh = opts.AxisY.Low, opts.AxisY.High
	if opts.AxisY.Scale == chart.ScaleAuto || f.yHigh <= f.yLow {
		if lo, hi, ok := yExtent(set); ok {
			f.yLow, f.yHigh = lo, hi
		}
	}
	if f.yHigh <= f.yLow {
		f.yHigh = f.yLow + 1
	}

	for _, t := range opts.AxisY.Ticks {
		if t >= f.yLow && t <= f.yHigh {
			f.yTicks = append(f.yTicks, t)
		}
	}
	if len(f.yTicks) == 0 {
		step := (f.yHigh - f.yLow) / float64(yAutoTicks-1)
		for i := 0; i < yAutoTicks; i++ {
			f.yTicks = append(f.yTicks, f.yLow+float64(i)*step)
		}
	}
	return f
}

func xExtent(set chart.SeriesSet) (int64, int64, bool) {
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	for _, s := range set {
		for _, p := range s {
			lo = min(lo, p.X)
			hi = max(hi, p.X)
		}
	}
	return lo, hi, lo <= hi
}

func yExtent(set chart.SeriesSet) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range set {
		for _, p := range s {
			if math.IsNaN(p.Y) {
				continue
			}
			lo = math.Min(lo, p.Y)
			hi = math.Max(hi, p.Y)
		}
	}
	return lo, hi, lo <= hi
}

// path returns the vertices to draw for s. Step interpolation holds each value
// until the next sample's time.
func path(s chart.Series, interp chart.Interpolation) chart.Series {
	if interp != chart.InterpolationStep || len(s) < 2 {
		return s
	}
	out := make(chart.Series, 0, 2*len(s)-1)
	out = append(out, s[0])
	for i := 1; i < len(s); i++ {
		out = append(out, chart.Point{X: s[i].X, Y: s[i-1].Y}, s[i])
	}
	return out
}

// xTicks returns evenly spaced time ticks across the x range.
func (f frame) xTicks() []int64 {
	ticks := make([]int64, 0, xLabelCount)
	span := f.xHigh - f.xLow
	for i := 0; i < xLabelCount; i++ {
		ticks = append(ticks, f.xLow+span*int64(i)/int64(xLabelCount-1))
	}
	return ticks
}

// timeLabel formats a unix timestamp for an axis spanning span seconds.
func timeLabel(unix, span int64, loc *time.Location, onlyInteger bool) string {
	if loc == nil {
		return strconv.FormatInt(unix, 10)
	}
	t := time.Unix(unix, 0).In(loc)
	switch {
	case span <= 2*60*60:
		if onlyInteger {
			return t.Format("15:04")
		}
		return t.Format("15:04:05")
	case span <= 24*60*60:
		return t.Format("15:04")
	case span <= 7*24*60*60:
		return t.Format("Mon 15:04")
	default:
		return t.Format("Jan 2")
	}
}

func valueLabel(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return fmt.Sprintf("%.2f", v)
}
