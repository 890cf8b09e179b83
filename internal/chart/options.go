package chart

// Scale selects how an axis obtains its bounds.
type Scale string

const (
	// ScaleFixed uses the Low and High of the axis as given.
	ScaleFixed Scale = "fixed"
	// ScaleAuto derives bounds from the data.
	ScaleAuto Scale = "auto"
)

// Interpolation selects how consecutive points of a series are joined.
type Interpolation string

const (
	InterpolationStep Interpolation = "step"
	InterpolationLine Interpolation = "line"
)

// AxisX is the time axis. Low and High are unix seconds.
type AxisX struct {
	Scale       Scale `json:"scale"`
	OnlyInteger bool  `json:"only_integer"`
	Low         int64 `json:"low"`
	High        int64 `json:"high"`
}

// AxisY is the value axis. Ticks, when set, are the values that get grid lines and labels.
type AxisY struct {
	Scale Scale     `json:"scale"`
	Ticks []float64 `json:"ticks,omitempty"`
	Low   float64   `json:"low"`
	High  float64   `json:"high"`
}

// Options is the display configuration handed to an Engine.
// Options values are never modified in place; use the With methods to derive a copy.
type Options struct {
	// Width is the pixel width; zero lets the engine choose.
	Width         int           `json:"width,omitempty"`
	Height        int           `json:"height"`
	AxisX         AxisX         `json:"axis_x"`
	AxisY         AxisY         `json:"axis_y"`
	Interpolation Interpolation `json:"interpolation"`
	ShowPoints    bool          `json:"show_points"`
}

// DefaultOptions returns the options of the binary on/off dashboard chart.
func DefaultOptions() Options {
	return Options{
		Height: 100,
		AxisX: AxisX{
			Scale:       ScaleFixed,
			OnlyInteger: true,
		},
		AxisY: AxisY{
			Scale: ScaleFixed,
			Ticks: []float64{0, 1},
			Low:   0,
			High:  1,
		},
		Interpolation: InterpolationStep,
		ShowPoints:    false,
	}
}

// WithWindow returns a copy of o whose x-axis bounds are the window.
func (o Options) WithWindow(w Window) Options {
	c := o.clone()
	c.AxisX.Low = w.Start
	c.AxisX.High = w.End
	return c
}

// WithSize returns a copy of o with the given pixel size. Non-positive values are ignored.
func (o Options) WithSize(width, height int) Options {
	c := o.clone()
	if width > 0 {
		c.Width = width
	}
	if height > 0 {
		c.Height = height
	}
	return c
}

func (o Options) clone() Options {
	c := o
	if o.AxisY.Ticks != nil {
		c.AxisY.Ticks = append([]float64(nil), o.AxisY.Ticks...)
	}
	return c
}
