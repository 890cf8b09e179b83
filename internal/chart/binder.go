package chart

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Binder owns one chart handle and keeps its x-axis on the rolling window
// selected by its Selector.
type Binder struct {
	calc     *Calculator
	engine   Engine
	selector *Selector
	base     Options

	mu     sync.Mutex
	handle Handle
	opts   Options
	window Window
}

func NewBinder(calc *Calculator, engine Engine, selector *Selector, base Options) *Binder {
	base = base.clone()
	return &Binder{
		calc:     calc,
		engine:   engine,
		selector: selector,
		base:     base,
		opts:     base,
	}
}

// Initialize constructs the chart for container with the initial series set.
func (b *Binder) Initialize(container string, set SeriesSet) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle != nil {
		return nil, fmt.Errorf("%w: bound to %q", ErrAlreadyInitialized, b.handle.Container())
	}
	opts, err := b.boundLocked()
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Constructing chart container=%s window=[%d,%d] series=%d", container, opts.AxisX.Low, opts.AxisX.High, len(set))
	handle, err := b.engine.Construct(container, set, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: construct %q: %w", ErrRenderFailure, container, err)
	}
	b.handle = handle
	return handle, nil
}

// Update moves the window to now and redraws the chart with set.
func (b *Binder) Update(set SeriesSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return ErrNotInitialized
	}
	opts, err := b.boundLocked()
	if err != nil {
		return err
	}
	logrus.Tracef("Updating chart container=%s window=[%d,%d] points=%d", b.handle.Container(), opts.AxisX.Low, opts.AxisX.High, set.Len())
	if err := b.handle.Update(set, opts); err != nil {
		return fmt.Errorf("%w: update %q: %w", ErrRenderFailure, b.handle.Container(), err)
	}
	return nil
}

// boundLocked recomputes the window and merges it into a fresh copy of the base options.
func (b *Binder) boundLocked() (Options, error) {
	w, err := b.calc.Compute(b.selector.Hours())
	if err != nil {
		return Options{}, err
	}
	b.window = w
	b.opts = b.base.WithWindow(w)
	return b.opts, nil
}

// Handle returns the bound chart, or nil before Initialize.
func (b *Binder) Handle() Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

// Options returns a copy of the options the chart was last drawn with.
func (b *Binder) Options() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.clone()
}

// Window returns the window last computed by Initialize or Update.
func (b *Binder) Window() Window {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// Hours returns the selected duration the binder follows.
func (b *Binder) Hours() float64 {
	return b.selector.Hours()
}
