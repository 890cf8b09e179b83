package chart

import (
	"errors"
	"io"
)

var (
	// ErrRenderFailure wraps any error reported by an Engine or Handle.
	ErrRenderFailure = errors.New("render failure")
	// ErrNotInitialized is returned by Binder.Update before Binder.Initialize.
	ErrNotInitialized = errors.New("chart not initialized")
	// ErrAlreadyInitialized is returned by a second call to Binder.Initialize.
	ErrAlreadyInitialized = errors.New("chart already initialized")
)

// Engine constructs rendered charts.
type Engine interface {
	Construct(container string, set SeriesSet, opts Options) (Handle, error)
}

// Handle is a constructed chart. Update redraws it; Encode writes the latest frame.
type Handle interface {
	Container() string
	Update(set SeriesSet, opts Options) error
	Encode(w io.Writer) error
	ContentType() string
}
