package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"iotchart/internal/chart"
)

var errNoFrame = errors.New("no frame rendered")

type drawFunc func(set chart.SeriesSet, opts chart.Options) ([]byte, error)

// frameHandle keeps the last frame drawn for a container.
type frameHandle struct {
	container   string
	contentType string
	draw        drawFunc

	mu    sync.RWMutex
	frame []byte
}

func construct(container, contentType string, draw drawFunc, set chart.SeriesSet, opts chart.Options) (chart.Handle, error) {
	h := &frameHandle{container: container, contentType: contentType, draw: draw}
	if err := h.Update(set, opts); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *frameHandle) Container() string {
	return h.container
}

func (h *frameHandle) ContentType() string {
	return h.contentType
}

// Update draws a new frame. The previous frame is kept when drawing fails.
func (h *frameHandle) Update(set chart.SeriesSet, opts chart.Options) error {
	frame, err := h.draw(set, opts)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.frame = frame
	h.mu.Unlock()
	return nil
}

func (h *frameHandle) Encode(w io.Writer) error {
	h.mu.RLock()
	frame := h.frame
	h.mu.RUnlock()
	if frame == nil {
		return errNoFrame
	}
	if _, err := io.Copy(w, bytes.NewReader(frame)); err != nil {
		return fmt.Errorf("write frame for %s: %w", h.container, err)
	}
	return nil
}
