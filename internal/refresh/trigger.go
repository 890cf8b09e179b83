// Package refresh asks a backend for chart data covering the selected window.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"iotchart/internal/chart"
	"iotchart/internal/command"
)

// ErrDispatchFailure wraps errors from the Dispatcher.
var ErrDispatchFailure = errors.New("refresh dispatch failure")

// Dispatcher sends a named command with a payload. command.Client implements it.
type Dispatcher interface {
	SendCommand(ctx context.Context, name string, payload map[string]any) error
}

// Trigger requests chart data. It never waits for, or looks at, the reply.
type Trigger struct {
	calc     *chart.Calculator
	dispatch Dispatcher
}

func NewTrigger(calc *chart.Calculator, dispatch Dispatcher) *Trigger {
	return &Trigger{calc: calc, dispatch: dispatch}
}

// RequestRefresh asks for every sample newer than now minus hours.
func (t *Trigger) RequestRefresh(ctx context.Context, hours float64) error {
	since, err := t.calc.Since(hours)
	if err != nil {
		return err
	}
	logrus.Debugf("Requesting chart data hours=%g since=%d", hours, since)
	if err := t.dispatch.SendCommand(ctx, command.GetChartData, map[string]any{"since": since}); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatchFailure, err)
	}
	return nil
}

// Poll calls RequestRefresh every interval with the selector's current hours
// until the returned stop function is called.
func (t *Trigger) Poll(ctx context.Context, interval time.Duration, sel *chart.Selector) (stop func() error, err error) {
	return Every(ctx, interval, func(ctx context.Context) error {
		return t.RequestRefresh(ctx, sel.Hours())
	})
}

// Every runs fn every interval until the returned stop function is called. A run
// that is still going when the next one is due delays it.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context) error) (stop func() error, err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid refresh interval %s", interval)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := fn(ctx); err != nil {
				logrus.Warnf("Scheduled refresh failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	logrus.Infof("Refreshing chart data every %s", interval)
	scheduler.Start()
	return scheduler.Shutdown, nil
}
