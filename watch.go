package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"iotchart/internal/chart"
	"iotchart/internal/command"
	"iotchart/internal/datalog"
	"iotchart/internal/refresh"
	"iotchart/internal/render"
)

type watchOptions struct {
	URL      string
	Hours    float64
	Output   string
	Interval time.Duration
	Width    int
	Height   int
	Scale    string
	Location *time.Location
	Clock    clock.Clock
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions
	var hours string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a chart server and redraw its rolling window into an image file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Hours = cfg.Hours
			if hours != "" {
				h, err := chart.ParseHours(hours)
				if err != nil {
					return fmt.Errorf("invalid --hours: %w", err)
				}
				opts.Hours = h
			}
			opts.Location = cfg.Location

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080/ws", "Command endpoint of the chart server")
	cmd.Flags().StringVar(&hours, "hours", "", "Window duration in hours (default: CHART_HOURS or 1)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "chart.png", "Image file to write; a .svg extension selects SVG")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "Refresh interval; 0 draws once and exits")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Image width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Image height in pixels")
	cmd.Flags().StringVar(&opts.Scale, "scale", "fixed", "Y axis: fixed (0 to 1) or auto")
	return cmd
}

// watcher keeps a merged copy of the server's data and redraws the bound chart
// every time more of it arrives.
type watcher struct {
	binder *chart.Binder
	calc   *chart.Calculator
	sel    *chart.Selector
	output string

	mu     sync.Mutex
	order  []string
	data   chart.DataSet
	frames chan struct{}
}

func runWatch(ctx context.Context, opts watchOptions) error {
	sel, err := chart.NewSelector(opts.Hours)
	if err != nil {
		return err
	}
	base := chart.DefaultOptions().WithSize(opts.Width, opts.Height)
	switch opts.Scale {
	case "", "fixed":
	case "auto":
		base.AxisY = chart.AxisY{Scale: chart.ScaleAuto}
		base.Interpolation = chart.InterpolationLine
	default:
		return fmt.Errorf("invalid scale %q", opts.Scale)
	}

	var engine chart.Engine = render.NewPNGEngine(opts.Location, nil)
	if strings.EqualFold(filepath.Ext(opts.Output), ".svg") {
		engine = render.NewSVGEngine(opts.Location)
	}

	calc := chart.NewCalculator(opts.Clock)
	w := &watcher{
		binder: chart.NewBinder(calc, engine, sel, base),
		calc:   calc,
		sel:    sel,
		output: opts.Output,
		frames: make(chan struct{}, 1),
	}
	if _, err := w.binder.Initialize(filepath.Base(opts.Output), nil); err != nil {
		return err
	}

	client, err := command.Dial(ctx, opts.URL, w.onMessage)
	if err != nil {
		return err
	}
	defer client.Close()

	trigger := refresh.NewTrigger(calc, client)

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		// a server that hangs up ends the watch
		defer cancel()
		return client.Run(gctx)
	})
	g.Go(func() error {
		defer client.Close()
		if err := client.SendCommand(gctx, command.GetHeader, nil); err != nil {
			return err
		}
		if err := trigger.RequestRefresh(gctx, sel.Hours()); err != nil {
			return err
		}
		if opts.Interval <= 0 {
			select {
			case <-w.frames:
				logrus.Infof("Wrote %s", w.output)
			case <-gctx.Done():
			}
			return nil
		}
		stop, err := trigger.Poll(gctx, opts.Interval, sel)
		if err != nil {
			return err
		}
		<-gctx.Done()
		return stop()
	})
	return g.Wait()
}

func (w *watcher) onMessage(msg command.Message) {
	switch msg.Cmd {
	case command.ChartHeader:
		var reply headerReply
		if err := msg.Decode(&reply); err != nil {
			logrus.Warnf("Bad chart header: %v", err)
			return
		}
		w.mu.Lock()
		w.order = columnNames(reply.Header)
		w.mu.Unlock()
		logrus.Infof("Watching %s with %d columns", reply.Header.Name, reply.Header.NumCols)
	case command.ChartData:
		if err := w.apply(msg); err != nil {
			logrus.Warnf("Chart update failed: %v", err)
		}
	case command.Error:
		var reply command.ErrorReply
		if err := msg.Decode(&reply); err == nil {
			logrus.Warnf("Server error: %s", reply.Error)
		}
	default:
		logrus.Debugf("Ignoring reply=%s", msg.Cmd)
	}
}

func (w *watcher) apply(msg command.Message) error {
	var reply chartDataReply
	if err := msg.Decode(&reply); err != nil {
		return err
	}
	window, err := w.calc.Compute(w.sel.Hours())
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.data = w.data.Merge(reply.Chart, window.Start)
	set := w.data.SeriesSet(w.order)
	w.mu.Unlock()

	if err := w.binder.Update(set); err != nil {
		return err
	}
	if err := writeImage(w.output, w.binder.Handle()); err != nil {
		return err
	}
	select {
	case w.frames <- struct{}{}:
	default:
	}
	return nil
}

func columnNames(h datalog.Header) []string {
	names := make([]string, len(h.Cols))
	for i, col := range h.Cols {
		names[i] = col.Name
	}
	return names
}

// writeImage replaces path with the handle's latest frame.
func writeImage(path string, h chart.Handle) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := h.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
