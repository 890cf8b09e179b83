package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"iotchart/internal/datalog"
	"iotchart/internal/refresh"
)

var (
	cfg      Config
	logLevel string
	httpPort string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "iotchart",
		Short: "Rolling time window charts for IoT data logs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = loadConfig(os.Getenv); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				logrus.Fatalf("Invalid LOG_LEVEL: %s", cfg.LogLevel)
			}
			logrus.SetLevel(level)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (default: LOG_LEVEL or INFO)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the data log, chart images and the websocket command endpoint",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&httpPort, "port", "", "HTTP port (default: HTTP_PORT or 8080)")

	rootCmd.AddCommand(serveCmd, newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if httpPort != "" {
		cfg.HttpPort = httpPort
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := openStore(cfg)
	defer store.Close()

	s, err := newServer(cfg, store, clock.New())
	if err != nil {
		return err
	}

	if cfg.Refresh > 0 {
		stop, err := refresh.Every(ctx, cfg.Refresh, s.refreshLive)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv := &http.Server{Addr: ":" + cfg.HttpPort, Handler: s.routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("Starting server on port: %s", cfg.HttpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(cfg Config) datalog.Store {
	if cfg.useInflux() {
		logrus.Infof("Logging to InfluxDB bucket %s at %s", cfg.Influx.Bucket, cfg.Influx.URL)
		return datalog.NewInfluxStore(cfg.Influx, cfg.ChartName, cfg.Columns, nil)
	}
	logrus.Infof("Logging to memory, %d records", cfg.MemoryRecords)
	return datalog.NewMemoryStore(cfg.ChartName, cfg.Columns, cfg.MemoryRecords, nil)
}
