package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fieldgate/credcore/internal/config"
	credmetrics "github.com/fieldgate/credcore/internal/metrics"
	"github.com/fieldgate/credcore/internal/simulate"
)

var errSimulationFailed = errors.New("simulate: presentation did not succeed")

func simulateCmd() *cobra.Command {
	var scenarioPath string
	var logLevel string
	var metricsAddr string
	var metricsPath string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted presentation scenario without a real radio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSimulate(scenarioPath, logLevel, metricsAddr, metricsPath)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "path to the scenario YAML file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for a Prometheus /metrics endpoint (disabled if empty)")
	cmd.Flags().StringVar(&metricsPath, "metrics-path", "/metrics", "URL path for the Prometheus metrics endpoint")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runSimulate(scenarioPath, logLevel, metricsAddr, metricsPath string) error {
	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("read scenario %s: %w", scenarioPath, err)
	}

	scenario, err := simulate.Load(data)
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", scenarioPath, err)
	}

	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(logLevel)}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *credmetrics.Collector
	var srv *http.Server
	g, gCtx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector = credmetrics.NewCollector(reg)

		mux := http.NewServeMux()
		mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux}

		g.Go(func() error {
			logger.Info("simulate: metrics endpoint listening", "addr", metricsAddr, "path", metricsPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	result, err := simulate.Run(gCtx, scenario, logger, collector)
	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}
	if waitErr := g.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	if err != nil {
		return fmt.Errorf("run scenario: %w", err)
	}

	fmt.Printf("result: success=%v message=%q\n", result.Success, result.Message)
	if !result.Success {
		return errSimulationFailed
	}
	return nil
}
