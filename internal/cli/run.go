package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surgeload/internal/config"
	"github.com/wesleyorama2/surgeload/internal/engine"
	"github.com/wesleyorama2/surgeload/internal/history"
	"github.com/wesleyorama2/surgeload/internal/metrics"
	"github.com/wesleyorama2/surgeload/internal/report"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or the built-in surge pricing
profile when no file is given.

Built-in profile against a local service:
  surgeload run --base-url http://localhost:8080

Lower rates and a shorter run:
  surgeload run --rate pricing_load=100 --rate driver_updates=50 --duration 10s

Config file with an extra threshold:
  surgeload run -c smoke.yaml --threshold 'http_req_duration: p(99)<250'

Exit status is 0 when every threshold passes, 1 when one fails and 2 when
the configuration is invalid.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Path to a YAML or JSON test configuration")
	f.String("env-file", "", "Load environment variables from this file (default .env)")
	f.String("base-url", "", "Base URL of the service under test")
	f.StringArray("rate", nil, "Arrival rate per time unit as name=value, or a bare value for all scenarios")
	f.Duration("duration", 0, "Override every scenario's duration")
	f.Int("vus", 0, "Override pre-allocated virtual users")
	f.Int("max-vus", 0, "Override maximum virtual users")
	f.Duration("timeout", 0, "Override the per-request timeout")
	f.Duration("graceful-stop", 0, "Override how long in-flight requests may finish")
	f.StringArray("threshold", nil, "Threshold as 'metric{tags}: expression' (repeatable)")
	f.StringSlice("scenario", nil, "Only run the named scenarios")
	f.StringP("out", "o", "", "Write JSON results to this file (default load-test-results.json)")
	f.String("html", "", "Also write an HTML report to this file")
	f.String("history-db", "", "Record the run in this history database")
	f.String("metrics-addr", "", "Serve prometheus metrics on this address during the run")
	f.Bool("no-color", false, "Disable colored output")
	f.BoolP("quiet", "q", false, "Do not print live progress")
	f.Bool("distribution", false, "Include the latency distribution in the report")
	f.Duration("progress-interval", time.Second, "Interval between progress lines")

	return cmd
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []engine.Option{engine.WithLogger(logger)}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		observer := metrics.NewPrometheusObserver()
		shutdown, err := serveMetrics(metricsAddr, observer, logger)
		if err != nil {
			return &ExitError{Code: ExitConfig, Err: err}
		}
		defer shutdown()
		opts = append(opts, engine.WithObserver(observer))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	quiet, _ := cmd.Flags().GetBool("quiet")
	distribution, _ := cmd.Flags().GetBool("distribution")
	interval, _ := cmd.Flags().GetDuration("progress-interval")

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if !quiet {
		fmt.Fprintf(stderr, "Running %s (%d scenarios) against %s\n",
			eng.Config().Name, len(eng.Config().Scenarios), eng.Config().Settings.BaseURL)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if quiet {
			return
		}
		report.NewProgress(stderr, report.SchemeFor(stderr, noColor), interval).Watch(watchCtx, eng)
	}()

	res, runErr := eng.Run(ctx)
	stopWatch()
	<-done
	if runErr != nil {
		return fmt.Errorf("load test failed: %w", runErr)
	}

	if err := report.RenderText(stdout, res, report.Options{
		Colors:       report.SchemeFor(stdout, noColor),
		Distribution: distribution,
	}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if out := eng.Config().Settings.Output; out != "" {
		if err := report.WriteJSON(out, res); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(stderr, "Results written to %s\n", out)
		}
	}

	if htmlPath, _ := cmd.Flags().GetString("html"); htmlPath != "" {
		if err := report.GenerateHTML(res, htmlPath); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(stderr, "HTML report written to %s\n", htmlPath)
		}
	}

	if path, _ := cmd.Flags().GetString("history-db"); path != "" {
		if err := recordRun(path, res); err != nil {
			return err
		}
	}

	if !res.Passed {
		return &ExitError{Code: ExitFailed}
	}
	return nil
}

func recordRun(path string, res *engine.Result) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(report.NewDocument(res)); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// loadConfig resolves the test configuration: file or built-in profile,
// then environment, then flags.
func loadConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, err
	}

	var cfg *config.TestConfig
	if configFile != "" {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	o, err := overrideFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	if err := o.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromFlags(cmd *cobra.Command) (*config.Override, error) {
	f := cmd.Flags()
	o := &config.Override{}
	o.BaseURL, _ = f.GetString("base-url")
	o.Duration, _ = f.GetDuration("duration")
	o.VUs, _ = f.GetInt("vus")
	o.MaxVUs, _ = f.GetInt("max-vus")
	o.Timeout, _ = f.GetDuration("timeout")
	o.GracefulStop, _ = f.GetDuration("graceful-stop")
	o.Output, _ = f.GetString("out")
	o.Scenarios, _ = f.GetStringSlice("scenario")

	rates, _ := f.GetStringArray("rate")
	for _, r := range rates {
		name, value, err := config.ParseRateFlag(r)
		if err != nil {
			return nil, err
		}
		if o.Rates == nil {
			o.Rates = make(map[string]float64)
		}
		o.Rates[name] = value
	}

	thresholds, _ := f.GetStringArray("threshold")
	for _, t := range thresholds {
		key, expr, err := config.SplitThresholdFlag(t)
		if err != nil {
			return nil, err
		}
		if o.Thresholds == nil {
			o.Thresholds = make(map[string][]string)
		}
		o.Thresholds[key] = append(o.Thresholds[key], expr)
	}

	return o, nil
}

// serveMetrics exposes the observer's registry on addr until the returned
// function is called.
func serveMetrics(addr string, observer *metrics.PrometheusObserver, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", observer.Handler())
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
