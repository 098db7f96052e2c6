package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surgeload/internal/target"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local surge pricing service to test against",
		Long: `Serve a stand-in surge pricing API with GET /price, POST /driver/location,
GET /driver/availability and health endpoints.

Latency and failures can be injected to see how they show up in a run:
  surgeload serve --addr :8080 --latency 20ms --jitter 10ms --failure-ratio 0.02`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	def := target.DefaultMarketConfig()
	f := cmd.Flags()
	f.String("addr", ":8080", "Listen address")
	f.Duration("latency", 0, "Delay added to every API response")
	f.Duration("jitter", 0, "Random extra delay up to this value")
	f.Float64("failure-ratio", 0, "Fraction of API requests answered with 503")
	f.Float64("base-fare", def.BaseFare, "Base fare of a quote")
	f.Float64("max-surge", def.MaxSurge, "Highest surge multiplier")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}
	defer func() { _ = logger.Sync() }()

	f := cmd.Flags()
	addr, _ := f.GetString("addr")
	opts := target.Options{Market: target.DefaultMarketConfig()}
	opts.Latency, _ = f.GetDuration("latency")
	opts.Jitter, _ = f.GetDuration("jitter")
	opts.FailureRatio, _ = f.GetFloat64("failure-ratio")
	opts.Market.BaseFare, _ = f.GetFloat64("base-fare")
	opts.Market.MaxSurge, _ = f.GetFloat64("max-surge")

	switch {
	case opts.FailureRatio < 0 || opts.FailureRatio > 1:
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("--failure-ratio must be between 0 and 1, got %g", opts.FailureRatio)}
	case opts.Latency < 0 || opts.Jitter < 0:
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("--latency and --jitter must not be negative")}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	return target.New(opts, logger).ListenAndServe(ctx, addr, func(a net.Addr) {
		fmt.Fprintf(out, "Listening on http://%s\n", a)
	})
}
