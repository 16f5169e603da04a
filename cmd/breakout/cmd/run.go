package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/breakout/engine"
	"github.com/rustyeddy/breakout/feed"
	"github.com/rustyeddy/breakout/journal"
	"github.com/rustyeddy/breakout/metrics"
	"github.com/rustyeddy/breakout/signal"
	"github.com/rustyeddy/breakout/sim"
	"github.com/rustyeddy/breakout/store"
	"github.com/rustyeddy/breakout/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay daily bars through the simulated broker",
	Long: `Run the bot against a CSV of daily bars:

  date,instrument,open,high,low,close

Each date becomes a session: the open stages entries, the bar's
high and low are visited in the order its direction implies, and the close
ends the day. Trades and daily summaries go to the configured journal.

Example:
  breakout run -c breakout.yaml --bars data/bars.csv --metrics-addr :9102`,
	RunE: runRun,
}

var (
	runBarsPath    string
	runMetricsAddr string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runBarsPath, "bars", "b", "", "path to daily bar CSV (required)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	runCmd.MarkFlagRequired("bars")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logrus.WithField("component", "run")

	bars, err := feed.LoadBars(runBarsPath)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	days := feed.GroupByDay(bars)

	cal, err := cfg.EarningsCalendar()
	if err != nil {
		return fmt.Errorf("earnings calendar: %w", err)
	}

	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	kv, kvCloser, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer kvCloser.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := cfg.Strategy
	brk := sim.NewEngine()
	ctrl := strategy.New(
		cfg.Universe.Tickers,
		brk,
		signal.NewGenerator(s.LongEntryOffset, s.ShortEntryOffset, s.TakeProfitPct, s.StopLossPct),
		journal.NewLogger(j),
		strategy.ParamsFromConfig(s, cal),
		strategy.WithStore(kv),
		strategy.WithMetrics(m),
		strategy.WithClock(brk.Now),
	)

	out := cmd.OutOrStdout()
	eng := engine.New(ctrl, engine.WithSummaryHook(func(sum journal.DailySummary) {
		text, err := journal.FormatSummaryOrg(sum)
		if err != nil {
			log.WithError(err).Warn("format summary")
			return
		}
		fmt.Fprint(out, text)
	}))
	brk.SetOrderEventListener(eng)

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	g.Go(func() error { return eng.Run(runCtx) })

	addr := runMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", addr).Info("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer finish()
		if err := feed.Replay(runCtx, days, brk, eng); err != nil {
			return err
		}

		snap, err := eng.Snapshot(runCtx)
		if err != nil {
			return err
		}
		printSnapshot(cmd, snap, brk.RealizedPL())
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.WithField("days", len(days)).Info("replay finished")
	return nil
}

func printSnapshot(cmd *cobra.Command, snap strategy.Snapshot, realized float64) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "* Book at end of replay")
	for _, p := range snap.Positions {
		if !p.HasPosition {
			continue
		}
		fmt.Fprintf(out, "- %s %s %.0f @ %.2f (%d days)\n", p.Instrument, p.Direction, p.Quantity, p.EntryPrice, p.TradingDaysHeld)
	}
	for _, inst := range snap.Halted {
		fmt.Fprintf(out, "- %s HALTED\n", inst)
	}
	fmt.Fprintf(out, "- Working orders: %d\n", snap.OpenOrders)
	fmt.Fprintf(out, "- Broker realized P/L: %.2f\n", realized)
}
