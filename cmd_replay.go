package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/logging"
	"trade-signal-sim/internal/metrics"
)

var (
	replaySeed      int64
	replayRunID     string
	replayOutputDir string
	replayJSON      bool

	replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Replay every configured instrument once and print the summary",
		RunE:  runReplay,
	}
)

func init() {
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 0, "override run.seed")
	replayCmd.Flags().StringVar(&replayRunID, "run-id", "", "run identifier (random when empty)")
	replayCmd.Flags().StringVar(&replayOutputDir, "output-dir", "", "override run.output_dir for JSONL event files")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the run result as JSON")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	if cmd.Flags().Changed("seed") {
		cfg.Run.Seed = replaySeed
	}
	if replayOutputDir != "" {
		cfg.Run.OutputDir = replayOutputDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var sinks []events.Sink
	if cfg.Run.OutputDir != "" {
		sinks = append(sinks, events.NewJSONLSink(cfg.Run.OutputDir))
	}
	sinks = append(sinks, st.sinks()...)

	bus := events.NewEventBus()
	recorder := metrics.NewRecorder()
	recorder.Attach(bus)
	bus.Subscribe(events.KindFatal, func(runID string, ev events.TradeEvent) {
		logger.Error().Str("run_id", runID).Str("instrument", ev.Instrument).Str("detail", ev.Detail).Msg("Instrument aborted")
	})

	runCfg := cfg.RunConfig(replayRunID)
	runner := backtest.NewRunner(runCfg, cfg.NewGate(), bus, sinks, logger)
	log := logging.RunContext(logger, runner.RunID(), cfg.Run.Seed)
	log.Info().Int("instruments", len(cfg.Instruments)).Int("sinks", len(sinks)).Msg("Starting replay")

	res := runner.Run(ctx, cfg.InstrumentSpecs(cfg.Run.Seed))
	recorder.ObserveRun(res)

	if st.repo != nil {
		runCfg.RunID = runner.RunID()
		raw, err := json.Marshal(runCfg)
		if err == nil {
			err = st.repo.SaveRun(ctx, res, raw)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to save run")
		}
	}

	out := cmd.OutOrStdout()
	if replayJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printSummary(out, res)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d instruments failed", len(failed), len(res.Instruments))
	}
	if len(res.SinkErrors) > 0 {
		return fmt.Errorf("%d sink writes failed", len(res.SinkErrors))
	}
	return nil
}

// printSummary renders a run as a table
func printSummary(w io.Writer, res *backtest.RunResult) {
	fmt.Fprintf(w, "Run %s (seed %d) finished in %s\n\n", res.RunID, res.Seed, res.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTRUMENT\tTRADES\tWIN%\tCUM R\tAVG R\tMAX DD R\tOCO DROP/HEAL\tNET PNL\tSTATUS")
	rows := append(summaries(res), res.Total)
	for _, s := range rows {
		status := "ok"
		if s.Error != "" {
			status = "FAILED: " + s.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.2f\t%.2f\t%.2f\t%d/%d\t%.2f\t%s\n",
			s.Instrument, s.TotalTrades, s.WinRate, s.CumulativeR, s.AverageR, s.MaxDrawdownR,
			s.OcoDrops, s.OcoHeals, s.NetPnL, status)
	}
	tw.Flush()

	if len(res.Total.ExitsByReason) > 0 {
		fmt.Fprintln(w, "\nExits:")
		printCounts(w, res.Total.ExitsByReason)
	}
	if len(res.Total.BlocksByReason) > 0 {
		fmt.Fprintln(w, "\nBlocked entries:")
		printCounts(w, res.Total.BlocksByReason)
	}
	for _, e := range res.SinkErrors {
		fmt.Fprintf(w, "sink error: %s\n", e)
	}
}

func summaries(res *backtest.RunResult) []backtest.Summary {
	out := make([]backtest.Summary, 0, len(res.Instruments))
	for _, ir := range res.Instruments {
		out = append(out, ir.Summary)
	}
	return out
}

func printCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-16s %d\n", k, counts[k])
	}
}
