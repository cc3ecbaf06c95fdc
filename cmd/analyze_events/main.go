package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trade-signal-sim/internal/backtest"
	"trade-signal-sim/internal/database"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/logging"
)

var (
	initialEquity float64
	showTrades    bool
	asJSON        bool
	redisAddr     string
	redisRun      string
	redisSymbols  []string
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "analyze_events [file.jsonl | dir ...]",
		Short: "Summarize and check trade event logs",
		Long: `Reads JSONL event logs written by a replay (or a Redis event stream)
and prints per-instrument statistics plus any structural problems found.`,
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().Float64Var(&initialEquity, "equity", 10000, "initial equity used for PnL")
	rootCmd.Flags().BoolVar(&showTrades, "trades", false, "list every closed trade")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print summaries as JSON")
	rootCmd.Flags().StringVar(&redisAddr, "redis", os.Getenv("REDIS_ADDR"), "read from this Redis instead of files")
	rootCmd.Flags().StringVar(&redisRun, "run", "", "run id to read from Redis")
	rootCmd.Flags().StringSliceVar(&redisSymbols, "instrument", nil, "instruments to read from Redis")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logs, err := loadLogs(cmd.Context(), args)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return fmt.Errorf("no event logs found")
	}

	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	summaries := make([]backtest.Summary, 0, len(names))
	problems := 0
	for _, name := range names {
		evs := logs[name]
		instrument := name
		if len(evs) > 0 {
			instrument = evs[0].Instrument
		}
		s := backtest.Summarize(instrument, initialEquity, evs)
		summaries = append(summaries, s)

		if !asJSON {
			printSummary(out, name, s)
			if showTrades {
				printTrades(out, evs)
			}
		}
		for _, err := range events.Verify(evs) {
			problems++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
		}
	}

	total := backtest.Combine(summaries)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]interface{}{"instruments": summaries, "total": total}); err != nil {
			return err
		}
	} else if len(summaries) > 1 {
		printSummary(out, "TOTAL", total)
	}

	if problems > 0 {
		return fmt.Errorf("%d structural problems found", problems)
	}
	return nil
}

// loadLogs reads every requested log keyed by source name
func loadLogs(ctx context.Context, args []string) (map[string][]events.TradeEvent, error) {
	logs := make(map[string][]events.TradeEvent)

	if redisAddr != "" && redisRun != "" {
		client := database.NewRedisClient(database.RedisConfig{Enabled: true, Addr: redisAddr})
		stream := database.NewRedisEventStream(ctx, client, logging.Default())
		if !stream.IsRedisAvailable() {
			return nil, fmt.Errorf("redis at %s is not reachable", redisAddr)
		}
		for _, inst := range redisSymbols {
			evs, err := stream.Read(ctx, redisRun, inst)
			if err != nil {
				return nil, err
			}
			logs[database.StreamKey(redisRun, inst)] = evs
		}
		return logs, nil
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.jsonl"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		evs, err := events.ReadJSONL(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logs[strings.TrimSuffix(filepath.Base(path), ".jsonl")] = evs
	}
	return logs, nil
}

func printSummary(w io.Writer, name string, s backtest.Summary) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Events:          %d\n", s.Events)
	fmt.Fprintf(w, "Trades:          %d (%d wins / %d losses, %.1f%%)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate)
	fmt.Fprintf(w, "Cumulative R:    %.2f (avg %.2f, max drawdown %.2f)\n", s.CumulativeR, s.AverageR, s.MaxDrawdownR)
	fmt.Fprintf(w, "Equity:          %.2f -> %.2f (%+.2f)\n", s.InitialEquity, s.FinalEquity, s.NetPnL)
	fmt.Fprintf(w, "OCO drops/heals: %d/%d\n", s.OcoDrops, s.OcoHeals)
	fmt.Fprintf(w, "Trailing:        %d armed, %d adjustments\n", s.TrailArms, s.TrailAdjusts)
	fmt.Fprintf(w, "Skips/rejects:   %d/%d, gaps %d\n", s.Skips, s.RiskRejected, s.Gaps)
	for _, k := range sortedKeys(s.ExitsByReason) {
		fmt.Fprintf(w, "  exit %-12s %d\n", k, s.ExitsByReason[k])
	}
	for _, k := range sortedKeys(s.BlocksByReason) {
		fmt.Fprintf(w, "  block %-11s %d\n", k, s.BlocksByReason[k])
	}
	if s.Error != "" {
		fmt.Fprintf(w, "ABORTED: %s\n", s.Error)
	}
	fmt.Fprintln(w)
}

func printTrades(w io.Writer, evs []events.TradeEvent) {
	entries := make(map[string]events.TradeEvent)
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindSignalEntry:
			entries[ev.TradeID] = ev
		case events.KindClose:
			entry := entries[ev.TradeID]
			r := 0.0
			if ev.R != nil {
				r = *ev.R
			}
			fmt.Fprintf(w, "  %s  %-5s %.5f -> %.5f  %-9s R=%+.2f  conf=%.2f\n",
				ev.Time.Format("2006-01-02 15:04"), ev.Side, ev.Entry, ev.Price, ev.Reason, r, entry.Confidence)
		}
	}
	fmt.Fprintln(w)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
