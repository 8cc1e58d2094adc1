// Command backtest runs the Backtest Executor synchronously against a
// stored Algorithm and historical Series, then prints a BacktestResults
// summary table and a closed-trades table.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bikeshrana/pi5-trading-engine/internal/backtest"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dataDir       string
		algorithmName string
		symbol        string
		startStr      string
		endStr        string
		lagTicks      int
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "replay a stored algorithm against historical bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			return runBacktest(dataDir, algorithmName, symbol, start, end, lagTicks)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "document store data directory")
	cmd.Flags().StringVar(&algorithmName, "algorithm", "", "algorithm name to replay (required)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol whose historical bars to replay (required)")
	cmd.Flags().StringVar(&startStr, "start", "", "start date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "end date YYYY-MM-DD (required)")
	cmd.Flags().IntVar(&lagTicks, "lag-ticks", 0, "lag in ticks recorded on the backtest config; fills always use the bar's close")
	_ = cmd.MarkFlagRequired("algorithm")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runBacktest(dataDir, algorithmName, symbol string, start, end time.Time, lagTicks int) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	st, err := store.New(dataDir, logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}

	alg, err := st.LoadAlgorithm(algorithmName)
	if err != nil {
		return fmt.Errorf("load algorithm %q: %w", algorithmName, err)
	}

	var bars []types.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dayBars, err := st.LoadHistoricalBars(symbol, d)
		if err != nil {
			return fmt.Errorf("load historical bars for %s: %w", d.Format("2006-01-02"), err)
		}
		bars = append(bars, dayBars...)
	}
	if len(bars) == 0 {
		return fmt.Errorf("no historical bars found for %s between %s and %s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	s := series.New(symbol)
	for _, bar := range bars {
		if err := s.Append(bar); err != nil {
			return fmt.Errorf("append bar: %w", err)
		}
	}

	bus := events.New(64, logger)
	defer bus.Close()
	executor := backtest.NewExecutor(bus, logger)

	tick := types.TickConfigFor(symbol)
	id, err := executor.CreateBacktest(backtest.Config{
		AlgorithmName: algorithmName,
		Symbol:        symbol,
		ContractID:    symbol,
		StartDate:     start,
		EndDate:       end,
		LagTicks:      lagTicks,
		Tick:          tick,
	})
	if err != nil {
		return fmt.Errorf("create backtest: %w", err)
	}

	done := make(chan *backtest.Results, 1)
	onProgress := func(progress float64) {
		logger.Info().Float64("progress", progress).Msg("backtest progress")
	}
	onComplete := func(results *backtest.Results) {
		done <- results
	}

	if err := executor.RunBacktest(context.Background(), id, alg, s, onProgress, onComplete); err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	results := <-done
	bt, err := executor.GetBacktest(id)
	if err != nil {
		return fmt.Errorf("fetch completed backtest: %w", err)
	}
	snap := bt.Snapshot()

	printSummary(results)
	printTrades(snap.Trades)
	return nil
}

func printSummary(r *backtest.Results) {
	if r == nil {
		fmt.Println("no results: every bar was skipped or no trades were closed")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Total trades", fmt.Sprintf("%d", r.TotalTrades))
	table.Append("Wins / Losses", fmt.Sprintf("%d / %d", r.Wins, r.Losses))
	table.Append("Win rate", fmt.Sprintf("%.1f%%", r.WinRate))
	table.Append("Total P&L", fmt.Sprintf("$%.2f", r.TotalPnL))
	table.Append("Average P&L", fmt.Sprintf("$%.2f", r.AveragePnL))
	table.Append("Largest win", fmt.Sprintf("$%.2f", r.LargestWin))
	table.Append("Largest loss", fmt.Sprintf("$%.2f", r.LargestLoss))
	table.Append("Profit factor", fmt.Sprintf("%.2f", r.ProfitFactor))
	table.Append("Max drawdown", fmt.Sprintf("$%.2f (%.1f%%)", r.MaxDrawdown, r.MaxDrawdownPct))
	table.Append("Average duration", r.AverageDuration.String())
	table.Append("Total commission", fmt.Sprintf("$%.2f", r.TotalCommission))
	table.Append("Ending capital", fmt.Sprintf("$%.2f", r.EndingCapital))
	table.Render()
}

func printTrades(trades []types.ClosedTrade) {
	if len(trades) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Side", "Entry", "Exit", "P&L", "Entry time", "Exit time")
	for i, t := range trades {
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(t.Side),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			fmt.Sprintf("$%.2f", t.PnL),
			t.EntryTime.Format("2006-01-02 15:04:05"),
			t.ExitTime.Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
}
