package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/backtest"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/series"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// loadBarsInRange concatenates every historical/<symbol>-<date>.json
// file the Document Store holds for each day in [start, end], in
// order, for the Backtest Executor's replay input (spec §4.7 step 1).
func loadBarsInRange(st *store.Store, symbol string, start, end time.Time) ([]types.Bar, error) {
	var all []types.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		bars, err := st.LoadHistoricalBars(symbol, d)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		return nil, apperr.NotFoundf("no historical bars for %s between %s and %s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return all, nil
}

// buildSeries appends every bar in order into a fresh Series for the
// replay, surfacing the first OHLC-invariant or ordering violation as
// a Validation error rather than panicking mid-run.
func buildSeries(contractID string, bars []types.Bar) (*series.Series, error) {
	s := series.New(contractID)
	for _, bar := range bars {
		if err := s.Append(bar); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (h *handlers) listBacktestDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.deps.Store.ListBacktestDefinitions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *handlers) createBacktestDefinition(w http.ResponseWriter, r *http.Request) {
	var def store.BacktestDefinition
	if err := decodeBody(r, &def); err != nil {
		writeError(w, err)
		return
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.LastModifiedAt = now
	if err := h.deps.Store.SaveBacktestDefinition(def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (h *handlers) getBacktestDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.deps.Store.LoadBacktestDefinition(urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *handlers) updateBacktestDefinition(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	existing, err := h.deps.Store.LoadBacktestDefinition(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var patch store.BacktestDefinition
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	patch.ID = id
	patch.CreatedAt = existing.CreatedAt
	patch.LastModifiedAt = time.Now().UTC()
	if err := h.deps.Store.SaveBacktestDefinition(patch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patch)
}

func (h *handlers) deleteBacktestDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteBacktestDefinition(urlParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runBacktest starts the replay (spec §4.7) for a previously-created
// definition: loads the algorithm and the historical bars spanning the
// definition's date range, then hands both to the Backtest Executor.
// The Executor publishes BacktestUpdateEvent as the run progresses and
// AppendBacktestResult records the final Results once it completes.
func (h *handlers) runBacktest(w http.ResponseWriter, r *http.Request) {
	defID := urlParam(r, "id")
	def, err := h.deps.Store.LoadBacktestDefinition(defID)
	if err != nil {
		writeError(w, err)
		return
	}
	alg, err := h.deps.Store.LoadAlgorithm(def.AlgorithmName)
	if err != nil {
		writeError(w, err)
		return
	}

	bars, err := loadBarsInRange(h.deps.Store, def.Symbol, def.StartDate, def.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	tick := types.TickConfigFor(def.Symbol)
	s, err := buildSeries(def.Symbol, bars)
	if err != nil {
		writeError(w, err)
		return
	}

	runID, err := h.deps.Backtests.CreateBacktest(backtest.Config{
		DefinitionID:    def.ID,
		AlgorithmName:   def.AlgorithmName,
		Symbol:          def.Symbol,
		ContractID:      def.Symbol,
		StartDate:       def.StartDate,
		EndDate:         def.EndDate,
		LagTicks:        def.LagTicks,
		Tick:            tick,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// The run outlives this request (RunBacktest starts it in the
	// background), so onProgress/onComplete must publish against a
	// context that does not get canceled when the handler returns —
	// r.Context() would make every late Publish a silent no-op.
	runCtx := context.Background()
	onProgress := func(progress float64) {
		h.deps.Bus.Publish(runCtx, events.NewBacktestUpdateEvent(runID, string(backtest.StatusRunning), progress))
	}
	onComplete := func(results *backtest.Results) {
		bt, err := h.deps.Backtests.GetBacktest(runID)
		if err != nil {
			h.logger.Error().Err(err).Str("backtest_id", runID).Msg("backtest completed but run vanished from the executor's set")
			return
		}
		snap := bt.Snapshot()
		status := string(snap.Status)
		h.deps.Bus.Publish(runCtx, events.NewBacktestUpdateEvent(runID, status, 100))
		_ = h.deps.Store.AppendBacktestResult(store.BacktestResultSnapshot{
			BacktestID:   runID,
			DefinitionID: def.ID,
			Status:       status,
			Trades:       snap.Trades,
			Results:      results,
			CompletedAt:  time.Now().UTC(),
		})
	}

	if err := h.deps.Backtests.RunBacktest(runCtx, runID, alg, s, onProgress, onComplete); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (h *handlers) stopBacktest(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Backtests.StopBacktest(urlParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) backtestStatus(w http.ResponseWriter, r *http.Request) {
	bt, err := h.deps.Backtests.GetBacktest(urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt.Snapshot())
}

func (h *handlers) listBacktestRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.deps.Store.ListBacktestResults()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handlers) getBacktestRun(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "runId")
	runs, err := h.deps.Store.ListBacktestResults()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, run := range runs {
		if run.BacktestID == runID {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}
	writeError(w, apperr.NotFoundf("backtest run %s not found", runID))
}

func (h *handlers) deleteBacktestRun(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.DeleteBacktestResult(urlParam(r, "runId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
