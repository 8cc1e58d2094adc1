package api

import (
	"net/http"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

const dateLayout = "2006-01-02"

func (h *handlers) getHistoricalBars(w http.ResponseWriter, r *http.Request) {
	symbol := urlParam(r, "symbol")
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var all []types.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		bars, err := h.deps.Store.LoadHistoricalBars(symbol, d)
		if err != nil {
			writeError(w, err)
			return
		}
		all = append(all, bars...)
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handlers) saveHistoricalBars(w http.ResponseWriter, r *http.Request) {
	symbol := urlParam(r, "symbol")
	dateStr := queryParam(r, "date")
	if dateStr == "" {
		writeError(w, apperr.Validationf("date query parameter is required"))
		return
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		writeError(w, apperr.Validationf("invalid date %q: %v", dateStr, err))
		return
	}

	var bars []types.Bar
	if err := decodeBody(r, &bars); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Store.SaveHistoricalBars(symbol, date, bars); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(bars)})
}

func (h *handlers) deleteHistoricalBars(w http.ResponseWriter, r *http.Request) {
	symbol := urlParam(r, "symbol")
	dateStr := queryParam(r, "date")
	if dateStr == "" {
		writeError(w, apperr.Validationf("date query parameter is required"))
		return
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		writeError(w, apperr.Validationf("invalid date %q: %v", dateStr, err))
		return
	}
	if err := h.deps.Store.DeleteHistoricalBars(symbol, date); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := queryParam(r, "startDate")
	endStr := queryParam(r, "endDate")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, apperr.Validationf("startDate and endDate query parameters are required")
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validationf("invalid startDate %q: %v", startStr, err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validationf("invalid endDate %q: %v", endStr, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperr.Validationf("endDate %q is before startDate %q", endStr, startStr)
	}
	return start, end, nil
}
