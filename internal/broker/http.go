package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bikeshrana/pi5-trading-engine/internal/apperr"
	"github.com/bikeshrana/pi5-trading-engine/internal/circuitbreaker"
	"github.com/bikeshrana/pi5-trading-engine/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// globalBreakerKey names the circuit breaker tracking calls with no
// natural contractId (Authenticate, GetAccounts, SearchContracts) —
// spec SPEC_FULL.md §4.14 wraps every Broker Adapter call; historical-bar,
// order and trade-stream calls key their breaker per contractId.
const globalBreakerKey = "broker"

const (
	authTimeout    = 10 * time.Second
	requestTimeout = 30 * time.Second
	// refreshMargin is how far before expiry a cached token is proactively
	// refreshed (spec §4.6: "refreshed 5 min before expiry").
	refreshMargin = 5 * time.Minute
)

// HTTPConfig configures the production Broker Adapter.
type HTTPConfig struct {
	BaseURL      string
	WebSocketURL string
	Username     string
	APIKey       string
	RateLimit    rate.Limit
	RateBurst    int
}

// HTTPBroker is the production Broker Adapter: REST for auth, accounts,
// contracts, historical bars and order placement, WebSocket for the
// ref-counted trade stream. Authenticate calls are rate-limited and
// singleflight-coalesced so concurrent callers share one in-flight
// refresh.
type HTTPBroker struct {
	cfg     HTTPConfig
	http    *http.Client
	logger  zerolog.Logger
	limiter *rate.Limiter
	cb      *circuitbreaker.Manager

	authGroup singleflight.Group
	authMu    sync.RWMutex
	cached    *AuthToken

	subs *subscriptionRegistry
}

// NewHTTPBroker constructs a production Broker Adapter. cb may be nil
// (tests construct an HTTPBroker without a manager); every call is
// then executed directly.
func NewHTTPBroker(cfg HTTPConfig, cb *circuitbreaker.Manager, logger zerolog.Logger) *HTTPBroker {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 10
	}
	b := &HTTPBroker{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.With().Str("component", "broker").Logger(),
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		cb:      cb,
	}
	b.subs = newSubscriptionRegistry(b.openStream)
	return b
}

// withBreaker executes fn through the named circuit breaker (spec
// SPEC_FULL.md §4.14), or directly when no Manager was supplied.
func (b *HTTPBroker) withBreaker(key string, fn func() error) error {
	if b.cb == nil {
		return fn()
	}
	return b.cb.GetOrCreate(key, circuitbreaker.DefaultBrokerConfig()).Execute(fn)
}

// Authenticate returns the cached token, refreshing it when it is
// within refreshMargin of expiry. Concurrent callers during a refresh
// are coalesced onto one in-flight HTTP call via singleflight (spec
// §4.6, §5).
func (b *HTTPBroker) Authenticate(ctx context.Context) (AuthToken, error) {
	b.authMu.RLock()
	cached := b.cached
	b.authMu.RUnlock()

	if cached != nil && time.Until(cached.Expiry) > refreshMargin {
		return *cached, nil
	}

	v, err, _ := b.authGroup.Do("authenticate", func() (any, error) {
		var tok AuthToken
		err := b.withBreaker(globalBreakerKey, func() error {
			var innerErr error
			tok, innerErr = b.authenticateOnce(ctx)
			return innerErr
		})
		return tok, err
	})
	if err != nil {
		return AuthToken{}, err
	}
	return v.(AuthToken), nil
}

func (b *HTTPBroker) authenticateOnce(ctx context.Context) (AuthToken, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return AuthToken{}, apperr.Transientf("rate limiter wait: %v", err)
	}

	reqBody, _ := json.Marshal(map[string]string{"userName": b.cfg.Username, "apiKey": b.cfg.APIKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/auth/loginKey", jsonReader(reqBody))
	if err != nil {
		return AuthToken{}, apperr.Internalf("build auth request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return AuthToken{}, apperr.Transientf("authenticate: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return AuthToken{}, apperr.Permanentf("authenticate rejected (status %d): %s", resp.StatusCode, body)
	}
	if resp.StatusCode != http.StatusOK {
		return AuthToken{}, apperr.Transientf("authenticate failed (status %d): %s", resp.StatusCode, body)
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return AuthToken{}, apperr.Transientf("decode auth response: %v", err)
	}

	token := AuthToken{Token: out.Token, Expiry: out.ExpiresAt}
	b.authMu.Lock()
	b.cached = &token
	b.authMu.Unlock()

	b.logger.Info().Time("expiry", token.Expiry).Msg("broker authentication refreshed")
	return token, nil
}

// invalidate clears the cached token, forcing the next Authenticate
// call to re-authenticate (spec §4.6 error policy: "auth errors
// invalidate the cached token and retry once").
func (b *HTTPBroker) invalidate() {
	b.authMu.Lock()
	b.cached = nil
	b.authMu.Unlock()
}

func (b *HTTPBroker) authHeader(ctx context.Context) (string, error) {
	tok, err := b.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok.Token, nil
}

func (b *HTTPBroker) GetAccounts(ctx context.Context, onlyActive bool) ([]Account, error) {
	var out []Account
	path := fmt.Sprintf("/account/search?onlyActiveAccounts=%t", onlyActive)
	err := b.withBreaker(globalBreakerKey, func() error { return b.getJSON(ctx, path, &out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBroker) SearchContracts(ctx context.Context, query string, live bool) ([]Contract, error) {
	var out []Contract
	path := fmt.Sprintf("/contract/search?text=%s&live=%t", url.QueryEscape(query), live)
	err := b.withBreaker(globalBreakerKey, func() error { return b.getJSON(ctx, path, &out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBroker) GetHistoricalBars(ctx context.Context, contractID, timeframe string, startUTC, endUTC time.Time) ([]types.Bar, error) {
	var out []types.Bar
	path := fmt.Sprintf("/history/bars?contractId=%s&timeframe=%s&start=%s&end=%s",
		url.QueryEscape(contractID), url.QueryEscape(timeframe),
		startUTC.Format(time.RFC3339), endUTC.Format(time.RFC3339))
	err := b.withBreaker(contractID, func() error { return b.getJSON(ctx, path, &out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *HTTPBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	var out OrderResult
	err := b.withBreaker(req.ContractID, func() error { return b.postJSON(ctx, "/order/place", req, &out) })
	if err != nil {
		return OrderResult{}, err
	}
	return out, nil
}

func (b *HTTPBroker) SubscribeTrades(ctx context.Context, contractID string, consumer TradeConsumer) (SubscriptionHandle, error) {
	return b.subs.subscribe(contractID, consumer)
}

// openStream opens the single upstream WebSocket trade stream for
// contractID; called by subscriptionRegistry exactly when the first
// consumer subscribes (spec §4.6, §5, scenario S6).
func (b *HTTPBroker) openStream(contractID string, dispatch func(types.Trade)) (func() error, error) {
	var conn *websocket.Conn
	err := b.withBreaker(contractID, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		header, err := b.authHeader(ctx)
		if err != nil {
			return err
		}

		wsURL := b.cfg.WebSocketURL + "/trades?contractId=" + url.QueryEscape(contractID)
		c, _, dialErr := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": []string{header}})
		if dialErr != nil {
			return apperr.Transientf("dial trade stream for %s: %v", contractID, dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg struct {
				Price float64   `json:"price"`
				Size  int64     `json:"size"`
				TS    time.Time `json:"timestamp"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				b.logger.Warn().Err(err).Str("contract_id", contractID).Msg("trade stream read failed, closing")
				return
			}
			dispatch(types.Trade{Price: msg.Price, Size: msg.Size, Timestamp: msg.TS})
		}
	}()

	return func() error {
		err := conn.Close()
		<-done
		return err
	}, nil
}

func (b *HTTPBroker) getJSON(ctx context.Context, path string, out any) error {
	return b.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (b *HTTPBroker) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperr.Internalf("marshal request body: %v", err)
	}
	return b.doJSON(ctx, http.MethodPost, path, payload, out)
}

// doJSON issues one request and, on a 401, invalidates the cached token
// and retries exactly once with a freshly-authenticated header (spec
// §4.6 error policy: "auth errors invalidate the cached token and retry
// once").
func (b *HTTPBroker) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return apperr.Transientf("rate limiter wait: %v", err)
	}

	unauthorized, err := b.attemptJSON(ctx, method, path, body, out)
	if unauthorized {
		b.invalidate()
		unauthorized, err = b.attemptJSON(ctx, method, path, body, out)
		if unauthorized {
			return apperr.Transientf("%s %s: auth rejected after retry", method, path)
		}
	}
	return err
}

// attemptJSON runs a single request/response cycle. It reports
// unauthorized=true on a 401 so the caller can decide whether to retry,
// rather than returning an error that would abort immediately.
func (b *HTTPBroker) attemptJSON(ctx context.Context, method, path string, body []byte, out any) (unauthorized bool, err error) {
	header, err := b.authHeader(ctx)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, jsonReader(body))
	if err != nil {
		return false, apperr.Internalf("build request: %v", err)
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return false, apperr.Transientf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return true, nil
	case resp.StatusCode >= 500:
		return false, apperr.Transientf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	case resp.StatusCode >= 400:
		return false, apperr.Validationf("%s %s: status %d: %s", method, path, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, apperr.Internalf("decode %s %s response: %v", method, path, err)
		}
	}
	return false, nil
}

func jsonReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}
