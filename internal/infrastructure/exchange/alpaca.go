package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	AlpacaPaperURL  = "https://paper-api.alpaca.markets"
	AlpacaDataURL   = "https://data.alpaca.markets"
	AlpacaStreamURL = "wss://stream.data.alpaca.markets/v2/iex"
)

type AlpacaConfig struct {
	KeyID      string
	SecretKey  string
	TradingURL string
	DataURL    string
	StreamURL  string
	Feed       string
	// RequestsPerSecond throttles REST calls; the broker allows 200/min.
	RequestsPerSecond float64
	// PriceMaxAge is how old a streamed trade may be before REST is used instead.
	PriceMaxAge time.Duration
}

type streamedTrade struct {
	price float64
	at    time.Time
}

// AlpacaAdapter is the MarketGateway for an Alpaca brokerage account.
type AlpacaAdapter struct {
	cfg     AlpacaConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu     sync.Mutex
	wsConn *websocket.Conn
	trades map[string]streamedTrade
}

func NewAlpacaAdapter(cfg AlpacaConfig, logger *zap.Logger) *AlpacaAdapter {
	if cfg.TradingURL == "" {
		cfg.TradingURL = AlpacaPaperURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = AlpacaDataURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = AlpacaStreamURL
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 15 * time.Second
	}

	a := &AlpacaAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 5),
		logger:  logger,
		trades:  make(map[string]streamedTrade),
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, int(to))
		},
	})
	return a
}

// apiResponse carries non-5xx replies through the breaker so client errors
// do not count as gateway failures.
type apiResponse struct {
	status int
	body   []byte
}

func (a *AlpacaAdapter) sendRequest(ctx context.Context, method, base, path string, payload interface{}) (*apiResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := a.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, base+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("APCA-API-KEY-ID", a.cfg.KeyID)
		req.Header.Set("APCA-API-SECRET-KEY", a.cfg.SecretKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s %s: %d %s", domain.ErrGatewayUnavailable, method, path, resp.StatusCode, string(respBody))
		}
		return &apiResponse{status: resp.StatusCode, body: respBody}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	return res.(*apiResponse), nil
}

func apiError(method, path string, resp *apiResponse) error {
	return fmt.Errorf("alpaca %s %s: %d %s", method, path, resp.status, string(resp.body))
}

// GetPrice prefers a fresh streamed trade and falls back to the latest-trade endpoint.
func (a *AlpacaAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	a.mu.Lock()
	t, ok := a.trades[symbol]
	a.mu.Unlock()
	if ok && time.Since(t.at) <= a.cfg.PriceMaxAge && t.price > 0 {
		return t.price, nil
	}

	path := "/v2/stocks/" + url.PathEscape(symbol) + "/trades/latest?feed=" + url.QueryEscape(a.cfg.Feed)
	resp, err := a.sendRequest(ctx, http.MethodGet, a.cfg.DataURL, path, nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, apiError(http.MethodGet, path, resp))
	}

	var result struct {
		Trade struct {
			Price float64   `json:"p"`
			Time  time.Time `json:"t"`
		} `json:"trade"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return 0, err
	}
	if result.Trade.Price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return result.Trade.Price, nil
}

// GetPosition returns the whole-share quantity held; no position is 0.
func (a *AlpacaAdapter) GetPosition(ctx context.Context, symbol string) (int64, error) {
	path := "/v2/positions/" + url.PathEscape(symbol)
	resp, err := a.sendRequest(ctx, http.MethodGet, a.cfg.TradingURL, path, nil)
	if err != nil {
		return 0, err
	}
	if resp.status == http.StatusNotFound {
		return 0, nil
	}
	if resp.status != http.StatusOK {
		return 0, apiError(http.MethodGet, path, resp)
	}

	var result struct {
		Qty string `json:"qty"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return 0, err
	}
	qty, err := decimal.NewFromString(result.Qty)
	if err != nil {
		return 0, fmt.Errorf("position qty %q: %w", result.Qty, err)
	}
	return qty.IntPart(), nil
}

func (a *AlpacaAdapter) GetAccountEquity(ctx context.Context) (float64, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.cfg.TradingURL, "/v2/account", nil)
	if err != nil {
		return 0, err
	}
	if resp.status != http.StatusOK {
		return 0, apiError(http.MethodGet, "/v2/account", resp)
	}

	var result struct {
		Equity string `json:"equity"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return 0, err
	}
	equity, err := decimal.NewFromString(result.Equity)
	if err != nil {
		return 0, fmt.Errorf("account equity %q: %w", result.Equity, err)
	}
	return equity.InexactFloat64(), nil
}

type alpacaOrder struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

func (a *AlpacaAdapter) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderAck, error) {
	payload := map[string]interface{}{
		"symbol":          req.Symbol,
		"qty":             strconv.FormatInt(req.Qty, 10),
		"side":            string(req.Side),
		"type":            "limit",
		"time_in_force":   string(req.TimeInForce),
		"limit_price":     decimal.NewFromFloat(req.LimitPrice).StringFixed(2),
		"extended_hours":  req.ExtendedHours,
		"client_order_id": req.ClientOrderID,
	}

	resp, err := a.sendRequest(ctx, http.MethodPost, a.cfg.TradingURL, "/v2/orders", payload)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusOK:
	case resp.status >= 400 && resp.status < 500:
		return nil, fmt.Errorf("%w: %v", domain.ErrOrderRejected, apiError(http.MethodPost, "/v2/orders", resp))
	default:
		return nil, apiError(http.MethodPost, "/v2/orders", resp)
	}

	var order alpacaOrder
	if err := json.Unmarshal(resp.body, &order); err != nil {
		return nil, err
	}
	return &domain.OrderAck{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: order.ID,
		Status:        mapAlpacaStatus(order.Status),
	}, nil
}

func (a *AlpacaAdapter) lookupOrder(ctx context.Context, clientOrderID string) (*alpacaOrder, error) {
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	resp, err := a.sendRequest(ctx, http.MethodGet, a.cfg.TradingURL, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, domain.ErrOrderNotFound
	}
	if resp.status != http.StatusOK {
		return nil, apiError(http.MethodGet, path, resp)
	}

	var order alpacaOrder
	if err := json.Unmarshal(resp.body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (a *AlpacaAdapter) GetOrderStatus(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	order, err := a.lookupOrder(ctx, clientOrderID)
	if err != nil {
		return "", err
	}
	return mapAlpacaStatus(order.Status), nil
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, clientOrderID string) error {
	order, err := a.lookupOrder(ctx, clientOrderID)
	if err != nil {
		return err
	}
	path := "/v2/orders/" + url.PathEscape(order.ID)
	resp, err := a.sendRequest(ctx, http.MethodDelete, a.cfg.TradingURL, path, nil)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return domain.ErrOrderNotFound
	default:
		return apiError(http.MethodDelete, path, resp)
	}
}

// mapAlpacaStatus folds the broker's order states onto the gateway contract.
// Anything not terminal is reported as new so the level keeps waiting.
func mapAlpacaStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderFilled
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "canceled":
		return domain.OrderCanceled
	case "expired":
		return domain.OrderExpired
	case "rejected", "suspended":
		return domain.OrderRejected
	default:
		return domain.OrderNew
	}
}

// --- Trade stream ---

// RunStream keeps a trade subscription open until ctx is done, reconnecting
// after failures. Streamed prices feed GetPrice.
func (a *AlpacaAdapter) RunStream(ctx context.Context, symbols []string) {
	for {
		if err := a.connectStream(symbols); err != nil {
			a.logger.Warn("Trade stream connect failed", zap.Error(err))
		} else {
			a.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (a *AlpacaAdapter) connectStream(symbols []string) error {
	c, _, err := websocket.DefaultDialer.Dial(a.cfg.StreamURL, nil)
	if err != nil {
		return err
	}

	// Server greets with [{"T":"success","msg":"connected"}].
	if _, _, err := c.ReadMessage(); err != nil {
		c.Close()
		return err
	}
	if err := c.WriteJSON(map[string]interface{}{
		"action": "auth",
		"key":    a.cfg.KeyID,
		"secret": a.cfg.SecretKey,
	}); err != nil {
		c.Close()
		return err
	}
	if err := c.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"trades": symbols,
	}); err != nil {
		c.Close()
		return err
	}

	a.mu.Lock()
	a.wsConn = c
	a.mu.Unlock()
	a.logger.Info("Trade stream connected", zap.Strings("symbols", symbols))
	return nil
}

type streamMessage struct {
	Type   string  `json:"T"`
	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
	Msg    string  `json:"msg"`
	Code   int     `json:"code"`
}

func (a *AlpacaAdapter) readLoop(ctx context.Context) {
	a.mu.Lock()
	conn := a.wsConn
	a.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		conn.Close()
		a.mu.Lock()
		a.wsConn = nil
		a.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("Trade stream read error", zap.Error(err))
			}
			return
		}
		a.handleStreamMessage(message)
	}
}

func (a *AlpacaAdapter) handleStreamMessage(message []byte) {
	var events []streamMessage
	if err := json.Unmarshal(message, &events); err != nil {
		a.logger.Debug("Trade stream unmarshal error", zap.Error(err))
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case "t":
			if ev.Price <= 0 {
				continue
			}
			a.mu.Lock()
			a.trades[ev.Symbol] = streamedTrade{price: ev.Price, at: time.Now()}
			a.mu.Unlock()
		case "error":
			a.logger.Warn("Trade stream error",
				zap.Int("code", ev.Code),
				zap.String("msg", ev.Msg))
		}
	}
}
