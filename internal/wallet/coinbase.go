// Package wallet implements the authenticated REST order-lifecycle clients
// for both venues: create a limit order, cancel one, look up its status,
// and read account balances. Grounded on
// original_source/include/wallet_coinbase.h and
// original_source/include/wallet_binance.h, built on internal/httpx and
// internal/signing rather than reimplementing request signing or transport.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbengine/internal/httpx"
	"arbengine/internal/signing"
	"arbengine/pkg/types"
)

const (
	coinbaseCreateOrderPath  = "/api/v3/brokerage/orders"
	coinbaseCancelOrderPath  = "/api/v3/brokerage/orders/batch_cancel"
	coinbaseGetOrderPathBase = "/api/v3/brokerage/orders/historical"
	coinbaseListAccountsPath = "/api/v3/brokerage/accounts"
)

// CoinbaseWallet is the order-lifecycle client for Coinbase Advanced Trade.
type CoinbaseWallet struct {
	apiKey    string
	apiSecret string
	baseURL   string
	logger    *slog.Logger

	limiter *httpx.RateLimiter
	dryRun  bool // when true, mutating methods return fake success without HTTP calls
}

// SetDryRun toggles dry-run mode: CreateLimitOrder and CancelLimitOrder
// return fake success without making any HTTP request.
func (w *CoinbaseWallet) SetDryRun(dryRun bool) {
	w.dryRun = dryRun
}

// NewCoinbaseWallet constructs a wallet bound to one API key pair.
func NewCoinbaseWallet(apiKey, apiSecret, baseURL string, logger *slog.Logger) *CoinbaseWallet {
	return &CoinbaseWallet{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		logger:    logger.With("component", "coinbase_wallet"),
		limiter:   httpx.NewCoinbaseRateLimiter(),
	}
}

func (w *CoinbaseWallet) sign(requestPath, payload string, tsSeconds, method string) string {
	plain := tsSeconds + method + requestPath + payload
	return signing.Sign(plain, w.apiSecret)
}

type coinbaseOrderConfig struct {
	LimitLimitGTD *coinbaseLimitLimitGTD `json:"limit_limit_gtd,omitempty"`
}

type coinbaseLimitLimitGTD struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	EndTime    string `json:"end_time"`
	PostOnly   bool   `json:"post_only"`
}

type coinbaseCreateOrderRequest struct {
	ClientOrderID     string              `json:"client_order_id"`
	ProductID         string              `json:"product_id"`
	Side              string              `json:"side"`
	OrderConfiguration coinbaseOrderConfig `json:"order_configuration"`
}

type coinbaseCreateOrderResponse struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason"`
	OrderID       string `json:"order_id"`
}

// endTimeOffset matches the source's time_string(10): the GTD end_time is
// ten seconds in the future. The source notes the API rejects an
// end_time below ~4 seconds (spec §9 open question #3). CreateLimitOrder
// does not cancel the order after placing it, so an unfilled remainder
// stays on the book until end_time passes.
const endTimeOffset = 10 * time.Second

// CreateLimitOrder submits a client_order_id'd limit order (spec §4.7). The
// client order id is a UUID (spec §9 bug #5's fix: the source's
// generate_order_uuid just stringifies a Unix timestamp, which collides
// under concurrent submission).
func (w *CoinbaseWallet) CreateLimitOrder(ctx context.Context, side types.Side, pair types.InstrumentPair, limitPrice, quantity float64) (types.OrderStatus, error) {
	if w.dryRun {
		w.logger.Info("DRY-RUN: would create limit order", "venue", types.Coinbase.String(), "pair", pair.String(), "side", side.String(), "price", limitPrice, "size", quantity)
		return types.OrderStatus{OrderID: "dry-run-" + uuid.NewString(), Side: side, State: types.StatusFilled}, nil
	}
	if err := w.limiter.Order.Wait(ctx); err != nil {
		return types.OrderStatus{}, err
	}

	body := coinbaseCreateOrderRequest{
		ClientOrderID: uuid.NewString(),
		ProductID:     pair.Coinbase(),
		Side:          side.String(),
		OrderConfiguration: coinbaseOrderConfig{
			LimitLimitGTD: &coinbaseLimitLimitGTD{
				BaseSize:   strconv.FormatFloat(quantity, 'f', -1, 64),
				LimitPrice: strconv.FormatFloat(limitPrice, 'f', -1, 64),
				EndTime:    time.Now().Add(endTimeOffset).UTC().Format("2006-01-02T15:04:05+00:00"),
				PostOnly:   false,
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return types.OrderStatus{}, fmt.Errorf("marshal create order request: %w", err)
	}

	ts := signing.TimestampSeconds(time.Now())
	signature := w.sign(coinbaseCreateOrderPath, string(payload), ts, "POST")

	client := httpx.NewClient()
	batch := httpx.NewBatch(client)
	req := batch.AddRequest(w.baseURL+coinbaseCreateOrderPath, httpx.MethodPOST).
		AddHeader("accept", "application/json").
		AddHeader("CB-ACCESS-KEY", w.apiKey).
		AddHeader("CB-ACCESS-SIGN", signature).
		AddHeader("CB-ACCESS-TIMESTAMP", ts).
		SetBody(string(payload))

	batch.FetchAll()

	if req.Failed() {
		w.logger.Error("ERROR create limit order request failed", "venue", types.Coinbase.String(), "error", req.ErrMsg())
		return types.OrderStatus{}, fmt.Errorf("create limit order: %s", req.ErrMsg())
	}

	var resp coinbaseCreateOrderResponse
	if err := json.Unmarshal([]byte(req.Response()), &resp); err != nil {
		w.logger.Error("ERROR create limit order response parse failed", "response", req.Response(), "error", err)
		return types.OrderStatus{}, fmt.Errorf("parse create order response: %w", err)
	}
	if !resp.Success {
		w.logger.Error("ERROR create limit order received failed response", "venue", types.Coinbase.String(), "failure_reason", resp.FailureReason)
		return types.OrderStatus{}, fmt.Errorf("create limit order failed: %s", resp.FailureReason)
	}

	w.logger.Info("SUCCESS create limit order succeeded", "venue", types.Coinbase.String(), "order_id", resp.OrderID)
	return types.OrderStatus{OrderID: resp.OrderID, Side: side, State: types.StatusOpen}, nil
}

type coinbaseCancelOrderRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type coinbaseCancelResult struct {
	OrderID       string `json:"order_id"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason"`
}

type coinbaseCancelResponse struct {
	Results []coinbaseCancelResult `json:"results"`
}

// tryCancelLimitOrder makes one cancel attempt and classifies the result
// per spec §8 S5's cancel_order_code state machine.
func (w *CoinbaseWallet) tryCancelLimitOrder(ctx context.Context, orderID string) types.CancelCode {
	if w.dryRun {
		w.logger.Info("DRY-RUN: would cancel order", "venue", types.Coinbase.String(), "order_id", orderID)
		return types.CancelOK
	}
	if err := w.limiter.Cancel.Wait(ctx); err != nil {
		return types.CancelFailed
	}

	body := coinbaseCancelOrderRequest{OrderIDs: []string{orderID}}
	payload, err := json.Marshal(body)
	if err != nil {
		w.logger.Error("ERROR marshal cancel order request failed", "error", err)
		return types.CancelFailed
	}

	ts := signing.TimestampSeconds(time.Now())
	signature := w.sign(coinbaseCancelOrderPath, string(payload), ts, "POST")

	client := httpx.NewClient()
	batch := httpx.NewBatch(client)
	req := batch.AddRequest(w.baseURL+coinbaseCancelOrderPath, httpx.MethodPOST).
		AddHeader("accept", "application/json").
		AddHeader("CB-ACCESS-KEY", w.apiKey).
		AddHeader("CB-ACCESS-SIGN", signature).
		AddHeader("CB-ACCESS-TIMESTAMP", ts).
		SetBody(string(payload))

	batch.FetchAll()

	if req.Failed() {
		w.logger.Error("ERROR cancel order request failed", "venue", types.Coinbase.String(), "error", req.ErrMsg())
		return types.CancelFailed
	}

	var resp coinbaseCancelResponse
	if err := json.Unmarshal([]byte(req.Response()), &resp); err != nil {
		w.logger.Error("ERROR cancel order response parse failed", "response", req.Response(), "error", err)
		return types.CancelFailed
	}

	for _, result := range resp.Results {
		if result.OrderID != orderID {
			continue
		}
		if result.Success {
			return types.CancelOK
		}
		if result.FailureReason == "UNKNOWN_CANCEL_ORDER" {
			return types.CancelUnknownOrder
		}
	}

	w.logger.Warn("WARN failed to cancel order", "order_id", orderID)
	return types.CancelFailed
}

// CancelLimitOrder retries up to attempts times, continuing only on
// UNKNOWN_ORDER (the order may not have propagated to the matching engine
// yet) and giving up immediately on any other failure (spec §8 S5).
func (w *CoinbaseWallet) CancelLimitOrder(ctx context.Context, orderID string, attempts int) bool {
	for i := 0; i < attempts; i++ {
		switch w.tryCancelLimitOrder(ctx, orderID) {
		case types.CancelOK:
			return true
		case types.CancelUnknownOrder:
			w.logger.Info("cancel order retrying after UNKNOWN_ORDER", "order_id", orderID, "attempt", i)
			continue
		default:
			return false
		}
	}
	return false
}

type coinbaseOrderEnvelope struct {
	Order *coinbaseOrder `json:"order"`
	Error string         `json:"error"`
}

type coinbaseOrder struct {
	OrderID string `json:"order_id"`
	Side    string `json:"side"`
	Status  string `json:"status"`
}

// GetOrder looks up an order's current status.
func (w *CoinbaseWallet) GetOrder(ctx context.Context, orderID string) (types.OrderStatus, error) {
	if err := w.limiter.Query.Wait(ctx); err != nil {
		return types.OrderStatus{}, err
	}

	requestPath := fmt.Sprintf("%s/%s", coinbaseGetOrderPathBase, orderID)
	ts := signing.TimestampSeconds(time.Now())
	signature := w.sign(requestPath, "", ts, "GET")

	client := httpx.NewClient()
	batch := httpx.NewBatch(client)
	req := batch.AddRequest(w.baseURL+requestPath, httpx.MethodGET).
		AddHeader("accept", "application/json").
		AddHeader("CB-ACCESS-KEY", w.apiKey).
		AddHeader("CB-ACCESS-TIMESTAMP", ts).
		AddHeader("CB-ACCESS-SIGN", signature)

	batch.FetchAll()

	if req.Failed() {
		return types.OrderStatus{}, fmt.Errorf("get order: %s", req.ErrMsg())
	}

	var env coinbaseOrderEnvelope
	if err := json.Unmarshal([]byte(req.Response()), &env); err != nil {
		return types.OrderStatus{}, fmt.Errorf("parse get order response: %w", err)
	}
	if env.Error != "" {
		return types.OrderStatus{}, fmt.Errorf("get order: %s", env.Error)
	}
	if env.Order == nil {
		return types.OrderStatus{}, fmt.Errorf("get order: unexpected response %s", req.Response())
	}

	return types.OrderStatus{
		OrderID: orderID,
		Side:    types.SideFromString(env.Order.Side),
		State:   types.OrderStateFromString(env.Order.Status),
	}, nil
}

type coinbaseBalance struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type coinbaseAccount struct {
	UUID             string          `json:"uuid"`
	Type             string          `json:"type"`
	AvailableBalance coinbaseBalance `json:"available_balance"`
}

type coinbaseAccountsResponse struct {
	Accounts []coinbaseAccount `json:"accounts"`
}

// Account is one entry of Coinbase's list-accounts response, trimmed to the
// fields FiatBalance needs.
type Account struct {
	UUID     string
	IsFiat   bool
	Currency string
	Balance  float64
}

// ListAccounts fetches every account on the API key, standalone from
// FiatBalance's lookup — mirrors original_source's list_accounts() as its
// own public operation rather than folding it into the balance lookup.
func (w *CoinbaseWallet) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := w.limiter.Query.Wait(ctx); err != nil {
		return nil, err
	}

	ts := signing.TimestampSeconds(time.Now())
	signature := w.sign(coinbaseListAccountsPath, "", ts, "GET")

	client := httpx.NewClient()
	batch := httpx.NewBatch(client)
	req := batch.AddRequest(w.baseURL+coinbaseListAccountsPath, httpx.MethodGET).
		AddHeader("accept", "application/json").
		AddHeader("CB-ACCESS-KEY", w.apiKey).
		AddHeader("CB-ACCESS-TIMESTAMP", ts).
		AddHeader("CB-ACCESS-SIGN", signature)

	batch.FetchAll()

	if req.Failed() {
		return nil, fmt.Errorf("list accounts: %s", req.ErrMsg())
	}

	var resp coinbaseAccountsResponse
	if err := json.Unmarshal([]byte(req.Response()), &resp); err != nil {
		return nil, fmt.Errorf("parse list accounts response: %w", err)
	}

	accounts := make([]Account, 0, len(resp.Accounts))
	for _, account := range resp.Accounts {
		value, err := strconv.ParseFloat(account.AvailableBalance.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance value %q: %w", account.AvailableBalance.Value, err)
		}
		accounts = append(accounts, Account{
			UUID:     account.UUID,
			IsFiat:   account.Type == "ACCOUNT_TYPE_FIAT",
			Currency: account.AvailableBalance.Currency,
			Balance:  value,
		})
	}

	return accounts, nil
}

// AccountCache memoizes a ListAccounts call. original_source's
// get_fiat_account_balance keeps this in a C++ thread_local; Go goroutines
// have no equivalent storage, so each caller that wants memoization across
// repeated lookups holds its own *AccountCache (e.g. one per trader
// goroutine) and passes it into FiatBalance explicitly instead.
type AccountCache struct {
	mu       sync.Mutex
	accounts []Account
	loaded   bool
}

// NewAccountCache creates an empty cache; its first use fetches and
// populates it.
func NewAccountCache() *AccountCache {
	return &AccountCache{}
}

func (c *AccountCache) get(ctx context.Context, w *CoinbaseWallet, refetch bool) ([]Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && !refetch {
		return c.accounts, nil
	}

	accounts, err := w.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	c.accounts = accounts
	c.loaded = true
	return c.accounts, nil
}

// FiatBalance returns the available balance of a fiat account (e.g. "USD"),
// reading through cache until refetch is true. Pass a fresh *AccountCache
// per caller that wants its own memoization lifetime, or share one to share
// the cached snapshot.
func (w *CoinbaseWallet) FiatBalance(ctx context.Context, currency string, cache *AccountCache, refetch bool) (float64, error) {
	accounts, err := cache.get(ctx, w, refetch)
	if err != nil {
		return 0, err
	}

	for _, account := range accounts {
		if account.IsFiat && account.Currency == currency {
			return account.Balance, nil
		}
	}

	return 0, fmt.Errorf("no fiat account found for currency %s", currency)
}
