package wallet

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbengine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPair() types.InstrumentPair {
	return types.NewInstrumentPair("BTC", "USD")
}

func TestCoinbaseCreateLimitOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("CB-ACCESS-SIGN") == "" {
			t.Error("expected CB-ACCESS-SIGN header")
		}
		var body coinbaseCreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body.OrderConfiguration.LimitLimitGTD == nil {
			t.Fatal("expected limit_limit_gtd config")
		}
		json.NewEncoder(w).Encode(coinbaseCreateOrderResponse{Success: true, OrderID: "order-123"})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	status, err := wallet.CreateLimitOrder(context.Background(), types.Buy, testPair(), 100, 1)
	if err != nil {
		t.Fatalf("CreateLimitOrder: %v", err)
	}
	if status.OrderID != "order-123" || status.State != types.StatusOpen {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCoinbaseCreateLimitOrderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(coinbaseCreateOrderResponse{Success: false, FailureReason: "INSUFFICIENT_FUND"})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	if _, err := wallet.CreateLimitOrder(context.Background(), types.Buy, testPair(), 100, 1); err == nil {
		t.Fatal("expected error on failed create order response")
	}
}

// spec §8 S5: UNKNOWN_CANCEL_ORDER is retried, any other failure is not.
func TestCoinbaseCancelRetriesOnUnknownOrder(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			json.NewEncoder(w).Encode(coinbaseCancelResponse{Results: []coinbaseCancelResult{
				{OrderID: "order-123", Success: false, FailureReason: "UNKNOWN_CANCEL_ORDER"},
			}})
			return
		}
		json.NewEncoder(w).Encode(coinbaseCancelResponse{Results: []coinbaseCancelResult{
			{OrderID: "order-123", Success: true},
		}})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	ok := wallet.CancelLimitOrder(context.Background(), "order-123", 3)
	if !ok {
		t.Fatal("expected cancel to eventually succeed")
	}
	if attempt != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempt)
	}
}

func TestCoinbaseCancelStopsOnOtherFailure(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		json.NewEncoder(w).Encode(coinbaseCancelResponse{Results: []coinbaseCancelResult{
			{OrderID: "order-123", Success: false, FailureReason: "INVALID_CANCEL_REQUEST"},
		}})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	ok := wallet.CancelLimitOrder(context.Background(), "order-123", 3)
	if ok {
		t.Fatal("expected cancel to fail")
	}
	if attempt != 1 {
		t.Fatalf("expected exactly 1 attempt on a non-retryable failure, got %d", attempt)
	}
}

func TestCoinbaseListAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(coinbaseAccountsResponse{Accounts: []coinbaseAccount{
			{UUID: "u1", Type: "ACCOUNT_TYPE_CRYPTO", AvailableBalance: coinbaseBalance{Currency: "BTC", Value: "1.5"}},
			{UUID: "u2", Type: "ACCOUNT_TYPE_FIAT", AvailableBalance: coinbaseBalance{Currency: "USD", Value: "250.75"}},
		}})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	accounts, err := wallet.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[1].UUID != "u2" || !accounts[1].IsFiat || accounts[1].Currency != "USD" || accounts[1].Balance != 250.75 {
		t.Fatalf("unexpected account: %+v", accounts[1])
	}
}

func TestCoinbaseFiatBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(coinbaseAccountsResponse{Accounts: []coinbaseAccount{
			{UUID: "u1", Type: "ACCOUNT_TYPE_CRYPTO", AvailableBalance: coinbaseBalance{Currency: "BTC", Value: "1.5"}},
			{UUID: "u2", Type: "ACCOUNT_TYPE_FIAT", AvailableBalance: coinbaseBalance{Currency: "USD", Value: "250.75"}},
		}})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	cache := NewAccountCache()
	balance, err := wallet.FiatBalance(context.Background(), "USD", cache, false)
	if err != nil {
		t.Fatalf("FiatBalance: %v", err)
	}
	if balance != 250.75 {
		t.Fatalf("expected 250.75, got %v", balance)
	}
}

func TestCoinbaseFiatBalanceMemoizesUntilRefetch(t *testing.T) {
	requests := 0
	balance := "250.75"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(coinbaseAccountsResponse{Accounts: []coinbaseAccount{
			{UUID: "u2", Type: "ACCOUNT_TYPE_FIAT", AvailableBalance: coinbaseBalance{Currency: "USD", Value: balance}},
		}})
	}))
	defer srv.Close()

	wallet := NewCoinbaseWallet("key", "secret", srv.URL, discardLogger())
	cache := NewAccountCache()

	if _, err := wallet.FiatBalance(context.Background(), "USD", cache, false); err != nil {
		t.Fatalf("FiatBalance: %v", err)
	}
	balance = "999.00" // server-side balance changes, cache should mask it

	got, err := wallet.FiatBalance(context.Background(), "USD", cache, false)
	if err != nil {
		t.Fatalf("FiatBalance (cached): %v", err)
	}
	if got != 250.75 {
		t.Fatalf("expected cached 250.75, got %v", got)
	}
	if requests != 1 {
		t.Fatalf("expected exactly 1 request before refetch, got %d", requests)
	}

	got, err = wallet.FiatBalance(context.Background(), "USD", cache, true)
	if err != nil {
		t.Fatalf("FiatBalance (refetch): %v", err)
	}
	if got != 999.00 {
		t.Fatalf("expected refetched 999.00, got %v", got)
	}
	if requests != 2 {
		t.Fatalf("expected exactly 2 requests after refetch, got %d", requests)
	}
}
