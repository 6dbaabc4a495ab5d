package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbengine/pkg/types"
)

func exchangeInfoHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(binanceExchangeInfoResponse{Symbols: []binanceSymbolInfo{
		{
			Symbol: "BTCUSD",
			Filters: []binanceFilterInfo{
				{FilterType: "LOT_SIZE", StepSize: "0.00001000"},
				{FilterType: "PRICE_FILTER", TickSize: "0.01000000"},
			},
		},
	}})
}

func TestNewBinanceWalletLoadsSymbolFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != binanceExchangeInfoPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		exchangeInfoHandler(w, r)
	}))
	defer srv.Close()

	wallet, err := NewBinanceWallet(context.Background(), "key", "secret", srv.URL, []types.InstrumentPair{testPair()}, discardLogger())
	if err != nil {
		t.Fatalf("NewBinanceWallet: %v", err)
	}
	sf, ok := wallet.filters["BTCUSD"]
	if !ok {
		t.Fatal("expected BTCUSD filters to be loaded")
	}
	if sf.stepSize.String() != "0.00001" {
		t.Fatalf("unexpected stepSize: %s", sf.stepSize.String())
	}
}

func TestNewBinanceWalletFailsOnMissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(binanceExchangeInfoResponse{Symbols: nil})
	}))
	defer srv.Close()

	if _, err := NewBinanceWallet(context.Background(), "key", "secret", srv.URL, []types.InstrumentPair{testPair()}, discardLogger()); err == nil {
		t.Fatal("expected error when exchangeInfo omits a required symbol")
	}
}

func newTestBinanceWallet(t *testing.T, orderHandler http.HandlerFunc) *BinanceWallet {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(binanceExchangeInfoPath, exchangeInfoHandler)
	mux.HandleFunc(binanceCreateOrderPath, orderHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wallet, err := NewBinanceWallet(context.Background(), "key", "secret", srv.URL, []types.InstrumentPair{testPair()}, discardLogger())
	if err != nil {
		t.Fatalf("NewBinanceWallet: %v", err)
	}
	return wallet
}

func TestBinanceCreateLimitOrderRoundsToStepSize(t *testing.T) {
	var gotQuantity, gotPrice string
	wallet := newTestBinanceWallet(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") == "" {
			t.Error("expected X-MBX-APIKEY header")
		}
		gotQuantity = r.URL.Query().Get("quantity")
		gotPrice = r.URL.Query().Get("price")
		if r.URL.Query().Get("signature") == "" {
			t.Error("expected signature query param")
		}
		json.NewEncoder(w).Encode(binanceOrderResponse{OrderID: 42, Symbol: "BTCUSD", Side: "BUY", Status: "NEW"})
	})

	status, err := wallet.CreateLimitBuyOrder(context.Background(), testPair(), 100.123456, 1.234567)
	if err != nil {
		t.Fatalf("CreateLimitBuyOrder: %v", err)
	}
	if status.OrderID != "42" || status.State != types.StatusOpen {
		t.Fatalf("unexpected status: %+v", status)
	}
	if gotQuantity != "1.23456" {
		t.Fatalf("expected quantity rounded to stepSize 0.00001, got %s", gotQuantity)
	}
	if gotPrice != "100.12" {
		t.Fatalf("expected price rounded to tickSize 0.01, got %s", gotPrice)
	}
}

func TestBinanceCreateLimitOrderFailure(t *testing.T) {
	code := -1013
	wallet := newTestBinanceWallet(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(binanceOrderResponse{Code: &code, Msg: "Filter failure: LOT_SIZE"})
	})

	if _, err := wallet.CreateLimitBuyOrder(context.Background(), testPair(), 100, 1); err == nil {
		t.Fatal("expected error on a code-carrying response")
	}
}

// spec §9 bug #7: the cancel request must include "symbol" or Binance
// rejects it outright.
func TestBinanceCancelIncludesSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(binanceExchangeInfoPath, exchangeInfoHandler)
	mux.HandleFunc(binanceCancelOrderPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Query().Get("symbol") != "BTCUSD" {
			t.Fatal("expected symbol query param on cancel request")
		}
		json.NewEncoder(w).Encode(binanceOrderResponse{OrderID: 42, Status: "CANCELED"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wallet, err := NewBinanceWallet(context.Background(), "key", "secret", srv.URL, []types.InstrumentPair{testPair()}, discardLogger())
	if err != nil {
		t.Fatalf("NewBinanceWallet: %v", err)
	}
	if !wallet.CancelLimitOrder(context.Background(), testPair(), "42", 1) {
		t.Fatal("expected cancel to succeed")
	}
}

func TestBinanceAssetBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(binanceExchangeInfoPath, exchangeInfoHandler)
	mux.HandleFunc(binanceAccountPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(binanceAccountResponse{Balances: []binanceBalanceEntry{
			{Asset: "USD", Free: "500.25", Locked: "0"},
			{Asset: "BTC", Free: "2", Locked: "0"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wallet, err := NewBinanceWallet(context.Background(), "key", "secret", srv.URL, []types.InstrumentPair{testPair()}, discardLogger())
	if err != nil {
		t.Fatalf("NewBinanceWallet: %v", err)
	}
	balance, err := wallet.AssetBalance(context.Background(), "USD")
	if err != nil {
		t.Fatalf("AssetBalance: %v", err)
	}
	if balance != 500.25 {
		t.Fatalf("expected 500.25, got %v", balance)
	}
}
