package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchAllCollectsAllResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	batch := NewBatch(NewClient())
	r1 := batch.AddRequest(srv.URL, MethodGET)
	r2 := batch.AddRequest(srv.URL, MethodGET).AddURLParam("symbol", "BTCUSD")

	failures := batch.FetchAll()
	if failures != 0 {
		t.Fatalf("expected 0 failures, got %d", failures)
	}
	if r1.Response() != `{"ok":true}` {
		t.Fatalf("r1 response = %q", r1.Response())
	}
	if r2.Response() != `{"ok":true}` {
		t.Fatalf("r2 response = %q", r2.Response())
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") == "1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	batch := NewBatch(NewClient())
	batch.AddRequest(srv.URL, MethodGET).AddURLParam("fail", "1")
	good := batch.AddRequest(srv.URL, MethodGET)

	failures := batch.FetchAll()
	if failures != 1 {
		t.Fatalf("expected exactly 1 failure, got %d", failures)
	}
	if good.Response() != "ok" {
		t.Fatalf("sibling request must still succeed, got %q", good.Response())
	}
}

func TestQueryStringJoinsParamsWithAmpersand(t *testing.T) {
	r := &Request{}
	r.AddURLParam("symbol", "BTCUSD").AddURLParam("timestamp", "123")
	if got := r.QueryString(); got != "symbol=BTCUSD&timestamp=123" {
		t.Fatalf("QueryString() = %q", got)
	}
}
