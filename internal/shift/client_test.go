package shift

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"swapbot/internal/config"
	"swapbot/internal/exchange"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.ShiftConfig{
		BaseURL: baseURL,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestRequestQuote_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/quotes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["depositCoin"] != "usdt" || body["settleCoin"] != "btc" {
			t.Errorf("unexpected coins in body: %v", body)
		}
		if body["depositAmount"] != "100" {
			t.Errorf("expected depositAmount as string \"100\", got %v", body["depositAmount"])
		}
		_, _ = w.Write([]byte(`{"id":"q-1","rate":"0.000025","settleAmount":"0.0025","expiresAt":"2024-03-01T12:05:00Z"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	quote, err := client.RequestQuote(context.Background(), QuoteRequest{
		Pair:   exchange.Pair{FromCoin: "USDT", ToCoin: "BTC"},
		Amount: 100,
	})
	if err != nil {
		t.Fatalf("RequestQuote returned error: %v", err)
	}
	if quote.ID != "q-1" || quote.Rate != 0.000025 || quote.SettleAmount != 0.0025 {
		t.Errorf("unexpected quote: %+v", quote)
	}
}

func TestCreateShift_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shifts/fixed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["quoteId"] != "q-1" || body["settleAddress"] != "bc1q-dest" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"id":"s-1","quoteId":"q-1","depositCoin":"USDT","depositAddress":"0xdeposit","depositAmount":"100","status":"waiting"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	created, err := client.CreateShift(context.Background(), "q-1", "bc1q-dest", "")
	if err != nil {
		t.Fatalf("CreateShift returned error: %v", err)
	}
	if created.ID != "s-1" || created.Status != StatusWaiting || created.DepositAmount != 100 {
		t.Errorf("unexpected shift: %+v", created)
	}
}

func TestCancelShift_RoundTrip(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/shifts/s-1/cancel" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if err := client.CancelShift(context.Background(), "s-1"); err != nil {
		t.Fatalf("CancelShift returned error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly one request, got %d", hits.Load())
	}
}

func TestDoWithRetry_RecoversFromServerError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"s-1","status":"processing"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	current, err := client.GetShift(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("GetShift returned error after retries: %v", err)
	}
	if current.Status != StatusProcessing {
		t.Errorf("unexpected status %s", current.Status)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestDoWithRetry_BusinessErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"pair not supported"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.RequestQuote(context.Background(), QuoteRequest{
		Pair:   exchange.Pair{FromCoin: "USDT", ToCoin: "XYZ"},
		Amount: 1,
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "pair not supported" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", hits.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &APIError{StatusCode: http.StatusInternalServerError}, true},
		{"bad request", &APIError{StatusCode: http.StatusBadRequest}, false},
		{"network", errors.New("connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRequestQuote_ValidatesInput(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	if _, err := client.RequestQuote(context.Background(), QuoteRequest{
		Pair:   exchange.Pair{FromCoin: "USDT", ToCoin: "BTC"},
		Amount: 0,
	}); err == nil {
		t.Error("expected error for non-positive amount")
	}
	if _, err := client.RequestQuote(context.Background(), QuoteRequest{
		Pair:   exchange.Pair{FromCoin: "", ToCoin: "BTC"},
		Amount: 1,
	}); err == nil {
		t.Error("expected error for invalid pair")
	}
}
