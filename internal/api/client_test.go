package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestGetSendsBearerToken(t *testing.T) {
	var gotAuth, gotAccept string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")

	body, err := client.Get(context.Background(), "/api/market/market-tide", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if string(body) != `{"data": []}` {
		t.Errorf("body = %q", body)
	}
}

func TestGetAppendsQuery(t *testing.T) {
	var gotQuery url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	query := url.Values{"limit": []string{"100"}}

	if _, err := client.Get(context.Background(), "/api/stock/SPY/flow-alerts", query); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if gotQuery.Get("limit") != "100" {
		t.Errorf("limit query = %q, want 100", gotQuery.Get("limit"))
	}
}

func TestGetErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		retryAfter  string
		rateLimited bool
		retryable   bool
		wantDelay   time.Duration
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError, retryable: true},
		{name: "bad gateway", status: http.StatusBadGateway, retryable: true},
		{
			name:        "rate limited with header",
			status:      http.StatusTooManyRequests,
			retryAfter:  "7",
			rateLimited: true,
			retryable:   true,
			wantDelay:   7 * time.Second,
		},
		{
			name:        "rate limited without header",
			status:      http.StatusTooManyRequests,
			rateLimited: true,
			retryable:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			client := NewClient(server.URL, "tok")

			_, err := client.Get(context.Background(), "/x", nil)
			if err == nil {
				t.Fatal("expected error")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %T is not *APIError", err)
			}

			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.IsRateLimited() != tt.rateLimited {
				t.Errorf("IsRateLimited = %v, want %v", apiErr.IsRateLimited(), tt.rateLimited)
			}
			if apiErr.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", apiErr.IsRetryable(), tt.retryable)
			}
			if apiErr.RetryAfter != tt.wantDelay {
				t.Errorf("RetryAfter = %v, want %v", apiErr.RetryAfter, tt.wantDelay)
			}
			if len(apiErr.Body) == 0 {
				t.Error("Body not captured")
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"10", 10 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, "/slow", nil); err == nil {
		t.Error("expected error after context deadline")
	}
}
