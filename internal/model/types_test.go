package model

import "testing"

func TestScopeStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{SymbolScope("SPY"), "symbol:SPY"},
		{StrikeScope("QQQ"), "symbol:QQQ:strike"},
		{ExpiryScope("AAPL"), "symbol:AAPL:expiry"},
		{ScopeGlobal, "global"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("scope = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewCorrelationIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if id == "" {
			t.Fatal("empty correlation id")
		}
		if seen[id] {
			t.Fatalf("duplicate correlation id %s", id)
		}
		seen[id] = true
	}
}
