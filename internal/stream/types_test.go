package stream

import (
	"testing"
	"time"

	"github.com/helios-research/flow-data/internal/model"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantCh  string
		wantErr bool
	}{
		{
			name:   "per-symbol frame",
			data:   `["price:SPY", {"price": 500.1}]`,
			wantCh: "price:SPY",
		},
		{
			name:   "market-wide frame",
			data:   `["flow-alerts", {"id": "a1"}]`,
			wantCh: "flow-alerts",
		},
		{
			name:    "not an array",
			data:    `{"channel": "price"}`,
			wantErr: true,
		},
		{
			name:    "wrong arity",
			data:    `["price:SPY", {}, {}]`,
			wantErr: true,
		},
		{
			name:    "empty channel",
			data:    `["", {}]`,
			wantErr: true,
		},
		{
			name:    "garbage",
			data:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame error: %v", err)
			}
			if frame.Channel != tt.wantCh {
				t.Errorf("Channel = %q, want %q", frame.Channel, tt.wantCh)
			}
		})
	}
}

func TestRecordForFrame(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		channel  string
		wantDS   string
		wantScp  string
		wantKind model.Kind
		wantErr  bool
	}{
		{
			name:     "price snapshot",
			channel:  "price:SPY",
			wantDS:   "price",
			wantScp:  model.SymbolScope("SPY"),
			wantKind: model.KindSnapshot,
		},
		{
			name:     "flow alerts log",
			channel:  "flow-alerts",
			wantDS:   "flow-alerts",
			wantScp:  model.ScopeGlobal,
			wantKind: model.KindBoundedLog,
		},
		{
			name:     "option trades log",
			channel:  "option_trades:TSLA",
			wantDS:   "option_trades",
			wantScp:  model.SymbolScope("TSLA"),
			wantKind: model.KindBoundedLog,
		},
		{
			name:     "gex strike scope",
			channel:  "gex_strike:QQQ",
			wantDS:   "gex_strike",
			wantScp:  model.StrikeScope("QQQ"),
			wantKind: model.KindSnapshot,
		},
		{
			name:     "gex strike expiry scope",
			channel:  "gex_strike_expiry:QQQ",
			wantDS:   "gex_strike_expiry",
			wantScp:  model.ExpiryScope("QQQ"),
			wantKind: model.KindSnapshot,
		},
		{
			name:    "unknown base",
			channel: "mystery:SPY",
			wantErr: true,
		},
		{
			name:    "per-symbol channel without symbol",
			channel: "price",
			wantErr: true,
		},
		{
			name:    "market-wide channel with symbol",
			channel: "news:SPY",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := RecordForFrame(Frame{Channel: tt.channel, Payload: []byte(`{}`)}, now)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordForFrame error: %v", err)
			}
			if rec.Source != model.SourceStream {
				t.Errorf("Source = %q, want stream", rec.Source)
			}
			if rec.Dataset != tt.wantDS {
				t.Errorf("Dataset = %q, want %q", rec.Dataset, tt.wantDS)
			}
			if rec.Scope != tt.wantScp {
				t.Errorf("Scope = %q, want %q", rec.Scope, tt.wantScp)
			}
			if rec.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", rec.Kind, tt.wantKind)
			}
			if !rec.ObservedAt.Equal(now) || !rec.FetchedAt.Equal(now) {
				t.Error("timestamps should equal receive time")
			}
		})
	}
}

func TestSplitChannel(t *testing.T) {
	base, sym := SplitChannel("price:SPY")
	if base != "price" || sym != "SPY" {
		t.Errorf("SplitChannel(price:SPY) = %q, %q", base, sym)
	}

	base, sym = SplitChannel("flow-alerts")
	if base != "flow-alerts" || sym != "" {
		t.Errorf("SplitChannel(flow-alerts) = %q, %q", base, sym)
	}
}

func TestChannelsForSymbols(t *testing.T) {
	channels := ChannelsForSymbols([]string{"SPY", "QQQ"})

	// 2 market-wide + 5 per-symbol × 2 symbols.
	if len(channels) != 12 {
		t.Fatalf("got %d channels, want 12: %v", len(channels), channels)
	}

	want := map[string]bool{
		"flow-alerts":           true,
		"news":                  true,
		"price:SPY":             true,
		"option_trades:SPY":     true,
		"gex:SPY":               true,
		"gex_strike:SPY":        true,
		"gex_strike_expiry:SPY": true,
		"price:QQQ":             true,
	}
	got := make(map[string]bool, len(channels))
	for _, ch := range channels {
		got[ch] = true
	}
	for ch := range want {
		if !got[ch] {
			t.Errorf("missing channel %q", ch)
		}
	}
}
