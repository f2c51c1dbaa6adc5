// Package catalog holds the static REST endpoint descriptor catalog.
//
// The catalog is loaded once at startup and validated before any scheduling
// begins; an invalid entry is a configuration error and fails the process.
package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// Tier is a cadence class driving how often an endpoint is polled.
// Lower tiers are more urgent and preempt higher tiers when the rate
// limiter is saturated.
type Tier int

const (
	T0 Tier = iota // <= 30s
	T1             // ~5m
	T2             // ~1h
	T3             // daily
)

// NumTiers is the number of cadence tiers.
const NumTiers = 4

func (t Tier) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	}
	return fmt.Sprintf("T?(%d)", int(t))
}

// symbolPlaceholder marks where a symbol is substituted into a path template.
const symbolPlaceholder = "{symbol}"

// Endpoint is a static catalog entry. Immutable at runtime.
type Endpoint struct {
	Key            string     // Unique id, doubles as the dataset name in the sink
	Path           string     // Path template, contains {symbol} when RequiresSymbol
	RequiresSymbol bool       // One fetch per symbol in the universe
	Params         url.Values // Fixed query parameters, may be nil
	Tier           Tier
	Log            bool // Responses append to a bounded log instead of overwriting a snapshot
}

// ResolvePath substitutes the symbol into the path template.
func (e Endpoint) ResolvePath(symbol string) string {
	if !e.RequiresSymbol {
		return e.Path
	}
	return strings.ReplaceAll(e.Path, symbolPlaceholder, symbol)
}

// Catalog is the full set of endpoint descriptors.
type Catalog struct {
	entries []Endpoint
}

// New builds a catalog from the given entries.
func New(entries []Endpoint) *Catalog {
	return &Catalog{entries: entries}
}

// Entries returns all endpoints.
func (c *Catalog) Entries() []Endpoint {
	return c.entries
}

// ByTier returns the endpoints assigned to one tier.
func (c *Catalog) ByTier(tier Tier) []Endpoint {
	var out []Endpoint
	for _, e := range c.entries {
		if e.Tier == tier {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Validate checks the catalog for programming errors. Called once at startup;
// any failure is fatal.
func (c *Catalog) Validate() error {
	if len(c.entries) == 0 {
		return fmt.Errorf("catalog is empty")
	}

	seen := make(map[string]struct{}, len(c.entries))
	for _, e := range c.entries {
		if e.Key == "" {
			return fmt.Errorf("catalog entry with empty key (path %q)", e.Path)
		}
		if _, dup := seen[e.Key]; dup {
			return fmt.Errorf("duplicate catalog key %q", e.Key)
		}
		seen[e.Key] = struct{}{}

		if e.Path == "" || !strings.HasPrefix(e.Path, "/") {
			return fmt.Errorf("catalog entry %q: path must start with '/', got %q", e.Key, e.Path)
		}

		hasPlaceholder := strings.Contains(e.Path, symbolPlaceholder)
		if e.RequiresSymbol && !hasPlaceholder {
			return fmt.Errorf("catalog entry %q requires a symbol but path %q has no %s", e.Key, e.Path, symbolPlaceholder)
		}
		if !e.RequiresSymbol && hasPlaceholder {
			return fmt.Errorf("catalog entry %q does not take a symbol but path %q contains %s", e.Key, e.Path, symbolPlaceholder)
		}

		if e.Tier < T0 || e.Tier > T3 {
			return fmt.Errorf("catalog entry %q: invalid tier %d", e.Key, int(e.Tier))
		}
	}

	return nil
}

// Default returns the built-in vendor endpoint catalog.
func Default() *Catalog {
	limit := func(n string) url.Values { return url.Values{"limit": []string{n}} }

	return New([]Endpoint{
		// T0: near-real-time market state
		{Key: "market_market_tide", Path: "/api/market/market-tide", Tier: T0},
		{Key: "stock_stock_state", Path: "/api/stock/{symbol}/stock-state", RequiresSymbol: true, Tier: T0},
		{Key: "stock_net_prem_ticks", Path: "/api/stock/{symbol}/net-prem-ticks", RequiresSymbol: true, Tier: T0},
		{Key: "stock_flow_alerts", Path: "/api/stock/{symbol}/flow-alerts", RequiresSymbol: true, Params: limit("100"), Tier: T0, Log: true},

		// T1: exposure and flow aggregates
		{Key: "stock_greek_exposure", Path: "/api/stock/{symbol}/greek-exposure", RequiresSymbol: true, Tier: T1},
		{Key: "stock_greek_exposure_strike", Path: "/api/stock/{symbol}/greek-exposure/strike", RequiresSymbol: true, Tier: T1},
		{Key: "stock_greek_exposure_expiry", Path: "/api/stock/{symbol}/greek-exposure/expiry", RequiresSymbol: true, Tier: T1},
		{Key: "stock_greek_flow", Path: "/api/stock/{symbol}/greek-flow", RequiresSymbol: true, Tier: T1},
		{Key: "stock_spot_exposures", Path: "/api/stock/{symbol}/spot-exposures", RequiresSymbol: true, Tier: T1},
		{Key: "stock_spot_exposures_strike", Path: "/api/stock/{symbol}/spot-exposures/strike", RequiresSymbol: true, Tier: T1},
		{Key: "stock_flow_per_expiry", Path: "/api/stock/{symbol}/flow-per-expiry", RequiresSymbol: true, Tier: T1},
		{Key: "stock_options_volume", Path: "/api/stock/{symbol}/options-volume", RequiresSymbol: true, Tier: T1},
		{Key: "stock_oi_change", Path: "/api/stock/{symbol}/oi-change", RequiresSymbol: true, Tier: T1},
		{Key: "stock_nope", Path: "/api/stock/{symbol}/nope", RequiresSymbol: true, Tier: T1},
		{Key: "stock_ohlc_1m", Path: "/api/stock/{symbol}/ohlc/1m", RequiresSymbol: true, Params: limit("500"), Tier: T1},
		{Key: "stock_darkpool", Path: "/api/darkpool/{symbol}", RequiresSymbol: true, Tier: T1},
		{Key: "market_etf_tide", Path: "/api/market/{symbol}/etf-tide", RequiresSymbol: true, Tier: T1},
		{Key: "market_oi_change", Path: "/api/market/oi-change", Tier: T1},
		{Key: "market_top_net_impact", Path: "/api/market/top-net-impact", Tier: T1},
		{Key: "market_total_options_volume", Path: "/api/market/total-options-volume", Params: limit("100"), Tier: T1},
		{Key: "net_flow_expiry", Path: "/api/net-flow/expiry", Tier: T1},

		// T2: slow-moving analytics
		{Key: "stock_max_pain", Path: "/api/stock/{symbol}/max-pain", RequiresSymbol: true, Tier: T2},
		{Key: "stock_iv_rank", Path: "/api/stock/{symbol}/iv-rank", RequiresSymbol: true, Tier: T2},
		{Key: "stock_interpolated_iv", Path: "/api/stock/{symbol}/interpolated-iv", RequiresSymbol: true, Tier: T2},
		{Key: "stock_volatility_realized", Path: "/api/stock/{symbol}/volatility/realized", RequiresSymbol: true, Tier: T2},
		{Key: "stock_volatility_stats", Path: "/api/stock/{symbol}/volatility/stats", RequiresSymbol: true, Tier: T2},
		{Key: "stock_volatility_term_structure", Path: "/api/stock/{symbol}/volatility/term-structure", RequiresSymbol: true, Tier: T2},
		{Key: "stock_option_stock_price_levels", Path: "/api/stock/{symbol}/option/stock-price-levels", RequiresSymbol: true, Tier: T2},
		{Key: "stock_stock_volume_price_levels", Path: "/api/stock/{symbol}/stock-volume-price-levels", RequiresSymbol: true, Tier: T2},
		{Key: "etf_exposure", Path: "/api/etfs/{symbol}/exposure", RequiresSymbol: true, Tier: T2},
		{Key: "etf_in_outflow", Path: "/api/etfs/{symbol}/in-outflow", RequiresSymbol: true, Tier: T2},

		// T3: daily reference data
		{Key: "stock_option_chains", Path: "/api/stock/{symbol}/option-chains", RequiresSymbol: true, Tier: T3},
		{Key: "market_economic_calendar", Path: "/api/market/economic-calendar", Tier: T3},
	})
}
