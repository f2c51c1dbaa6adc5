package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Sources
// -----------------------------------------------------------------------------

// Source identifies the acquisition path that produced a record.
type Source string

const (
	SourceREST   Source = "rest"   // vendor REST poll
	SourceStream Source = "stream" // vendor WebSocket channel
	SourceDepth  Source = "depth"  // brokerage market-depth stream
)

// -----------------------------------------------------------------------------
// Scopes
// -----------------------------------------------------------------------------

// ScopeGlobal is the scope for market-wide observations that are not tied
// to a single symbol.
const ScopeGlobal = "global"

// SymbolScope returns the scope string for a per-symbol observation.
func SymbolScope(symbol string) string {
	return "symbol:" + symbol
}

// StrikeScope returns the scope string for a per-symbol, per-strike breakdown.
func StrikeScope(symbol string) string {
	return "symbol:" + symbol + ":strike"
}

// ExpiryScope returns the scope string for a per-symbol, per-expiry breakdown.
func ExpiryScope(symbol string) string {
	return "symbol:" + symbol + ":expiry"
}

// -----------------------------------------------------------------------------
// Cache kinds
// -----------------------------------------------------------------------------

// Kind selects the hot-cache behavior for a record.
type Kind string

const (
	// KindSnapshot records overwrite the single latest value for their scope.
	KindSnapshot Kind = "snapshot"

	// KindBoundedLog records append to a capped ordered log for their scope.
	KindBoundedLog Kind = "log"
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Record is one normalized observation on its way to the cache and archive.
type Record struct {
	Source     Source    // Acquisition path
	Dataset    string    // Endpoint key or stream channel base (e.g. "stock_greek_exposure", "price")
	Scope      string    // ScopeGlobal or SymbolScope/StrikeScope/ExpiryScope value
	Kind       Kind      // Hot-cache behavior
	Payload    []byte    // Raw provider JSON, unknown fields preserved
	ObservedAt time.Time // Provider-side timestamp when known, else receive time
	FetchedAt  time.Time // Local time the payload was acquired
}

// WriteResult reports what the cache/archive writer did with a record.
type WriteResult struct {
	Hash         string // Content hash of the normalized payload
	Inserted     bool   // True if a new archive row was created
	Deduplicated bool   // True if an identical row existed and only fetched_at advanced
}

// -----------------------------------------------------------------------------
// Correlation ids
// -----------------------------------------------------------------------------

// NewCorrelationID returns a fresh id used to tie log lines for one fetch job
// or poll cycle together.
func NewCorrelationID() string {
	return uuid.NewString()
}
