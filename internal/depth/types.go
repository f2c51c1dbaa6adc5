package depth

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrTooManySubscriptions = errors.New("too many depth subscriptions")
	ErrTimeout              = errors.New("operation timeout")
	ErrNotConnected         = errors.New("not connected")

	// ErrSlotUnresolved means a subscribe timed out and the compensating
	// cancel was not acknowledged either: the brokerage may still hold the
	// slot, so the caller must treat it as occupied.
	ErrSlotUnresolved = errors.New("subscription state unresolved")
)

// codeTooManySubscriptions is the brokerage error code for a depth request
// beyond the concurrent-subscription cap.
const codeTooManySubscriptions = 309

// request is a depth command sent to the brokerage.
type request struct {
	ID     int64  `json:"id"`
	Op     string `json:"op"` // "subscribe_depth" or "cancel_depth"
	Symbol string `json:"symbol"`
	Venue  string `json:"venue,omitempty"`
	Rows   int    `json:"num_rows,omitempty"`
}

// response is a command acknowledgment from the brokerage.
type response struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"` // "subscribed", "cancelled", "error"
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// dataFrame is an unsolicited depth update.
type dataFrame struct {
	Type   string          `json:"type"` // "depth"
	Symbol string          `json:"symbol"`
	Book   json.RawMessage `json:"book"`
}

// SessionConfig configures the brokerage depth session.
type SessionConfig struct {
	WSURL            string
	ClientID         int
	Venue            string
	Rows             int // Depth-of-book rows requested per symbol
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
}

// ControllerConfig configures the rotation controller.
type ControllerConfig struct {
	MaxConcurrent   int           // Brokerage cap on simultaneous depth subscriptions
	Pinned          []string      // Always-on symbols excluded from rotation
	Dwell           time.Duration // Time a rotating symbol holds its slot
	TickInterval    time.Duration
	Cooldown        time.Duration // Pause after a cap rejection before regrowing
	StableThreshold int           // Error-free rotations required before one grow step
}
