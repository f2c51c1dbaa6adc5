package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/helios-research/flow-data/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound frame)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// controlMessage is the join/leave envelope the vendor expects.
type controlMessage struct {
	Channel string `json:"channel"`
	MsgType string `json:"msg_type"` // "join" or "leave"
}

// JoinMessage encodes the control frame that joins a channel.
func JoinMessage(channel string) ([]byte, error) {
	return json.Marshal(controlMessage{Channel: channel, MsgType: "join"})
}

// LeaveMessage encodes the control frame that leaves a channel.
func LeaveMessage(channel string) ([]byte, error) {
	return json.Marshal(controlMessage{Channel: channel, MsgType: "leave"})
}

// Frame is one decoded data frame: a two-element array of channel name and
// payload object.
type Frame struct {
	Channel string
	Payload json.RawMessage
}

// DecodeFrame parses a raw vendor frame. Frames that are not a two-element
// [channel, payload] array are rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if len(parts) != 2 {
		return Frame{}, fmt.Errorf("frame has %d elements, want 2", len(parts))
	}

	var channel string
	if err := json.Unmarshal(parts[0], &channel); err != nil {
		return Frame{}, fmt.Errorf("decode channel name: %w", err)
	}
	if channel == "" {
		return Frame{}, errors.New("empty channel name")
	}

	return Frame{Channel: channel, Payload: parts[1]}, nil
}

// -----------------------------------------------------------------------------
// Channel taxonomy
// -----------------------------------------------------------------------------

// Channel bases. Market-wide channels are used as-is; per-symbol channels
// take a ":SYMBOL" suffix.
const (
	ChannelFlowAlerts      = "flow-alerts"
	ChannelNews            = "news"
	ChannelPrice           = "price"
	ChannelOptionTrades    = "option_trades"
	ChannelGEX             = "gex"
	ChannelGEXStrike       = "gex_strike"
	ChannelGEXStrikeExpiry = "gex_strike_expiry"
)

// SymbolChannel returns the per-symbol channel name for a base.
func SymbolChannel(base, symbol string) string {
	return base + ":" + symbol
}

// SplitChannel separates a channel name into its base and symbol. The symbol
// is empty for market-wide channels.
func SplitChannel(channel string) (base, symbol string) {
	if i := strings.IndexByte(channel, ':'); i >= 0 {
		return channel[:i], channel[i+1:]
	}
	return channel, ""
}

// channelSpec describes how a channel base maps to a cache/archive record.
type channelSpec struct {
	kind      model.Kind
	perSymbol bool
	scope     func(symbol string) string
}

var channelSpecs = map[string]channelSpec{
	ChannelFlowAlerts:      {kind: model.KindBoundedLog},
	ChannelNews:            {kind: model.KindBoundedLog},
	ChannelPrice:           {kind: model.KindSnapshot, perSymbol: true, scope: model.SymbolScope},
	ChannelOptionTrades:    {kind: model.KindBoundedLog, perSymbol: true, scope: model.SymbolScope},
	ChannelGEX:             {kind: model.KindSnapshot, perSymbol: true, scope: model.SymbolScope},
	ChannelGEXStrike:       {kind: model.KindSnapshot, perSymbol: true, scope: model.StrikeScope},
	ChannelGEXStrikeExpiry: {kind: model.KindSnapshot, perSymbol: true, scope: model.ExpiryScope},
}

// RecordForFrame converts a decoded frame into a sink record. Frames on
// unknown channel bases, or per-symbol channels missing their symbol, return
// an error and are dropped by the caller.
func RecordForFrame(f Frame, receivedAt time.Time) (model.Record, error) {
	base, symbol := SplitChannel(f.Channel)

	spec, ok := channelSpecs[base]
	if !ok {
		return model.Record{}, fmt.Errorf("unknown channel %q", f.Channel)
	}
	if spec.perSymbol && symbol == "" {
		return model.Record{}, fmt.Errorf("channel %q requires a symbol", f.Channel)
	}
	if !spec.perSymbol && symbol != "" {
		return model.Record{}, fmt.Errorf("channel %q does not take a symbol", f.Channel)
	}

	scope := model.ScopeGlobal
	if spec.perSymbol {
		scope = spec.scope(symbol)
	}

	return model.Record{
		Source:     model.SourceStream,
		Dataset:    base,
		Scope:      scope,
		Kind:       spec.kind,
		Payload:    f.Payload,
		ObservedAt: receivedAt,
		FetchedAt:  receivedAt,
	}, nil
}

// ChannelsForSymbols expands the full desired channel set for a symbol list:
// every market-wide channel plus every per-symbol channel for each symbol.
// The result is sorted for deterministic join order.
func ChannelsForSymbols(symbols []string) []string {
	var out []string
	for base, spec := range channelSpecs {
		if !spec.perSymbol {
			out = append(out, base)
		}
	}
	for _, sym := range symbols {
		for base, spec := range channelSpecs {
			if spec.perSymbol {
				out = append(out, SymbolChannel(base, sym))
			}
		}
	}
	sort.Strings(out)
	return out
}

// ClientConfig configures a WebSocket session client.
type ClientConfig struct {
	URL             string        // WebSocket URL; the API token is appended as a query parameter
	APIToken        string
	StalenessWindow time.Duration // Max time without any inbound frame before the connection is stale
	WriteTimeout    time.Duration // Write deadline for sends
	BufferSize      int           // Message channel buffer size
}
