package depth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helios-research/flow-data/internal/model"
	"github.com/helios-research/flow-data/internal/stream"
)

// Sink receives every depth update as a normalized record.
type Sink interface {
	Write(ctx context.Context, rec model.Record) (model.WriteResult, error)
}

// Session is the brokerage depth connection. Subscribe and Cancel block until
// the brokerage acknowledges the command; a nil Cancel return means the slot
// is genuinely free, and an ErrSlotUnresolved Subscribe return means the
// brokerage may be holding a slot the caller must account for.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Subscribe(ctx context.Context, symbol string) error
	Cancel(ctx context.Context, symbol string) error

	Connected() bool

	// Resets signals once after every reconnect. All subscriptions are
	// implicitly gone when it fires; the caller must re-establish them.
	Resets() <-chan struct{}
}

// wsSession implements Session over a WebSocket connection.
type wsSession struct {
	cfg    SessionConfig
	sink   Sink
	logger *slog.Logger

	newClient func(stream.ClientConfig, *slog.Logger) stream.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	resets chan struct{}

	mu     sync.Mutex
	client stream.Client

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[int64]chan response
	reqID     int64
}

// NewSession creates a brokerage depth session writing updates to sink.
func NewSession(cfg SessionConfig, sink Sink, logger *slog.Logger) Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &wsSession{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		newClient: stream.NewClient,
		resets:    make(chan struct{}, 1),
		pending:   make(map[int64]chan response),
	}
}

// Start begins the connection loop.
func (s *wsSession) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("depth session started", "url", s.cfg.WSURL, "client_id", s.cfg.ClientID)
	return nil
}

// Stop shuts the session down.
func (s *wsSession) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.client != nil {
		s.client.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("depth session shutdown timeout")
	}

	s.logger.Info("depth session stopped")
	return nil
}

// Connected reports whether a live connection exists.
func (s *wsSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnected()
}

// Resets returns the reconnect notification channel.
func (s *wsSession) Resets() <-chan struct{} {
	return s.resets
}

// Subscribe requests depth for a symbol and waits for the acknowledgment.
// A cap rejection is returned as ErrTooManySubscriptions. A timed-out
// subscribe is cancelled before it is reported free, because the brokerage
// may still honor it after the deadline; if that cancel is not acknowledged
// either, the caller gets ErrSlotUnresolved and must keep the slot reserved.
func (s *wsSession) Subscribe(ctx context.Context, symbol string) error {
	err := s.roundTrip(ctx, request{
		Op:     "subscribe_depth",
		Symbol: symbol,
		Venue:  s.cfg.Venue,
		Rows:   s.cfg.Rows,
	})
	if !errors.Is(err, ErrTimeout) {
		return err
	}

	if cErr := s.roundTrip(ctx, request{Op: "cancel_depth", Symbol: symbol}); cErr != nil {
		s.logger.Warn("compensating depth cancel unacknowledged",
			"symbol", symbol,
			"error", cErr,
		)
		return fmt.Errorf("subscribe_depth %s: %w", symbol, ErrSlotUnresolved)
	}
	return err
}

// Cancel requests cancellation for a symbol's depth subscription and waits
// for the acknowledgment. The slot is free only once Cancel returns nil.
func (s *wsSession) Cancel(ctx context.Context, symbol string) error {
	return s.roundTrip(ctx, request{
		Op:     "cancel_depth",
		Symbol: symbol,
	})
}

// roundTrip sends one command and waits for its correlated response.
func (s *wsSession) roundTrip(ctx context.Context, req request) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	id := atomic.AddInt64(&s.reqID, 1)
	req.ID = id

	respCh := make(chan response, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Op, err)
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-time.After(s.cfg.SubscribeTimeout):
		return fmt.Errorf("%s %s: %w", req.Op, req.Symbol, ErrTimeout)
	case resp := <-respCh:
		if resp.Type == "error" {
			if resp.Code == codeTooManySubscriptions {
				return fmt.Errorf("%s %s: %w", req.Op, req.Symbol, ErrTooManySubscriptions)
			}
			return fmt.Errorf("%s %s: code %d: %s", req.Op, req.Symbol, resp.Code, resp.Message)
		}
		return nil
	}
}

// run is the connection loop: connect, consume, notify reset, back off.
func (s *wsSession) run() {
	defer s.wg.Done()

	attempt := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client := s.newClient(stream.ClientConfig{
			URL:             s.cfg.WSURL,
			StalenessWindow: time.Minute,
			WriteTimeout:    s.cfg.WriteTimeout,
			BufferSize:      s.cfg.BufferSize,
		}, s.logger)

		if err := client.Connect(s.ctx); err != nil {
			s.logger.Warn("depth connect failed", "attempt", attempt, "error", err)
			if !s.sleep(reconnectDelay(attempt)) {
				return
			}
			attempt++
			continue
		}

		attempt = 0

		if err := s.identify(client); err != nil {
			s.logger.Warn("depth identify failed", "error", err)
			client.Close()
			if !s.sleep(reconnectDelay(attempt)) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.client = client
		s.mu.Unlock()

		// Every connection starts with zero subscriptions.
		select {
		case s.resets <- struct{}{}:
		default:
		}

		s.consume(client)

		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()

		s.failPending()
		client.Close()

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if !s.sleep(reconnectDelay(attempt)) {
			return
		}
	}
}

// identify announces the client id before any depth command.
func (s *wsSession) identify(client stream.Client) error {
	hello, err := json.Marshal(map[string]any{
		"op":        "hello",
		"client_id": s.cfg.ClientID,
	})
	if err != nil {
		return err
	}
	return client.Send(hello)
}

// consume routes inbound messages until the connection fails.
func (s *wsSession) consume(client stream.Client) {
	for {
		select {
		case <-s.ctx.Done():
			return

		case err := <-client.Errors():
			s.logger.Warn("depth connection error", "error", err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			s.handleMessage(msg)
		}
	}
}

// handleMessage dispatches one inbound message: command responses go to the
// pending map, depth updates go to the sink.
func (s *wsSession) handleMessage(msg stream.TimestampedMessage) {
	if resp, ok := tryParseResponse(msg.Data); ok {
		s.routeResponse(resp)
		return
	}

	var frame dataFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil || frame.Type != "depth" || frame.Symbol == "" {
		s.logger.Debug("dropping unrecognized depth message")
		return
	}

	rec := model.Record{
		Source:     model.SourceDepth,
		Dataset:    "depth",
		Scope:      model.SymbolScope(frame.Symbol),
		Kind:       model.KindSnapshot,
		Payload:    frame.Book,
		ObservedAt: msg.ReceivedAt,
		FetchedAt:  msg.ReceivedAt,
	}

	if _, err := s.sink.Write(s.ctx, rec); err != nil {
		s.logger.Error("depth sink write failed", "symbol", frame.Symbol, "error", err)
	}
}

// tryParseResponse attempts to parse a message as a command response.
func tryParseResponse(data []byte) (response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return response{}, false
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return response{}, false
	}

	switch resp.Type {
	case "subscribed", "cancelled", "error":
		return resp, true
	}

	return response{}, false
}

// routeResponse delivers a response to the waiting round trip.
func (s *wsSession) routeResponse(resp response) {
	s.pendingMu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// failPending unblocks round trips waiting on a dead connection.
func (s *wsSession) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for id, ch := range s.pending {
		select {
		case ch <- response{ID: id, Type: "error", Message: "connection lost"}:
		default:
		}
		delete(s.pending, id)
	}
}

func (s *wsSession) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// reconnectDelay is a doubling backoff capped at 30s with ±20% jitter.
func reconnectDelay(attempt int) time.Duration {
	const max = 30 * time.Second

	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}

	d = time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	if d > max {
		d = max
	}
	return d
}
