package stream

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/helios-research/flow-data/internal/model"
)

// Sink receives every validated frame as a normalized record.
type Sink interface {
	Write(ctx context.Context, rec model.Record) (model.WriteResult, error)
}

// ManagerConfig configures the stream session manager.
type ManagerConfig struct {
	WSURL              string
	APIToken           string
	ReconnectBaseDelay time.Duration // Base delay for reconnection backoff
	ReconnectMaxDelay  time.Duration // Cap on the reconnection delay
	HealthyReset       time.Duration // Connected time after which the attempt counter resets
	StalenessWindow    time.Duration
	WriteTimeout       time.Duration
	BufferSize         int
}

// Health is the per-connection health record. All reconnect and staleness
// state lives here; it is mutated only by the session loop and read through
// Manager.Health.
type Health struct {
	Connected      bool
	ConnectedAt    time.Time // Zero until the first successful connect
	LastMessageAt  time.Time // Receive time of the most recent valid frame
	ReconnectCount int       // Successful connects after the first
}

// Manager owns the vendor stream session. It holds the desired channel set,
// keeps one connection alive with jittered exponential backoff, rejoins every
// desired channel after each reconnect, and forwards validated frames to the
// sink synchronously.
type Manager struct {
	cfg    ManagerConfig
	sink   Sink
	logger *slog.Logger

	// newClient is swapped in tests.
	newClient func(ClientConfig, *slog.Logger) Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	desired map[string]struct{}
	client  Client
	health  Health
	started bool
}

// NewManager creates a stream manager writing to sink.
func NewManager(cfg ManagerConfig, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		newClient: NewClient,
		desired:   make(map[string]struct{}),
	}
}

// Start begins the session loop. The desired channel set may be populated
// before or after Start; channels added later are joined immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.started = true
	m.mu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("stream manager started", "url", m.cfg.WSURL)
	return nil
}

// Stop shuts down the session.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	if m.client != nil {
		m.client.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("stream shutdown timeout")
	}

	m.logger.Info("stream manager stopped")
	return nil
}

// Join adds a channel to the desired set and joins it on the live connection
// if one exists. Joining is idempotent.
func (m *Manager) Join(channel string) error {
	m.mu.Lock()
	if _, ok := m.desired[channel]; ok {
		m.mu.Unlock()
		return nil
	}
	m.desired[channel] = struct{}{}
	client := m.client
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		return m.sendControl(client, channel, JoinMessage)
	}
	return nil
}

// Leave removes a channel from the desired set and leaves it on the live
// connection if one exists.
func (m *Manager) Leave(channel string) error {
	m.mu.Lock()
	if _, ok := m.desired[channel]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.desired, channel)
	client := m.client
	m.mu.Unlock()

	if client != nil && client.IsConnected() {
		return m.sendControl(client, channel, LeaveMessage)
	}
	return nil
}

// Channels returns the desired channel set, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.desired))
	for ch := range m.desired {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.IsConnected()
}

// Health returns a snapshot of the connection health record.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *Manager) sendControl(client Client, channel string, encode func(string) ([]byte, error)) error {
	data, err := encode(channel)
	if err != nil {
		return err
	}
	return client.Send(data)
}

// run is the session loop: connect, rejoin, consume, tear down, back off.
func (m *Manager) run() {
	defer m.wg.Done()

	attempt := 0

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		client := m.newClient(ClientConfig{
			URL:             m.cfg.WSURL,
			APIToken:        m.cfg.APIToken,
			StalenessWindow: m.cfg.StalenessWindow,
			WriteTimeout:    m.cfg.WriteTimeout,
			BufferSize:      m.cfg.BufferSize,
		}, m.logger)

		if err := client.Connect(m.ctx); err != nil {
			m.logger.Warn("stream connect failed",
				"attempt", attempt,
				"error", err,
			)
			if !m.sleep(backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)) {
				return
			}
			attempt++
			continue
		}

		connectedAt := time.Now()

		m.mu.Lock()
		m.client = client
		if !m.health.ConnectedAt.IsZero() {
			m.health.ReconnectCount++
		}
		m.health.Connected = true
		m.health.ConnectedAt = connectedAt
		m.mu.Unlock()

		m.rejoinAll(client)

		m.consume(client)

		m.mu.Lock()
		m.client = nil
		m.health.Connected = false
		m.mu.Unlock()

		client.Close()

		select {
		case <-m.ctx.Done():
			return
		default:
		}

		// A connection that stayed healthy long enough resets the backoff.
		if time.Since(connectedAt) >= m.cfg.HealthyReset {
			attempt = 0
		}

		if !m.sleep(backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)) {
			return
		}
		attempt++
	}
}

// rejoinAll joins every desired channel on a fresh connection.
func (m *Manager) rejoinAll(client Client) {
	channels := m.Channels()
	for _, ch := range channels {
		if err := m.sendControl(client, ch, JoinMessage); err != nil {
			m.logger.Warn("rejoin failed", "channel", ch, "error", err)
		}
	}
	if len(channels) > 0 {
		m.logger.Info("rejoined channels", "count", len(channels))
	}
}

// consume forwards frames to the sink until the connection fails.
func (m *Manager) consume(client Client) {
	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("stream connection error", "error", err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.handleFrame(msg)
		}
	}
}

// handleFrame decodes and forwards one frame. Malformed or unknown frames are
// logged and dropped; they never tear down the connection.
func (m *Manager) handleFrame(msg TimestampedMessage) {
	frame, err := DecodeFrame(msg.Data)
	if err != nil {
		m.logger.Debug("dropping undecodable frame", "error", err)
		return
	}

	rec, err := RecordForFrame(frame, msg.ReceivedAt)
	if err != nil {
		m.logger.Debug("dropping frame", "channel", frame.Channel, "error", err)
		return
	}

	m.mu.Lock()
	m.health.LastMessageAt = msg.ReceivedAt
	m.mu.Unlock()

	// Synchronous write: sink backpressure slows the read side down rather
	// than growing an unbounded queue.
	if _, err := m.sink.Write(m.ctx, rec); err != nil {
		m.logger.Error("sink write failed",
			"channel", frame.Channel,
			"error", err,
		)
	}
}

// sleep waits for d or until shutdown; it reports false on shutdown.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay computes min(base << attempt, max) with ±20% jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}

	jitter := 0.8 + 0.4*rand.Float64()
	delay = time.Duration(float64(delay) * jitter)
	if delay > max {
		delay = max
	}
	return delay
}
