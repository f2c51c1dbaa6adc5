package depth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeSession scripts brokerage behavior for controller tests.
type fakeSession struct {
	mu         sync.Mutex
	connected  bool
	resets     chan struct{}
	subscribed map[string]bool
	capLimit   int // reject subscribes at or above this count (0 = no cap)
	cancelFail map[string]bool
	unresolved map[string]bool

	subscribeCalls []string
	cancelCalls    []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		connected:  true,
		resets:     make(chan struct{}, 1),
		subscribed: make(map[string]bool),
		cancelFail: make(map[string]bool),
		unresolved: make(map[string]bool),
	}
}

func (s *fakeSession) Start(context.Context) error { return nil }
func (s *fakeSession) Stop(context.Context) error  { return nil }

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Resets() <-chan struct{} { return s.resets }

func (s *fakeSession) Subscribe(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribeCalls = append(s.subscribeCalls, symbol)
	if s.unresolved[symbol] {
		return fmt.Errorf("subscribe_depth %s: %w", symbol, ErrSlotUnresolved)
	}
	if s.capLimit > 0 && len(s.subscribed) >= s.capLimit {
		return fmt.Errorf("subscribe_depth %s: %w", symbol, ErrTooManySubscriptions)
	}
	s.subscribed[symbol] = true
	return nil
}

func (s *fakeSession) Cancel(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelCalls = append(s.cancelCalls, symbol)
	if s.cancelFail[symbol] {
		return fmt.Errorf("cancel_depth %s: %w", symbol, ErrTimeout)
	}
	delete(s.subscribed, symbol)
	return nil
}

func (s *fakeSession) activeSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxConcurrent:   3,
		Pinned:          []string{"SPY"},
		Dwell:           30 * time.Second,
		TickInterval:    time.Second,
		Cooldown:        2 * time.Minute,
		StableThreshold: 3,
	}
}

// fakeClock drives the controller's view of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestController(cfg ControllerConfig, symbols []string, session Session) (*Controller, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	ctrl := NewController(cfg, symbols, session, nil)
	ctrl.now = clock.Now
	return ctrl, clock
}

func TestController_FirstRotationFillsSlots(t *testing.T) {
	session := newFakeSession()
	ctrl, _ := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA", "AMD"}, session)

	ctrl.rotateOnce(context.Background())

	// Pinned SPY plus two rotating slots.
	got := session.activeSymbols()
	want := []string{"AAPL", "SPY", "TSLA"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("active after first rotation = %v, want %v", got, want)
	}

	st := ctrl.Status()
	if st.Active != 3 || st.Queued != 2 {
		t.Errorf("status = %+v, want 3 active, 2 queued", st)
	}
}

func TestController_DwellRotatesFIFO(t *testing.T) {
	session := newFakeSession()
	ctrl, clock := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA", "AMD"}, session)

	ctrl.rotateOnce(context.Background()) // SPY + AAPL, TSLA

	clock.Advance(31 * time.Second)
	ctrl.rotateOnce(context.Background())

	// AAPL and TSLA rotate out after their dwell; NVDA and AMD rotate in.
	got := session.activeSymbols()
	want := []string{"AMD", "NVDA", "SPY"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("active after dwell = %v, want %v", got, want)
	}

	// Rotated-out symbols rejoin the back of the queue, oldest first.
	clock.Advance(31 * time.Second)
	ctrl.rotateOnce(context.Background())

	got = session.activeSymbols()
	want = []string{"AAPL", "SPY", "TSLA"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("active after second dwell = %v, want %v", got, want)
	}

	// Pinned symbol never cancelled.
	for _, sym := range session.cancelCalls {
		if sym == "SPY" {
			t.Error("pinned symbol was cancelled")
		}
	}
}

func TestController_RotationFairness(t *testing.T) {
	session := newFakeSession()
	cfg := ControllerConfig{
		MaxConcurrent:   2,
		Dwell:           30 * time.Second,
		TickInterval:    time.Second,
		Cooldown:        2 * time.Minute,
		StableThreshold: 3,
	}
	symbols := []string{"AAPL", "TSLA", "NVDA", "AMD"}
	ctrl, clock := newTestController(cfg, symbols, session)

	const cycles = 8
	for i := 0; i < cycles; i++ {
		ctrl.rotateOnce(context.Background())
		if st := ctrl.Status(); st.Active > cfg.MaxConcurrent {
			t.Fatalf("cycle %d: %d active slots exceeds cap %d", i, st.Active, cfg.MaxConcurrent)
		}
		clock.Advance(31 * time.Second)
	}

	// Every symbol gets at least floor(cycles * slots / symbols) dwell cycles.
	grants := make(map[string]int)
	for _, sym := range session.subscribeCalls {
		grants[sym]++
	}
	minGrants := cycles * cfg.MaxConcurrent / len(symbols)
	for _, sym := range symbols {
		if grants[sym] < minGrants {
			t.Errorf("symbol %s granted %d dwell cycles, want >= %d", sym, grants[sym], minGrants)
		}
	}
}

func TestController_UnackedCancelKeepsSlot(t *testing.T) {
	session := newFakeSession()
	session.cancelFail["AAPL"] = true
	ctrl, clock := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA"}, session)

	ctrl.rotateOnce(context.Background())
	clock.Advance(31 * time.Second)
	ctrl.rotateOnce(context.Background())

	// TSLA's cancel was acknowledged and its slot refilled; AAPL's was not,
	// so AAPL still holds its slot.
	st := ctrl.Status()
	if st.Active != 3 {
		t.Errorf("active = %d, want 3", st.Active)
	}

	ctrl.mu.Lock()
	_, stillActive := ctrl.active["AAPL"]
	ctrl.mu.Unlock()
	if !stillActive {
		t.Error("symbol with unacknowledged cancel lost its slot")
	}
}

func TestController_UnresolvedSubscribeReservesSlot(t *testing.T) {
	session := newFakeSession()
	session.unresolved["AAPL"] = true
	ctrl, clock := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA"}, session)

	ctrl.rotateOnce(context.Background())

	// AAPL's subscribe timed out unresolved: the brokerage may hold the
	// slot, so the controller keeps it occupied instead of requeueing.
	st := ctrl.Status()
	if st.Active != 3 {
		t.Errorf("active = %d, want 3 (pin + reserved + subscribed)", st.Active)
	}
	ctrl.mu.Lock()
	_, reserved := ctrl.active["AAPL"]
	ctrl.mu.Unlock()
	if !reserved {
		t.Error("unresolved symbol lost its slot reservation")
	}

	// The reservation is not retried every tick.
	ctrl.rotateOnce(context.Background())
	attempts := 0
	for _, sym := range session.subscribeCalls {
		if sym == "AAPL" {
			attempts++
		}
	}
	if attempts != 1 {
		t.Errorf("subscribe attempts for reserved symbol = %d, want 1", attempts)
	}

	// Dwell expiry cancels the reservation; the acknowledged cancel frees
	// the slot and returns the symbol to the rotation.
	clock.Advance(31 * time.Second)
	ctrl.rotateOnce(context.Background())

	cancelled := false
	for _, sym := range session.cancelCalls {
		if sym == "AAPL" {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("reserved slot never resolved by a cancel")
	}
}

func TestController_ShrinkOnCapRejection(t *testing.T) {
	session := newFakeSession()
	session.capLimit = 2 // brokerage only allows 2 despite MaxConcurrent 3
	ctrl, _ := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA"}, session)

	ctrl.rotateOnce(context.Background())

	st := ctrl.Status()
	if st.Limit != 2 {
		t.Errorf("limit after cap rejection = %d, want 2", st.Limit)
	}
	if !st.Cooldown {
		t.Error("expected cooldown after cap rejection")
	}
	if st.Stable != 0 {
		t.Errorf("stable counter = %d, want 0", st.Stable)
	}
	if st.Active != 2 {
		t.Errorf("active = %d, want 2", st.Active)
	}
}

func TestController_ShrinkFloorLeavesOneRotatingSlot(t *testing.T) {
	session := newFakeSession()
	session.capLimit = 1 // only the pin fits upstream
	ctrl, _ := newTestController(testControllerConfig(), []string{"AAPL", "TSLA"}, session)

	ctrl.rotateOnce(context.Background())

	// Floor is pinned count + 1: rotation must never starve entirely.
	st := ctrl.Status()
	if st.Limit != 2 {
		t.Errorf("limit = %d, want floor of 2", st.Limit)
	}
}

func TestController_GrowAfterStableRotations(t *testing.T) {
	session := newFakeSession()
	session.capLimit = 2
	cfg := testControllerConfig()
	ctrl, clock := newTestController(cfg, []string{"AAPL", "TSLA", "NVDA"}, session)

	ctrl.rotateOnce(context.Background()) // hits the cap, shrinks to 2
	if ctrl.Status().Limit != 2 {
		t.Fatalf("limit = %d, want 2", ctrl.Status().Limit)
	}

	// Brokerage capacity recovers.
	session.mu.Lock()
	session.capLimit = 0
	session.mu.Unlock()

	// Rotations inside the cooldown never count toward growth.
	clock.Advance(time.Second)
	ctrl.rotateOnce(context.Background())
	if st := ctrl.Status(); st.Stable != 0 {
		t.Errorf("stable counter advanced during cooldown: %d", st.Stable)
	}

	// After the cooldown, StableThreshold clean rotations earn one slot.
	clock.Advance(cfg.Cooldown)
	for i := 0; i < cfg.StableThreshold; i++ {
		ctrl.rotateOnce(context.Background())
	}

	st := ctrl.Status()
	if st.Limit != 3 {
		t.Errorf("limit after stable rotations = %d, want 3", st.Limit)
	}
	if st.Stable != 0 {
		t.Errorf("stable counter = %d, want reset to 0 after growth", st.Stable)
	}

	// Never grows past the configured cap.
	for i := 0; i < cfg.StableThreshold*3; i++ {
		ctrl.rotateOnce(context.Background())
	}
	if st := ctrl.Status(); st.Limit != cfg.MaxConcurrent {
		t.Errorf("limit = %d, want capped at %d", st.Limit, cfg.MaxConcurrent)
	}
}

func TestController_ResetRequeuesActive(t *testing.T) {
	session := newFakeSession()
	ctrl, _ := newTestController(testControllerConfig(), []string{"AAPL", "TSLA", "NVDA"}, session)

	ctrl.rotateOnce(context.Background()) // SPY + AAPL, TSLA

	ctrl.handleReset()

	st := ctrl.Status()
	if st.Active != 0 {
		t.Errorf("active after reset = %d, want 0", st.Active)
	}
	if st.Queued != 3 {
		t.Errorf("queued after reset = %d, want 3", st.Queued)
	}

	// Interrupted symbols go back to the head of the queue.
	ctrl.mu.Lock()
	head := ctrl.queue[:2]
	sorted := []string{head[0], head[1]}
	sort.Strings(sorted)
	ctrl.mu.Unlock()
	if sorted[0] != "AAPL" || sorted[1] != "TSLA" {
		t.Errorf("queue head after reset = %v, want interrupted symbols first", head)
	}
}

func TestController_DisconnectedSkipsRotation(t *testing.T) {
	session := newFakeSession()
	session.connected = false
	ctrl, _ := newTestController(testControllerConfig(), []string{"AAPL"}, session)

	ctrl.rotateOnce(context.Background())

	if len(session.subscribeCalls) != 0 {
		t.Errorf("subscribes while disconnected: %v", session.subscribeCalls)
	}
}
