package depth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Controller rotates depth subscriptions across the symbol universe.
//
// Pinned symbols hold their slots permanently. The remaining slots cycle
// through a FIFO queue: a symbol subscribes, dwells, is cancelled after the
// brokerage acknowledges, and rejoins the back of the queue. The slot count
// adapts to cap rejections with shrink-fast-grow-slow hysteresis.
type Controller struct {
	cfg     ControllerConfig
	session Session
	logger  *slog.Logger

	// now is swapped in tests.
	now func() time.Time

	wg sync.WaitGroup

	mu            sync.Mutex
	limit         int                  // Current adaptive slot budget (pinned included)
	active        map[string]time.Time // Symbol -> subscribe time
	queue         []string             // Rotation FIFO, pinned excluded
	pinned        map[string]struct{}
	stable        int // Consecutive rotations without a cap rejection
	cooldownUntil time.Time
}

// ControllerStatus is a point-in-time view of the rotation state.
type ControllerStatus struct {
	Limit    int
	Active   int
	Queued   int
	Stable   int
	Cooldown bool
}

// NewController creates a rotation controller over the symbol universe.
// Symbols also present in cfg.Pinned are pinned, not rotated.
func NewController(cfg ControllerConfig, symbols []string, session Session, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	pinned := make(map[string]struct{}, len(cfg.Pinned))
	for _, sym := range cfg.Pinned {
		pinned[sym] = struct{}{}
	}

	seen := make(map[string]struct{}, len(symbols))
	var queue []string
	for _, sym := range symbols {
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if _, isPinned := pinned[sym]; isPinned {
			continue
		}
		queue = append(queue, sym)
	}

	return &Controller{
		cfg:     cfg,
		session: session,
		logger:  logger,
		now:     time.Now,
		limit:   cfg.MaxConcurrent,
		active:  make(map[string]time.Time),
		queue:   queue,
		pinned:  pinned,
	}
}

// Start runs the rotation loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("depth controller started",
		"max_concurrent", c.cfg.MaxConcurrent,
		"pinned", len(c.pinned),
		"rotating", len(c.queue),
	)
	return nil
}

// Stop waits for the rotation loop to exit. Cancel the Start context first.
func (c *Controller) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("depth controller shutdown timeout")
	}

	c.logger.Info("depth controller stopped")
	return nil
}

// Status returns the current rotation state.
func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerStatus{
		Limit:    c.limit,
		Active:   len(c.active),
		Queued:   len(c.queue),
		Stable:   c.stable,
		Cooldown: c.now().Before(c.cooldownUntil),
	}
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.session.Resets():
			c.handleReset()
			c.rotateOnce(ctx)
		case <-ticker.C:
			c.rotateOnce(ctx)
		}
	}
}

// handleReset marks every subscription lost. Interrupted rotating symbols go
// back to the head of the queue so they get their dwell time first.
func (c *Controller) handleReset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var interrupted []string
	for sym := range c.active {
		if _, isPinned := c.pinned[sym]; !isPinned {
			interrupted = append(interrupted, sym)
		}
	}
	c.active = make(map[string]time.Time)
	c.queue = append(interrupted, c.queue...)

	c.logger.Info("depth session reset, resubscribing", "requeued", len(interrupted))
}

// rotateOnce performs one rotation pass: expire dwelled symbols, fill free
// slots, and adjust the slot budget.
func (c *Controller) rotateOnce(ctx context.Context) {
	if !c.session.Connected() {
		return
	}

	now := c.now()

	c.subscribePinned(ctx)
	c.expireDwelled(ctx, now)
	capHit := c.fillSlots(ctx, now)
	c.adjustLimit(now, capHit)
}

// subscribePinned ensures every pinned symbol holds a slot.
func (c *Controller) subscribePinned(ctx context.Context) {
	for sym := range c.pinned {
		c.mu.Lock()
		_, already := c.active[sym]
		c.mu.Unlock()
		if already {
			continue
		}

		if err := c.session.Subscribe(ctx, sym); err != nil {
			c.logger.Warn("pinned depth subscribe failed", "symbol", sym, "error", err)
			continue
		}

		c.mu.Lock()
		c.active[sym] = c.now()
		c.mu.Unlock()
	}
}

// expireDwelled cancels rotating symbols that have held their slot for the
// full dwell. The slot is freed only on an acknowledged cancel.
func (c *Controller) expireDwelled(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var expired []string
	for sym, since := range c.active {
		if _, isPinned := c.pinned[sym]; isPinned {
			continue
		}
		if now.Sub(since) >= c.cfg.Dwell {
			expired = append(expired, sym)
		}
	}
	c.mu.Unlock()

	for _, sym := range expired {
		if err := c.session.Cancel(ctx, sym); err != nil {
			// Unacknowledged cancel: the slot may still be held upstream,
			// so the symbol keeps it locally too.
			c.logger.Warn("depth cancel not acknowledged", "symbol", sym, "error", err)
			continue
		}

		c.mu.Lock()
		delete(c.active, sym)
		c.queue = append(c.queue, sym)
		c.mu.Unlock()

		c.logger.Debug("depth slot rotated out", "symbol", sym)
	}
}

// fillSlots subscribes queued symbols into free slots up to the current
// budget. It reports whether the brokerage rejected a request at the cap.
func (c *Controller) fillSlots(ctx context.Context, now time.Time) (capHit bool) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || len(c.active) >= c.limit {
			c.mu.Unlock()
			return capHit
		}
		sym := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		err := c.session.Subscribe(ctx, sym)
		if err == nil {
			c.mu.Lock()
			c.active[sym] = now
			c.mu.Unlock()
			continue
		}

		// The brokerage may be holding this slot despite the failed round
		// trip. Reserve it locally; the dwell-expiry cancel resolves it.
		if errors.Is(err, ErrSlotUnresolved) {
			c.mu.Lock()
			c.active[sym] = now
			c.mu.Unlock()
			c.logger.Warn("depth subscribe unresolved, reserving slot", "symbol", sym, "error", err)
			continue
		}

		// The rejected symbol keeps its place at the head of the queue.
		c.mu.Lock()
		c.queue = append([]string{sym}, c.queue...)
		c.mu.Unlock()

		if errors.Is(err, ErrTooManySubscriptions) {
			c.shrink(now)
			return true
		}

		c.logger.Warn("depth subscribe failed", "symbol", sym, "error", err)
		return capHit
	}
}

// shrink drops the slot budget to the current occupancy and starts the
// cooldown. The budget never drops below one rotating slot beyond the pins.
func (c *Controller) shrink(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	floor := len(c.pinned) + 1
	newLimit := len(c.active)
	if newLimit < floor {
		newLimit = floor
	}

	if newLimit < c.limit {
		c.logger.Warn("depth cap hit, shrinking batch",
			"old_limit", c.limit,
			"new_limit", newLimit,
			"cooldown", c.cfg.Cooldown,
		)
		c.limit = newLimit
	}

	c.stable = 0
	c.cooldownUntil = now.Add(c.cfg.Cooldown)
}

// adjustLimit grows the budget one slot after enough error-free rotations
// outside the cooldown window.
func (c *Controller) adjustLimit(now time.Time, capHit bool) {
	if capHit {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Before(c.cooldownUntil) {
		return
	}

	c.stable++
	if c.stable >= c.cfg.StableThreshold && c.limit < c.cfg.MaxConcurrent {
		c.limit++
		c.stable = 0
		c.logger.Info("depth batch grown", "limit", c.limit)
	}
}
