package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/helios-research/flow-data/internal/api"
	"github.com/helios-research/flow-data/internal/catalog"
	"github.com/helios-research/flow-data/internal/model"
	"github.com/helios-research/flow-data/internal/ratelimit"
)

// Fetcher performs one authenticated GET against the vendor API.
type Fetcher interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Sink receives every fetched payload as a normalized record.
type Sink interface {
	Write(ctx context.Context, rec model.Record) (model.WriteResult, error)
}

// Config holds scheduler settings.
type Config struct {
	Workers        int
	Cadences       [catalog.NumTiers]time.Duration
	AcquireTimeout time.Duration // Max wait for a rate-limit token before the job is dropped
	RetryDelay     time.Duration // Delay before the single retry of a 5xx or network failure
	RetryAfter     time.Duration // Backoff for a 429 that carries no Retry-After header
}

// Job is one pending fetch: an endpoint applied to a scope.
type Job struct {
	Endpoint    catalog.Endpoint
	Symbol      string // Empty for market-wide endpoints
	Correlation string
}

// key identifies the (dataset, scope) pair for the in-flight guard.
func (j Job) key() string {
	return j.Endpoint.Key + "|" + j.Symbol
}

// Scheduler owns the tier loops and the worker pool.
type Scheduler struct {
	cfg     Config
	cat     *catalog.Catalog
	symbols []string
	fetcher Fetcher
	bucket  *ratelimit.Bucket
	sink    Sink
	logger  *slog.Logger

	queues [catalog.NumTiers]*Queue[Job]

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the given catalog and symbol universe.
func New(cfg Config, cat *catalog.Catalog, symbols []string, fetcher Fetcher, bucket *ratelimit.Bucket, sink Sink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cfg:      cfg,
		cat:      cat,
		symbols:  symbols,
		fetcher:  fetcher,
		bucket:   bucket,
		sink:     sink,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
	for t := range s.queues {
		s.queues[t] = NewQueue[Job](64)
	}
	return s
}

// Start launches the tier loops and the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for t := 0; t < catalog.NumTiers; t++ {
		tier := catalog.Tier(t)
		s.wg.Add(1)
		go s.tierLoop(tier)
	}

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info("scheduler started",
		"workers", s.cfg.Workers,
		"endpoints", s.cat.Len(),
		"symbols", len(s.symbols),
	)
	return nil
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	for _, q := range s.queues {
		q.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timeout")
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// QueueDepths reports the number of pending jobs per tier.
func (s *Scheduler) QueueDepths() [catalog.NumTiers]int {
	var out [catalog.NumTiers]int
	for t, q := range s.queues {
		out[t] = q.Len()
	}
	return out
}

// tierLoop enqueues the tier's endpoints on a jittered cadence. The first
// cycle fires immediately.
func (s *Scheduler) tierLoop(tier catalog.Tier) {
	defer s.wg.Done()

	s.enqueueTier(tier)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(jittered(s.cfg.Cadences[tier])):
			s.enqueueTier(tier)
		}
	}
}

// enqueueTier expands every endpoint of a tier into jobs, skipping pairs that
// are still in flight from a previous cycle.
func (s *Scheduler) enqueueTier(tier catalog.Tier) {
	enqueued, skipped := 0, 0

	for _, ep := range s.cat.ByTier(tier) {
		scopes := []string{""}
		if ep.RequiresSymbol {
			scopes = s.symbols
		}

		for _, sym := range scopes {
			job := Job{
				Endpoint:    ep,
				Symbol:      sym,
				Correlation: model.NewCorrelationID(),
			}

			if !s.markInflight(job.key()) {
				skipped++
				continue
			}

			if !s.queues[tier].Push(job) {
				s.releaseInflight(job.key())
				return
			}
			enqueued++
		}
	}

	s.logger.Debug("tier cycle enqueued",
		"tier", tier.String(),
		"jobs", enqueued,
		"in_flight_skipped", skipped,
	)
}

// markInflight claims the (dataset, scope) pair. Returns false when a job for
// the pair is already queued or running.
func (s *Scheduler) markInflight(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) releaseInflight(key string) {
	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()
}

// worker drains the tier queues, always preferring the lowest tier with work.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	logger := s.logger.With("worker", id)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		job, ok := s.nextJob()
		if !ok {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(25 * time.Millisecond):
			}
			continue
		}

		s.process(job, logger)
		s.releaseInflight(job.key())
	}
}

// nextJob pops from the most urgent non-empty queue.
func (s *Scheduler) nextJob() (Job, bool) {
	for t := 0; t < catalog.NumTiers; t++ {
		if job, ok := s.queues[t].TryPop(); ok {
			return job, true
		}
	}
	return Job{}, false
}

// process runs one job end to end: token, fetch with bounded retry, sink.
func (s *Scheduler) process(job Job, logger *slog.Logger) {
	logger = logger.With(
		"dataset", job.Endpoint.Key,
		"symbol", job.Symbol,
		"correlation_id", job.Correlation,
	)

	acquireCtx, cancel := context.WithTimeout(s.ctx, s.cfg.AcquireTimeout)
	err := s.bucket.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			// Quota exhausted: drop the job, the next cadence cycle retries.
			logger.Warn("rate limit wait exceeded, dropping job")
		}
		return
	}

	body, err := s.fetch(job, logger)
	if err != nil {
		logger.Warn("fetch failed", "error", err)
		return
	}

	rec := model.Record{
		Source:     model.SourceREST,
		Dataset:    job.Endpoint.Key,
		Scope:      model.ScopeGlobal,
		Kind:       model.KindSnapshot,
		Payload:    body,
		ObservedAt: time.Now(),
		FetchedAt:  time.Now(),
	}
	if job.Symbol != "" {
		rec.Scope = model.SymbolScope(job.Symbol)
	}
	if job.Endpoint.Log {
		rec.Kind = model.KindBoundedLog
	}

	if _, err := s.sink.Write(s.ctx, rec); err != nil {
		logger.Error("sink write failed", "error", err)
	}
}

// fetch performs the GET with one bounded retry. 429s wait out the server's
// backoff; 5xx and transport errors wait RetryDelay; other 4xx are permanent.
func (s *Scheduler) fetch(job Job, logger *slog.Logger) ([]byte, error) {
	path := job.Endpoint.ResolvePath(job.Symbol)

	body, err := s.fetcher.Get(s.ctx, path, job.Endpoint.Params)
	if err == nil {
		return body, nil
	}

	delay, retryable := s.classify(err)
	if !retryable {
		return nil, err
	}

	logger.Debug("retrying fetch", "delay", delay, "error", err)
	select {
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-time.After(delay):
	}

	// The retry consumes its own token.
	acquireCtx, cancel := context.WithTimeout(s.ctx, s.cfg.AcquireTimeout)
	defer cancel()
	if err := s.bucket.Acquire(acquireCtx, 1); err != nil {
		return nil, err
	}

	return s.fetcher.Get(s.ctx, path, job.Endpoint.Params)
}

// classify maps a fetch error to a retry delay, or retryable=false for
// permanent client errors.
func (s *Scheduler) classify(err error) (delay time.Duration, retryable bool) {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRateLimited() {
			if apiErr.RetryAfter > 0 {
				return apiErr.RetryAfter, true
			}
			return s.cfg.RetryAfter, true
		}
		if apiErr.IsRetryable() {
			return s.cfg.RetryDelay, true
		}
		return 0, false
	}

	// Transport-level failure.
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	return s.cfg.RetryDelay, true
}

// jittered spreads a cadence by ±10% so fleet instances do not fire in step.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	f := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(d) * f)
}
