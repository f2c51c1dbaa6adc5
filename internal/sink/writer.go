package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helios-research/flow-data/internal/model"
)

// Archive is the durable store. One row exists per
// (source, dataset, scope, content hash); re-writing an identical payload
// only advances fetched_at.
type Archive interface {
	// Write upserts a record and reports whether a new row was created.
	Write(ctx context.Context, rec model.Record, hash string) (inserted bool, err error)
}

// HotCache is the low-latency store read by downstream consumers.
type HotCache interface {
	// PutSnapshot overwrites the single latest value for the record's scope.
	PutSnapshot(ctx context.Context, rec model.Record, hash string) error

	// AppendLog appends the record to the capped ordered log for its scope.
	AppendLog(ctx context.Context, rec model.Record, hash string) error
}

// Writer lands every observation exactly once in the archive and mirrors it
// into the hot cache according to the record's kind.
type Writer struct {
	archive Archive
	cache   HotCache
	logger  *slog.Logger

	// Delay before the single archive retry.
	retryDelay time.Duration
}

// NewWriter creates a Writer. cache may be nil when no hot cache is
// configured (archive-only operation).
func NewWriter(archive Archive, cache HotCache, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		archive:    archive,
		cache:      cache,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Write normalizes, deduplicates, and persists one record.
func (w *Writer) Write(ctx context.Context, rec model.Record) (model.WriteResult, error) {
	hash, err := ContentHash(rec.Payload)
	if err != nil {
		// Malformed payload: permanent error, never retried.
		return model.WriteResult{}, fmt.Errorf("content hash for %s/%s %s: %w", rec.Source, rec.Dataset, rec.Scope, err)
	}

	inserted, err := w.writeArchive(ctx, rec, hash)
	if err != nil {
		w.logger.Error("archive write failed",
			"source", rec.Source,
			"dataset", rec.Dataset,
			"scope", rec.Scope,
			"hash", hash,
			"error", err,
		)
		return model.WriteResult{Hash: hash}, fmt.Errorf("archive write %s/%s %s: %w", rec.Source, rec.Dataset, rec.Scope, err)
	}

	w.writeCache(ctx, rec, hash)

	return model.WriteResult{
		Hash:         hash,
		Inserted:     inserted,
		Deduplicated: !inserted,
	}, nil
}

// writeArchive writes to the durable store, retrying once.
func (w *Writer) writeArchive(ctx context.Context, rec model.Record, hash string) (bool, error) {
	inserted, err := w.archive.Write(ctx, rec, hash)
	if err == nil {
		return inserted, nil
	}

	w.logger.Warn("archive write error, retrying once",
		"source", rec.Source,
		"dataset", rec.Dataset,
		"scope", rec.Scope,
		"error", err,
	)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(w.retryDelay):
	}

	return w.archive.Write(ctx, rec, hash)
}

// writeCache mirrors the record into the hot cache. Failures are logged and
// do not affect the write result; the archive is authoritative.
func (w *Writer) writeCache(ctx context.Context, rec model.Record, hash string) {
	if w.cache == nil {
		return
	}

	var err error
	switch rec.Kind {
	case model.KindSnapshot:
		err = w.cache.PutSnapshot(ctx, rec, hash)
	case model.KindBoundedLog:
		err = w.cache.AppendLog(ctx, rec, hash)
	default:
		err = fmt.Errorf("unknown cache kind %q", rec.Kind)
	}

	if err != nil {
		w.logger.Error("hot cache write failed",
			"source", rec.Source,
			"dataset", rec.Dataset,
			"scope", rec.Scope,
			"kind", rec.Kind,
			"error", err,
		)
	}
}
