// Package ledger implements the append-only idempotency ledger that
// suppresses duplicate side effects from at-least-once event delivery.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/errs"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

// Dedup is an optional fast-path marker for already-processed keys, backed
// by a cache with TTL. Cache misses and cache errors fall through to the
// authoritative store check.
type Dedup interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
}

// Ledger checks and records processed business events.
type Ledger struct {
	store  store.LedgerStore
	dedup  Dedup
	ttl    time.Duration
	logger *logger.Logger
}

// New creates a ledger. dedup may be nil, in which case every check goes to
// the store.
func New(st store.LedgerStore, dedup Dedup, ttl time.Duration, log *logger.Logger) *Ledger {
	return &Ledger{
		store:  st,
		dedup:  dedup,
		ttl:    ttl,
		logger: log,
	}
}

// HasProcessed reports whether a SUCCESS record exists for (key, eventType).
// It must be consulted before any side-effecting dispatch. A failing store
// lookup is an internal error: the caller must not dispatch when the check
// itself could not run.
func (l *Ledger) HasProcessed(ctx context.Context, key, eventType string) (bool, error) {
	if l.dedup != nil {
		dup, err := l.dedup.IsDuplicate(ctx, dedupKey(key, eventType))
		if err != nil {
			// Cache trouble is not fatal; the store remains authoritative.
			l.logger.Warn("dedup cache check failed", zap.Error(err), zap.String("key", key))
		} else if dup {
			return true, nil
		}
	}

	processed, err := l.store.HasSuccess(ctx, key, eventType)
	if err != nil {
		return false, errs.Internal("idempotency check failed", err)
	}
	return processed, nil
}

// Record appends one outcome row. Appending is best-effort at-most-once:
// two near-simultaneous deliveries may both dispatch before either records,
// and the storage unique index then rejects the second SUCCESS, which is
// reported as store.ErrDuplicateSuccess for the caller to treat as SKIPPED.
func (l *Ledger) Record(ctx context.Context, key, eventType string, outcome model.Outcome, detail string) error {
	rec := &model.IdempotencyRecord{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Key:         key,
		EventType:   eventType,
		Outcome:     outcome,
		Detail:      detail,
		ProcessedAt: time.Now(),
	}

	err := l.store.AppendRecord(ctx, rec)
	if errors.Is(err, store.ErrDuplicateSuccess) {
		return err
	}
	if err != nil {
		return errs.Internal("ledger append failed", err)
	}

	if outcome == model.OutcomeSuccess && l.dedup != nil {
		if err := l.dedup.MarkProcessed(ctx, dedupKey(key, eventType), l.ttl); err != nil {
			l.logger.Warn("dedup cache mark failed", zap.Error(err), zap.String("key", key))
		}
	}
	return nil
}

// StartTrimming launches the retention housekeeping loop. Rows older than
// retention are deleted every interval. The loop stops when ctx is done.
func (l *Ledger) StartTrimming(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				removed, err := l.store.TrimBefore(ctx, cutoff)
				if err != nil {
					l.logger.Warn("ledger trim failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					l.logger.Info("trimmed ledger records",
						zap.Int64("removed", removed),
						zap.Time("cutoff", cutoff),
					)
				}
			}
		}
	}()
}

func dedupKey(key, eventType string) string {
	return eventType + ":" + key
}
