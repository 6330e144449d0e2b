package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
	"github.com/wanderlynx/whatsapp-inbox/internal/store"
	"github.com/wanderlynx/whatsapp-inbox/pkg/logger"
)

func newTestLedger() (*Ledger, *store.Memory) {
	st := store.NewMemory()
	return New(st, nil, time.Hour, logger.NewNop()), st
}

func TestHasProcessed_OnlySuccessCounts(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	processed, err := l.HasProcessed(ctx, "BK-1", "booking-confirmed")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, l.Record(ctx, "BK-1", "booking-confirmed", model.OutcomeFailure, "provider down"))
	processed, err = l.HasProcessed(ctx, "BK-1", "booking-confirmed")
	require.NoError(t, err)
	assert.False(t, processed, "a FAILURE row must not block reprocessing")

	require.NoError(t, l.Record(ctx, "BK-1", "booking-confirmed", model.OutcomeSuccess, "sent"))
	processed, err = l.HasProcessed(ctx, "BK-1", "booking-confirmed")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestHasProcessed_KeyScopedByEventType(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger()

	require.NoError(t, l.Record(ctx, "INV-9", "payment-pending", model.OutcomeSuccess, "sent"))

	processed, err := l.HasProcessed(ctx, "INV-9", "booking-confirmed")
	require.NoError(t, err)
	assert.False(t, processed, "same key under a different event type is a different event")
}

func TestRecord_SecondSuccessIsConflict(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger()

	require.NoError(t, l.Record(ctx, "BK-2", "booking-confirmed", model.OutcomeSuccess, "sent"))

	err := l.Record(ctx, "BK-2", "booking-confirmed", model.OutcomeSuccess, "sent again")
	assert.ErrorIs(t, err, store.ErrDuplicateSuccess)

	// Skipped rows append freely for audit continuity.
	require.NoError(t, l.Record(ctx, "BK-2", "booking-confirmed", model.OutcomeSkipped, "duplicate delivery"))
	assert.Len(t, st.LedgerRecords(), 2)
}

func TestTrimBefore_RemovesOldRows(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	old := &model.IdempotencyRecord{
		ID: "a", Key: "BK-old", EventType: "booking-confirmed",
		Outcome: model.OutcomeSuccess, ProcessedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := &model.IdempotencyRecord{
		ID: "b", Key: "BK-new", EventType: "booking-confirmed",
		Outcome: model.OutcomeSuccess, ProcessedAt: time.Now(),
	}
	require.NoError(t, st.AppendRecord(ctx, old))
	require.NoError(t, st.AppendRecord(ctx, recent))

	removed, err := st.TrimBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Len(t, st.LedgerRecords(), 1)
	assert.Equal(t, "BK-new", st.LedgerRecords()[0].Key)
}
