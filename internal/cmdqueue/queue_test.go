package cmdqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/model"
)

// A helper to create an isolated in-memory database per test.
func newTestDB(t *testing.T, name string) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.Command{}))
	return db
}

func TestQueue_FIFODelivery(t *testing.T) {
	db := newTestDB(t, "cmdqueue_fifo")
	q := New(db, 100, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:01"
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Enqueue three commands with strictly increasing creation times.
	first, err := q.Enqueue(ctx, mac, model.CommandSpeak, model.JSON(`{"text":"hello"}`), base)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, mac, model.CommandPlay, model.JSON(`{"game":"colors"}`), base.Add(time.Second))
	require.NoError(t, err)
	third, err := q.Enqueue(ctx, mac, model.CommandStop, nil, base.Add(2*time.Second))
	require.NoError(t, err)

	// A second device's command must not leak into this device's poll.
	_, err = q.Enqueue(ctx, "AA:BB:CC:00:00:02", model.CommandSpeak, nil, base)
	require.NoError(t, err)

	// Poll two: the two oldest come back, in order, dispatched.
	now := base.Add(time.Minute)
	got, err := q.Poll(ctx, mac, 2, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	for _, cmd := range got {
		assert.Equal(t, model.CommandDispatched, cmd.Status)
		require.NotNil(t, cmd.DispatchedAt)
	}

	// The third is still pending and comes back on the next poll.
	got, err = q.Poll(ctx, mac, 10, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, third.ID, got[0].ID)

	// Nothing pending: an immediate empty response, no blocking.
	got, err = q.Poll(ctx, mac, 10, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	db := newTestDB(t, "cmdqueue_validation")
	q := New(db, 100, 64)
	ctx := context.Background()
	now := time.Now().UTC()

	testCases := []struct {
		name   string
		mac    string
		typ    model.CommandType
		params model.JSON
		field  string
	}{
		{"missing mac", "", model.CommandSpeak, nil, "macAddress"},
		{"unknown type", "AA:BB:CC:00:00:03", "self_destruct", nil, "type"},
		{"oversized params", "AA:BB:CC:00:00:03", model.CommandSpeak, model.JSON(`{"text":"` + string(make([]byte, 100)) + `"}`), "params"},
		{"malformed params", "AA:BB:CC:00:00:03", model.CommandSpeak, model.JSON(`{not json`), "params"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, tc.mac, tc.typ, tc.params, now)
			var verr *fleeterr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	var count int64
	db.Model(&model.Command{}).Count(&count)
	assert.Equal(t, int64(0), count, "rejected commands must not be stored")
}

func TestQueue_DepthBound(t *testing.T) {
	db := newTestDB(t, "cmdqueue_depth")
	q := New(db, 2, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:04"
	now := time.Now().UTC()

	_, err := q.Enqueue(ctx, mac, model.CommandSpeak, nil, now)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, mac, model.CommandSpeak, nil, now)
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, mac, model.CommandSpeak, nil, now)
	var full *fleeterr.QueueFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, mac, full.MACAddress)
	assert.Equal(t, 2, full.Limit)

	// Only pending commands count against the bound: dispatching one frees
	// a slot.
	polled, err := q.Poll(ctx, mac, 1, now)
	require.NoError(t, err)
	require.Len(t, polled, 1)

	_, err = q.Enqueue(ctx, mac, model.CommandSpeak, nil, now)
	assert.NoError(t, err)
}

func TestQueue_AckLifecycle(t *testing.T) {
	db := newTestDB(t, "cmdqueue_ack")
	q := New(db, 100, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:05"
	now := time.Now().UTC()

	cmd, err := q.Enqueue(ctx, mac, model.CommandReset, nil, now)
	require.NoError(t, err)

	// Acking before dispatch is a validation error, not a state change.
	_, err = q.Ack(ctx, cmd.ID, model.CommandExecuted, now)
	var verr *fleeterr.ValidationError
	require.ErrorAs(t, err, &verr)

	// Only executed and errored are acceptable outcomes.
	_, err = q.Ack(ctx, cmd.ID, model.CommandCancelled, now)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "outcome", verr.Field)

	polled, err := q.Poll(ctx, mac, 1, now)
	require.NoError(t, err)
	require.Len(t, polled, 1)

	acked, err := q.Ack(ctx, cmd.ID, model.CommandExecuted, now)
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, acked.Status)
	require.NotNil(t, acked.AckedAt)

	// A duplicate ack from an agent retry is a no-op, even with the other
	// outcome: the first terminal state wins.
	again, err := q.Ack(ctx, cmd.ID, model.CommandErrored, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.CommandExecuted, again.Status)

	_, err = q.Ack(ctx, 99999, model.CommandExecuted, now)
	var nf *fleeterr.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestQueue_CancelPendingOnly(t *testing.T) {
	db := newTestDB(t, "cmdqueue_cancel")
	q := New(db, 100, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:06"
	now := time.Now().UTC()

	pending, err := q.Enqueue(ctx, mac, model.CommandSpeak, nil, now)
	require.NoError(t, err)
	dispatched, err := q.Enqueue(ctx, mac, model.CommandStop, nil, now.Add(time.Second))
	require.NoError(t, err)

	// Dispatch the second command by polling both and cancelling the first
	// beforehand.
	cancelled, err := q.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandCancelled, cancelled.Status)

	// Cancelling again is a no-op.
	cancelled, err = q.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandCancelled, cancelled.Status)

	// A cancelled command is never delivered.
	polled, err := q.Poll(ctx, mac, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, polled, 1)
	assert.Equal(t, dispatched.ID, polled[0].ID)

	// Once a command is in the device's hands it cannot be cancelled.
	_, err = q.Cancel(ctx, dispatched.ID)
	var verr *fleeterr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestQueue_RequeueExpired(t *testing.T) {
	db := newTestDB(t, "cmdqueue_requeue")
	q := New(db, 100, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:07"
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale, err := q.Enqueue(ctx, mac, model.CommandSpeak, nil, base)
	require.NoError(t, err)
	fresh, err := q.Enqueue(ctx, mac, model.CommandStop, nil, base.Add(time.Second))
	require.NoError(t, err)

	// Dispatch the stale command well before the fresh one.
	polled, err := q.Poll(ctx, mac, 1, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, polled, 1)
	require.Equal(t, stale.ID, polled[0].ID)

	polled, err = q.Poll(ctx, mac, 1, base.Add(9*time.Minute))
	require.NoError(t, err)
	require.Len(t, polled, 1)
	require.Equal(t, fresh.ID, polled[0].ID)

	// Five-minute visibility timeout at t+10m: only the stale dispatch has
	// expired.
	n, err := q.RequeueExpired(ctx, 5*time.Minute, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var reloaded model.Command
	require.NoError(t, db.First(&reloaded, stale.ID).Error)
	assert.Equal(t, model.CommandPending, reloaded.Status)
	assert.Nil(t, reloaded.DispatchedAt)

	reloaded = model.Command{}
	require.NoError(t, db.First(&reloaded, fresh.ID).Error)
	assert.Equal(t, model.CommandDispatched, reloaded.Status)

	// The requeued command is delivered again: at-least-once, not at-most-once.
	polled, err = q.Poll(ctx, mac, 10, base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, polled, 1)
	assert.Equal(t, stale.ID, polled[0].ID)
}

func TestQueue_History(t *testing.T) {
	db := newTestDB(t, "cmdqueue_history")
	q := New(db, 100, 16*1024)
	ctx := context.Background()
	mac := "AA:BB:CC:00:00:08"
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, mac, model.CommandSpeak, nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	history, err := q.History(ctx, mac, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))
}
