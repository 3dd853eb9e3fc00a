// Package cmdqueue is the per-device, strictly ordered, at-least-once
// command handoff channel between operators and device agents.
package cmdqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/model"
)

// Queue hands commands to device agents. Delivery order is strict FIFO per
// mac address by (created_at, id); there is no cross-device ordering and no
// priority tiers. Status transitions are enforced with guarded updates so a
// racing writer can never move a command backwards.
type Queue struct {
	db             *gorm.DB
	maxPending     int
	maxParamsBytes int
}

// New creates a command queue with the given per-device depth bound and
// params size cap.
func New(db *gorm.DB, maxPending, maxParamsBytes int) *Queue {
	return &Queue{
		db:             db,
		maxPending:     maxPending,
		maxParamsBytes: maxParamsBytes,
	}
}

// Enqueue validates and inserts a new pending command for a device. The
// device does not have to be registered yet; commands are keyed by mac
// address to allow pre-registration traffic.
func (q *Queue) Enqueue(ctx context.Context, mac string, cmdType model.CommandType, params model.JSON, now time.Time) (*model.Command, error) {
	if mac == "" {
		return nil, fleeterr.NewValidation("macAddress", "required")
	}
	if !model.KnownCommandTypes[cmdType] {
		return nil, fleeterr.NewValidation("type", fmt.Sprintf("unknown command type %q", cmdType))
	}
	if len(params) > q.maxParamsBytes {
		return nil, fleeterr.NewValidation("params", fmt.Sprintf("payload exceeds %d bytes", q.maxParamsBytes))
	}
	if len(params) > 0 && !json.Valid(params) {
		return nil, fleeterr.NewValidation("params", "not valid JSON")
	}

	command := model.Command{
		MACAddress: mac,
		Type:       cmdType,
		Params:     params,
		Status:     model.CommandPending,
		CreatedAt:  now,
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var depth int64
		if err := tx.Model(&model.Command{}).
			Where("mac_address = ? AND status = ?", mac, model.CommandPending).
			Count(&depth).Error; err != nil {
			return fmt.Errorf("failed to count pending commands for %s: %w", mac, err)
		}
		if depth >= int64(q.maxPending) {
			return &fleeterr.QueueFullError{MACAddress: mac, Limit: q.maxPending}
		}
		if err := tx.Create(&command).Error; err != nil {
			return fmt.Errorf("failed to enqueue command for %s: %w", mac, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &command, nil
}

// Poll returns up to max of the oldest pending commands for a device,
// atomically transitioning each returned command to dispatched. Returns an
// empty slice immediately when nothing is pending.
func (q *Queue) Poll(ctx context.Context, mac string, max int, now time.Time) ([]model.Command, error) {
	if max <= 0 {
		max = 1
	}

	dispatched := make([]model.Command, 0, max)
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []model.Command
		if err := tx.
			Where("mac_address = ? AND status = ?", mac, model.CommandPending).
			Order("created_at ASC, id ASC").
			Limit(max).
			Find(&pending).Error; err != nil {
			return fmt.Errorf("failed to fetch pending commands for %s: %w", mac, err)
		}

		for _, cmd := range pending {
			res := tx.Model(&model.Command{}).
				Where("id = ? AND status = ?", cmd.ID, model.CommandPending).
				Updates(map[string]any{
					"status":        model.CommandDispatched,
					"dispatched_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to dispatch command %d: %w", cmd.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// Lost a race with a concurrent poll or cancel; skip.
				continue
			}
			cmd.Status = model.CommandDispatched
			ts := now
			cmd.DispatchedAt = &ts
			dispatched = append(dispatched, cmd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispatched, nil
}

// Ack records the device's outcome for a dispatched command. Acking a
// command that is already terminal is a no-op, not an error, so duplicate
// network retries from the agent are harmless.
func (q *Queue) Ack(ctx context.Context, commandID int64, outcome model.CommandStatus, now time.Time) (*model.Command, error) {
	if outcome != model.CommandExecuted && outcome != model.CommandErrored {
		return nil, fleeterr.NewValidation("outcome", fmt.Sprintf("must be %q or %q", model.CommandExecuted, model.CommandErrored))
	}

	command, err := q.get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if command.Status.IsTerminal() {
		return command, nil
	}
	if command.Status == model.CommandPending {
		return nil, fleeterr.NewValidation("status", "command has not been dispatched")
	}

	res := q.db.WithContext(ctx).Model(&model.Command{}).
		Where("id = ? AND status = ?", commandID, model.CommandDispatched).
		Updates(map[string]any{
			"status":   outcome,
			"acked_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to ack command %d: %w", commandID, res.Error)
	}
	if res.RowsAffected == 0 {
		// A concurrent ack or requeue got there first; report current state.
		return q.get(ctx, commandID)
	}

	command.Status = outcome
	ts := now
	command.AckedAt = &ts
	return command, nil
}

// Cancel supersedes a command that has not been handed to the device yet.
// Only pending commands may be cancelled; dispatched and terminal commands
// are immutable. Cancelling an already-cancelled command is a no-op.
func (q *Queue) Cancel(ctx context.Context, commandID int64) (*model.Command, error) {
	command, err := q.get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if command.Status == model.CommandCancelled {
		return command, nil
	}
	if command.Status != model.CommandPending {
		return nil, fleeterr.NewValidation("status", fmt.Sprintf("cannot cancel a %s command", command.Status))
	}

	res := q.db.WithContext(ctx).Model(&model.Command{}).
		Where("id = ? AND status = ?", commandID, model.CommandPending).
		Update("status", model.CommandCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to cancel command %d: %w", commandID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fleeterr.NewValidation("status", "command was dispatched before it could be cancelled")
	}

	command.Status = model.CommandCancelled
	return command, nil
}

// RequeueExpired flips dispatched commands whose visibility timeout elapsed
// without an ack back to pending, so an agent crash after poll cannot strand
// a command forever. Returns the number of requeued commands.
func (q *Queue) RequeueExpired(ctx context.Context, visibilityTimeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-visibilityTimeout)
	res := q.db.WithContext(ctx).Model(&model.Command{}).
		Where("status = ? AND dispatched_at <= ?", model.CommandDispatched, cutoff).
		Updates(map[string]any{
			"status":        model.CommandPending,
			"dispatched_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue expired commands: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// History returns the newest commands for a device regardless of status.
func (q *Queue) History(ctx context.Context, mac string, limit int) ([]model.Command, error) {
	if limit <= 0 {
		limit = 20
	}
	var commands []model.Command
	err := q.db.WithContext(ctx).
		Where("mac_address = ?", mac).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&commands).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch command history for %s: %w", mac, err)
	}
	return commands, nil
}

func (q *Queue) get(ctx context.Context, commandID int64) (*model.Command, error) {
	var command model.Command
	err := q.db.WithContext(ctx).First(&command, commandID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "command", ID: strconv.FormatInt(commandID, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load command %d: %w", commandID, err)
	}
	return &command, nil
}
