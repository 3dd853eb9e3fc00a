// Package maintenance runs the repair-order state machine and the two
// compound operations that must also mutate the robot row. The two writes
// are intentionally not wrapped in one transaction: the source system kept
// them independent, and a failure of the second write surfaces as a
// PartialFailureError describing the observable inconsistency instead of
// rolling back.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/model"
	"tirilo-fleet-backend/internal/notification"
)

// AlertSink receives reconciliation alerts when a compound write leaves
// robot and order state inconsistent. The notification worker pool
// implements it; a nil sink disables alerting.
type AlertSink interface {
	Dispatch(alert notification.Alert)
}

// Workflow manages maintenance orders for the fleet.
type Workflow struct {
	db     *gorm.DB
	alerts AlertSink
}

// New creates a maintenance workflow. alerts may be nil.
func New(db *gorm.DB, alerts AlertSink) *Workflow {
	return &Workflow{db: db, alerts: alerts}
}

// OrderUpdate carries the mutable descriptive fields of an order; nil
// fields are left untouched.
type OrderUpdate struct {
	ReportedDefect     *string
	TechnicalDiagnosis *string
	AppliedFix         *string
	TotalCostCents     *int64
	BilledToCustomer   *bool
}

// Open creates a repair order in the open state. At most one non-terminal
// order may exist per robot. When alsoUpdateRobotStatus is set, the robot
// is flagged in_maintenance as a second, independent write; if that write
// fails the order still exists and the result is a PartialFailureError
// naming both halves.
func (w *Workflow) Open(ctx context.Context, robotID string, orderType model.MaintenanceType, reportedDefect string, alsoUpdateRobotStatus bool, now time.Time) (*model.MaintenanceOrder, error) {
	if !model.KnownMaintenanceTypes[orderType] {
		return nil, fleeterr.NewValidation("type", fmt.Sprintf("unknown maintenance type %q", orderType))
	}

	if _, err := w.loadRobot(ctx, robotID); err != nil {
		return nil, err
	}

	active, err := w.ActiveForRobot(ctx, robotID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &fleeterr.ConflictError{Entity: "active maintenance order", Key: robotID}
	}

	order := model.MaintenanceOrder{
		ID:             uuid.NewString(),
		RobotID:        robotID,
		Type:           orderType,
		Status:         model.OrderOpen,
		OpenedAt:       now,
		ReportedDefect: reportedDefect,
	}
	if err := w.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("failed to create maintenance order for robot %s: %w", robotID, err)
	}

	if !alsoUpdateRobotStatus {
		return &order, nil
	}

	if err := w.setRobotStatus(ctx, robotID, model.StatusInMaintenance); err != nil {
		w.alertReconcile(robotID, fmt.Sprintf("Maintenance order %s created but robot was not flagged in_maintenance", order.ID))
		return &order, &fleeterr.PartialFailureError{
			Completed: "maintenance order created",
			Failed:    "failed to flag robot as in maintenance",
			State:     "order is open, robot still reads available",
			Err:       err,
		}
	}
	return &order, nil
}

// Transition moves an order to a new status and/or updates its descriptive
// fields. From any non-terminal state every non-terminal or terminal status
// is reachable; terminal orders are immutable. Entering a terminal state
// stamps ClosedAt if it is not set yet.
func (w *Workflow) Transition(ctx context.Context, orderID string, newStatus model.OrderStatus, upd OrderUpdate, now time.Time) (*model.MaintenanceOrder, error) {
	order, err := w.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, fleeterr.NewValidation("status", fmt.Sprintf("order is %s and immutable", order.Status))
	}

	fields := make(map[string]any)
	if newStatus != "" && newStatus != order.Status {
		if !newStatus.Known() {
			return nil, fleeterr.NewValidation("status", fmt.Sprintf("unknown order status %q", newStatus))
		}
		fields["status"] = newStatus
		if newStatus.IsTerminal() && order.ClosedAt == nil {
			fields["closed_at"] = now
		}
	}
	if upd.ReportedDefect != nil {
		fields["reported_defect"] = *upd.ReportedDefect
	}
	if upd.TechnicalDiagnosis != nil {
		fields["technical_diagnosis"] = *upd.TechnicalDiagnosis
	}
	if upd.AppliedFix != nil {
		fields["applied_fix"] = *upd.AppliedFix
	}
	if upd.TotalCostCents != nil {
		fields["total_cost_cents"] = *upd.TotalCostCents
	}
	if upd.BilledToCustomer != nil {
		fields["billed_to_customer"] = *upd.BilledToCustomer
	}

	if len(fields) == 0 {
		return order, nil
	}

	// Guarded on the status read above so a racing transition cannot
	// resurrect a terminal order.
	res := w.db.WithContext(ctx).Model(&model.MaintenanceOrder{}).
		Where("id = ? AND status = ?", orderID, order.Status).
		Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update maintenance order %s: %w", orderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fleeterr.NewValidation("status", "order changed concurrently, retry")
	}
	return w.Get(ctx, orderID)
}

// CloseAndRelease is the compound close: (a) the order goes to done with
// ClosedAt stamped, (b) the robot is released back to available. When (a)
// succeeds and (b) fails the result is a PartialFailureError (order done,
// robot still in_maintenance, no rollback) and a reconcile alert is
// dispatched. Retrying after such a failure re-runs the release half.
func (w *Workflow) CloseAndRelease(ctx context.Context, orderID, robotID string, now time.Time) (*model.MaintenanceOrder, error) {
	order, err := w.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RobotID != robotID {
		return nil, fleeterr.NewValidation("robotId", "order does not belong to this robot")
	}
	if order.Status == model.OrderCancelled {
		return nil, fleeterr.NewValidation("status", "order is cancelled and immutable")
	}

	if order.Status != model.OrderDone {
		fields := map[string]any{"status": model.OrderDone}
		if order.ClosedAt == nil {
			fields["closed_at"] = now
		}
		res := w.db.WithContext(ctx).Model(&model.MaintenanceOrder{}).
			Where("id = ? AND status = ?", orderID, order.Status).
			Updates(fields)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to close maintenance order %s: %w", orderID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fleeterr.NewValidation("status", "order changed concurrently, retry")
		}
		order.Status = model.OrderDone
		if order.ClosedAt == nil {
			ts := now
			order.ClosedAt = &ts
		}
	}

	if err := w.setRobotStatus(ctx, robotID, model.StatusAvailable); err != nil {
		w.alertReconcile(robotID, fmt.Sprintf("Order %s closed but robot was not released back to service", orderID))
		return order, &fleeterr.PartialFailureError{
			Completed: "order closed",
			Failed:    "failed to release robot",
			State:     "order is done, robot still reads in_maintenance",
			Err:       err,
		}
	}
	return order, nil
}

// Get loads an order by id.
func (w *Workflow) Get(ctx context.Context, orderID string) (*model.MaintenanceOrder, error) {
	var order model.MaintenanceOrder
	err := w.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "maintenance order", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load maintenance order %s: %w", orderID, err)
	}
	return &order, nil
}

// ActiveForRobot returns the robot's non-terminal order, or nil.
func (w *Workflow) ActiveForRobot(ctx context.Context, robotID string) (*model.MaintenanceOrder, error) {
	var order model.MaintenanceOrder
	err := w.db.WithContext(ctx).
		Where("robot_id = ? AND status IN ?", robotID, model.NonTerminalOrderStatuses).
		Order("opened_at DESC").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active order for robot %s: %w", robotID, err)
	}
	return &order, nil
}

// List returns orders newest first. filter may be empty or "all" (every
// order), "active" (non-terminal only), or one specific status.
func (w *Workflow) List(ctx context.Context, filter string) ([]model.MaintenanceOrder, error) {
	query := w.db.WithContext(ctx).Model(&model.MaintenanceOrder{}).Order("opened_at DESC")
	switch filter {
	case "", "all":
	case "active":
		query = query.Where("status IN ?", model.NonTerminalOrderStatuses)
	default:
		status := model.OrderStatus(filter)
		if !status.Known() {
			return nil, fleeterr.NewValidation("status", fmt.Sprintf("unknown order status %q", filter))
		}
		query = query.Where("status = ?", status)
	}

	var orders []model.MaintenanceOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list maintenance orders: %w", err)
	}
	return orders, nil
}

// History returns every order ever opened for one robot, newest first.
func (w *Workflow) History(ctx context.Context, robotID string) ([]model.MaintenanceOrder, error) {
	var orders []model.MaintenanceOrder
	err := w.db.WithContext(ctx).
		Where("robot_id = ?", robotID).
		Order("opened_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load order history for robot %s: %w", robotID, err)
	}
	return orders, nil
}

func (w *Workflow) loadRobot(ctx context.Context, robotID string) (*model.Robot, error) {
	var robot model.Robot
	err := w.db.WithContext(ctx).Where("id = ?", robotID).First(&robot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "robot", ID: robotID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load robot %s: %w", robotID, err)
	}
	return &robot, nil
}

func (w *Workflow) setRobotStatus(ctx context.Context, robotID string, status model.OperationalStatus) error {
	res := w.db.WithContext(ctx).Model(&model.Robot{}).
		Where("id = ?", robotID).
		Update("operational_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &fleeterr.NotFoundError{Entity: "robot", ID: robotID}
	}
	return nil
}

func (w *Workflow) alertReconcile(robotID, message string) {
	if w.alerts == nil {
		return
	}
	w.alerts.Dispatch(notification.Alert{
		RobotID: robotID,
		Kind:    notification.AlertReconcile,
		Message: message,
	})
}
