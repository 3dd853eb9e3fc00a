// Package registry owns robot identity: registration, tenant assignment,
// the kill switch, and the operational status flag.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/model"
	"tirilo-fleet-backend/internal/parse"
)

// PresenceSource answers whether a device has reported recently. The
// telemetry store implements it; list responses carry the derived online
// flag rather than a stored one.
type PresenceSource interface {
	IsOnline(ctx context.Context, mac string, window time.Duration, now time.Time) (bool, *time.Time, error)
}

// Registry manages the robot fleet records.
type Registry struct {
	db       *gorm.DB
	presence PresenceSource
	window   time.Duration
}

// New creates a registry. window is the presence window used when deriving
// the online flag for list reads.
func New(db *gorm.DB, presence PresenceSource, window time.Duration) *Registry {
	return &Registry{db: db, presence: presence, window: window}
}

// RegisterInput is the payload for creating a new robot record.
type RegisterInput struct {
	MACAddress      string
	Name            string
	ClinicID        *string
	HardwareModel   string
	HardwareVersion string
	SerialNumber    string
}

// RobotUpdate is a partial mutation; nil fields are left untouched.
type RobotUpdate struct {
	Name            *string
	MACAddress      *string
	ClinicID        *string
	ClearClinic     bool
	HardwareModel   *string
	HardwareVersion *string
	SerialNumber    *string
}

// RobotStatus is a robot record together with its derived presence.
type RobotStatus struct {
	model.Robot
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

// Register creates a robot with a fresh id, unblocked and available.
// A duplicate mac address yields a ConflictError and no new row.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*model.Robot, error) {
	mac, err := parse.NormalizeMAC(in.MACAddress)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	if in.Name == "" {
		return nil, fleeterr.NewValidation("name", "required")
	}

	robot := model.Robot{
		ID:                uuid.NewString(),
		MACAddress:        mac,
		Name:              in.Name,
		ClinicID:          in.ClinicID,
		Blocked:           false,
		OperationalStatus: model.StatusAvailable,
		HardwareModel:     in.HardwareModel,
		HardwareVersion:   in.HardwareVersion,
		SerialNumber:      in.SerialNumber,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Robot{}).Where("mac_address = ?", mac).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check mac uniqueness: %w", err)
		}
		if count > 0 {
			return &fleeterr.ConflictError{Entity: "robot", Key: mac}
		}
		if err := tx.Create(&robot).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &fleeterr.ConflictError{Entity: "robot", Key: mac}
			}
			return fmt.Errorf("failed to register robot %s: %w", mac, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &robot, nil
}

// Update applies a partial mutation to a robot record.
func (r *Registry) Update(ctx context.Context, id string, upd RobotUpdate) (*model.Robot, error) {
	robot, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, fleeterr.NewValidation("name", "cannot be empty")
		}
		fields["name"] = *upd.Name
	}
	if upd.MACAddress != nil {
		mac, err := parse.NormalizeMAC(*upd.MACAddress)
		if err != nil {
			return nil, fleeterr.NewValidation("macAddress", err.Error())
		}
		if mac != robot.MACAddress {
			var count int64
			if err := r.db.WithContext(ctx).Model(&model.Robot{}).
				Where("mac_address = ? AND id <> ?", mac, id).
				Count(&count).Error; err != nil {
				return nil, fmt.Errorf("failed to check mac uniqueness: %w", err)
			}
			if count > 0 {
				return nil, &fleeterr.ConflictError{Entity: "robot", Key: mac}
			}
			fields["mac_address"] = mac
		}
	}
	if upd.ClearClinic {
		fields["clinic_id"] = nil
	} else if upd.ClinicID != nil {
		fields["clinic_id"] = *upd.ClinicID
	}
	if upd.HardwareModel != nil {
		fields["hardware_model"] = *upd.HardwareModel
	}
	if upd.HardwareVersion != nil {
		fields["hardware_version"] = *upd.HardwareVersion
	}
	if upd.SerialNumber != nil {
		fields["serial_number"] = *upd.SerialNumber
	}

	if len(fields) == 0 {
		return robot, nil
	}

	if err := r.db.WithContext(ctx).Model(&model.Robot{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return nil, fmt.Errorf("failed to update robot %s: %w", id, err)
	}
	return r.Get(ctx, id)
}

// SetBlocked toggles the kill switch. The effect is behavioral at the
// device edge; the engine keeps accepting commands and telemetry for a
// blocked robot.
func (r *Registry) SetBlocked(ctx context.Context, id string, blocked bool) error {
	res := r.db.WithContext(ctx).Model(&model.Robot{}).Where("id = ?", id).Update("blocked", blocked)
	if res.Error != nil {
		return fmt.Errorf("failed to set blocked=%t on robot %s: %w", blocked, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return &fleeterr.NotFoundError{Entity: "robot", ID: id}
	}
	return nil
}

// Get loads a robot by id.
func (r *Registry) Get(ctx context.Context, id string) (*model.Robot, error) {
	var robot model.Robot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&robot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "robot", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load robot %s: %w", id, err)
	}
	return &robot, nil
}

// GetByMAC loads a robot by its hardware address. Device agents use it at
// boot to learn their blocked flag and clinic assignment.
func (r *Registry) GetByMAC(ctx context.Context, rawMAC string) (*model.Robot, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	var robot model.Robot
	dbErr := r.db.WithContext(ctx).Where("mac_address = ?", mac).First(&robot).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "robot", ID: mac}
	}
	if dbErr != nil {
		return nil, fmt.Errorf("failed to load robot by mac %s: %w", mac, dbErr)
	}
	return &robot, nil
}

// ListByClinic returns robots, optionally filtered by clinic, each with the
// derived online flag and last-seen timestamp.
func (r *Registry) ListByClinic(ctx context.Context, clinicID *string, now time.Time) ([]RobotStatus, error) {
	query := r.db.WithContext(ctx).Model(&model.Robot{}).Order("created_at ASC")
	if clinicID != nil {
		query = query.Where("clinic_id = ?", *clinicID)
	}

	var robots []model.Robot
	if err := query.Find(&robots).Error; err != nil {
		return nil, fmt.Errorf("failed to list robots: %w", err)
	}

	statuses := make([]RobotStatus, 0, len(robots))
	for _, robot := range robots {
		online, lastSeen, err := r.presence.IsOnline(ctx, robot.MACAddress, r.window, now)
		if err != nil {
			return nil, fmt.Errorf("failed to derive presence for %s: %w", robot.MACAddress, err)
		}
		statuses = append(statuses, RobotStatus{Robot: robot, Online: online, LastSeen: lastSeen})
	}
	return statuses, nil
}
