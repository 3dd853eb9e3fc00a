// Package fleet is the operation surface consumed by dashboards and the
// device-agent endpoints. It aggregates the registry, command queue,
// telemetry store and maintenance workflow, and owns the per-clinic AI
// personality pass-through.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tirilo-fleet-backend/internal/cmdqueue"
	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/maintenance"
	"tirilo-fleet-backend/internal/model"
	"tirilo-fleet-backend/internal/parse"
	"tirilo-fleet-backend/internal/registry"
	"tirilo-fleet-backend/internal/telemetry"
)

// Service bundles the four engine components behind one facade.
type Service struct {
	Registry    *registry.Registry
	Queue       *cmdqueue.Queue
	Telemetry   *telemetry.Store
	Maintenance *maintenance.Workflow

	db             *gorm.DB
	presenceWindow time.Duration
	pollBatchSize  int
}

// New creates the facade.
func New(db *gorm.DB, reg *registry.Registry, queue *cmdqueue.Queue, tel *telemetry.Store, maint *maintenance.Workflow, presenceWindow time.Duration, pollBatchSize int) *Service {
	return &Service{
		Registry:       reg,
		Queue:          queue,
		Telemetry:      tel,
		Maintenance:    maint,
		db:             db,
		presenceWindow: presenceWindow,
		pollBatchSize:  pollBatchSize,
	}
}

// PresenceWindow exposes the configured liveness window.
func (s *Service) PresenceWindow() time.Duration {
	return s.presenceWindow
}

// DB exposes the underlying handle for layers that manage their own
// entities, such as the push-subscription handlers.
func (s *Service) DB() *gorm.DB {
	return s.db
}

// SendCommand enqueues a command for a device by mac address.
func (s *Service) SendCommand(ctx context.Context, rawMAC string, cmdType model.CommandType, params model.JSON) (*model.Command, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Queue.Enqueue(ctx, mac, cmdType, params, time.Now().UTC())
}

// PollCommands hands the oldest pending commands to a device agent.
func (s *Service) PollCommands(ctx context.Context, rawMAC string) ([]model.Command, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Queue.Poll(ctx, mac, s.pollBatchSize, time.Now().UTC())
}

// AckCommand records a device's command outcome.
func (s *Service) AckCommand(ctx context.Context, commandID int64, outcome model.CommandStatus) (*model.Command, error) {
	return s.Queue.Ack(ctx, commandID, outcome, time.Now().UTC())
}

// CancelCommand supersedes a still-pending command.
func (s *Service) CancelCommand(ctx context.Context, commandID int64) (*model.Command, error) {
	return s.Queue.Cancel(ctx, commandID)
}

// CommandHistory lists a device's recent commands.
func (s *Service) CommandHistory(ctx context.Context, rawMAC string, limit int) ([]model.Command, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Queue.History(ctx, mac, limit)
}

// RecordTelemetry appends a device-reported event.
func (s *Service) RecordTelemetry(ctx context.Context, rawMAC, activity, result string, details model.JSON, timestamp time.Time) (*model.TelemetryEvent, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Telemetry.Record(ctx, mac, activity, result, details, timestamp)
}

// GetTelemetry lists a device's recent events, newest first.
func (s *Service) GetTelemetry(ctx context.Context, rawMAC string, limit int) ([]model.TelemetryEvent, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Telemetry.Recent(ctx, mac, limit)
}

// IsOnline derives a device's presence from its latest telemetry.
func (s *Service) IsOnline(ctx context.Context, rawMAC string) (bool, *time.Time, error) {
	mac, err := parse.NormalizeMAC(rawMAC)
	if err != nil {
		return false, nil, fleeterr.NewValidation("macAddress", err.Error())
	}
	return s.Telemetry.IsOnline(ctx, mac, s.presenceWindow, time.Now().UTC())
}

// AgentBootstrap is what a device agent reads at boot: its registration
// record (blocked flag, clinic assignment) and the clinic's AI personality
// config, when assigned.
type AgentBootstrap struct {
	Robot    *model.Robot          `json:"robot"`
	AIConfig *model.ClinicAIConfig `json:"aiConfig"`
}

// Bootstrap loads the agent-facing view for a device.
func (s *Service) Bootstrap(ctx context.Context, rawMAC string) (*AgentBootstrap, error) {
	robot, err := s.Registry.GetByMAC(ctx, rawMAC)
	if err != nil {
		return nil, err
	}

	boot := &AgentBootstrap{Robot: robot}
	if robot.ClinicID != nil {
		cfg, err := s.GetAIConfig(ctx, *robot.ClinicID)
		if err != nil {
			var nf *fleeterr.NotFoundError
			if !errors.As(err, &nf) {
				return nil, err
			}
		} else {
			boot.AIConfig = cfg
		}
	}
	return boot, nil
}

// GetAIConfig reads a clinic's AI personality configuration.
func (s *Service) GetAIConfig(ctx context.Context, clinicID string) (*model.ClinicAIConfig, error) {
	var cfg model.ClinicAIConfig
	err := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &fleeterr.NotFoundError{Entity: "clinic config", ID: clinicID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load clinic config %s: %w", clinicID, err)
	}
	return &cfg, nil
}

// PutAIConfig upserts a clinic's AI personality configuration.
func (s *Service) PutAIConfig(ctx context.Context, clinicID, personalityPrompt, voiceEngine string) (*model.ClinicAIConfig, error) {
	if clinicID == "" {
		return nil, fleeterr.NewValidation("clinicId", "required")
	}

	cfg := model.ClinicAIConfig{
		ClinicID:          clinicID,
		PersonalityPrompt: personalityPrompt,
		VoiceEngine:       voiceEngine,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "clinic_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"personality_prompt", "voice_engine", "updated_at"}),
	}).Create(&cfg).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert clinic config %s: %w", clinicID, err)
	}
	return s.GetAIConfig(ctx, clinicID)
}
