// Package telemetry is the append-only store for device-reported events
// and the source of the derived presence signal.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/model"
)

// Store records telemetry and answers presence queries. The latest event
// timestamp per mac address is kept in an in-process cache so that list
// endpoints do not hit the events table once per robot; the database
// remains the source of truth after a restart.
type Store struct {
	db *gorm.DB

	// bumpMu serializes the compare-and-set on lastSeen; the cache itself
	// is safe for concurrent use but the read-compare-write in bump is not.
	bumpMu   sync.Mutex
	lastSeen *cache.Cache
}

// NewStore creates a telemetry store on top of the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		lastSeen: cache.New(cache.NoExpiration, 0),
	}
}

// Record appends one telemetry event. Required fields only; duplicate
// content is legitimate (repeated game rounds report identical events).
func (s *Store) Record(ctx context.Context, mac, activity, result string, details model.JSON, timestamp time.Time) (*model.TelemetryEvent, error) {
	if mac == "" {
		return nil, fleeterr.NewValidation("macAddress", "required")
	}
	if activity == "" {
		return nil, fleeterr.NewValidation("activity", "required")
	}
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	event := model.TelemetryEvent{
		MACAddress: mac,
		Activity:   activity,
		Result:     result,
		Details:    details,
		Timestamp:  timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, fmt.Errorf("failed to record telemetry for %s: %w", mac, err)
	}

	s.bump(mac, timestamp)
	return &event, nil
}

// Recent returns the newest events for a device, descending by timestamp.
func (s *Store) Recent(ctx context.Context, mac string, limit int) ([]model.TelemetryEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []model.TelemetryEvent
	err := s.db.WithContext(ctx).
		Where("mac_address = ?", mac).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch telemetry for %s: %w", mac, err)
	}
	return events, nil
}

// LastSeen returns the timestamp of the latest event for a device, or nil
// when the device has never reported.
func (s *Store) LastSeen(ctx context.Context, mac string) (*time.Time, error) {
	if v, found := s.lastSeen.Get(mac); found {
		t := v.(time.Time)
		return &t, nil
	}

	var event model.TelemetryEvent
	err := s.db.WithContext(ctx).
		Where("mac_address = ?", mac).
		Order("timestamp DESC, id DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up last telemetry for %s: %w", mac, err)
	}

	s.bump(mac, event.Timestamp)
	return &event.Timestamp, nil
}

// IsOnline derives presence: the device is online when its latest event is
// no older than the window. A device that never reported is offline.
func (s *Store) IsOnline(ctx context.Context, mac string, window time.Duration, now time.Time) (bool, *time.Time, error) {
	last, err := s.LastSeen(ctx, mac)
	if err != nil {
		return false, nil, err
	}
	if last == nil {
		return false, nil, nil
	}
	return now.Sub(*last) <= window, last, nil
}

// bump advances the cached last-seen timestamp, never moving it backwards
// (events may arrive out of order, and Record is called concurrently).
func (s *Store) bump(mac string, ts time.Time) {
	s.bumpMu.Lock()
	defer s.bumpMu.Unlock()

	if v, found := s.lastSeen.Get(mac); found {
		if cached := v.(time.Time); cached.After(ts) {
			return
		}
	}
	s.lastSeen.Set(mac, ts, cache.NoExpiration)
}
