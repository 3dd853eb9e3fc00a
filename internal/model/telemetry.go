package model

import "time"

// TelemetryEvent is an immutable fact reported by a device: what it was
// doing and how it went. Events are append-only and never deleted; presence
// is derived from the recency of the latest event per mac address.
type TelemetryEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MACAddress string    `gorm:"index:idx_telemetry_mac_ts;size:17;not null" json:"macAddress"`
	Activity   string    `gorm:"size:128;not null" json:"activity"`
	Result     string    `gorm:"size:256" json:"result"`
	Details    JSON      `gorm:"type:text" json:"details"`
	Timestamp  time.Time `gorm:"index:idx_telemetry_mac_ts;not null" json:"timestamp"`
}
