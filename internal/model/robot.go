package model

import "time"

// OperationalStatus is the robot's availability for clinic work. It is kept
// in sync with the maintenance workflow procedurally, not by a storage
// constraint, so the two can drift when a compound write partially fails.
type OperationalStatus string

const (
	StatusAvailable     OperationalStatus = "available"
	StatusInMaintenance OperationalStatus = "in_maintenance"
	StatusRetired       OperationalStatus = "retired"
)

// Robot represents a physical assistant device in the fleet.
type Robot struct {
	ID         string  `gorm:"primaryKey;size:36" json:"id"`
	MACAddress string  `gorm:"uniqueIndex;size:17;not null" json:"macAddress"`
	Name       string  `gorm:"size:256;not null" json:"name"`
	ClinicID   *string `gorm:"index;size:36" json:"clinicId"`

	// Kill switch: a blocked robot's agent must refuse to execute commands
	// and to report itself online. The engine still accepts enqueue and
	// telemetry for it; blocking is enforced at the device edge.
	Blocked bool `gorm:"not null;default:false" json:"blocked"`

	OperationalStatus OperationalStatus `gorm:"size:32;not null;default:available" json:"operationalStatus"`

	HardwareModel   string `gorm:"size:128" json:"hardwareModel"`
	HardwareVersion string `gorm:"size:64" json:"hardwareVersion"`
	SerialNumber    string `gorm:"size:128" json:"serialNumber"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}
