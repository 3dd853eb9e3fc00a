package model

import "time"

// ClinicAIConfig is the per-clinic personality configuration served to
// device agents. A simple key-value pass-through keyed by clinic.
type ClinicAIConfig struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ClinicID          string    `gorm:"uniqueIndex;size:36;not null" json:"clinicId"`
	PersonalityPrompt string    `gorm:"type:text" json:"personalityPrompt"`
	VoiceEngine       string    `gorm:"size:64" json:"voiceEngine"`
	UpdatedAt         time.Time `gorm:"not null" json:"updatedAt"`
}
