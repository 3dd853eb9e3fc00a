package model

import "time"

// CommandType enumerates the vocabulary a device agent understands.
type CommandType string

const (
	CommandSpeak CommandType = "speak"
	CommandPlay  CommandType = "play"
	CommandStop  CommandType = "stop"
	CommandReset CommandType = "reset"
)

// KnownCommandTypes is the admission set checked at enqueue time.
var KnownCommandTypes = map[CommandType]bool{
	CommandSpeak: true,
	CommandPlay:  true,
	CommandStop:  true,
	CommandReset: true,
}

// CommandStatus is the delivery state of a command. Transitions only move
// forward: pending -> dispatched -> executed|errored, with cancelled
// reachable from pending only. Terminal commands are immutable.
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandDispatched CommandStatus = "dispatched"
	CommandExecuted   CommandStatus = "executed"
	CommandErrored    CommandStatus = "errored"
	CommandCancelled  CommandStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transition.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandExecuted || s == CommandErrored || s == CommandCancelled
}

// Command is a unit of work addressed to a device by mac address, not by
// robot id: a command may target an as-yet-unregistered device.
type Command struct {
	ID         int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	MACAddress string        `gorm:"index:idx_commands_mac_status;size:17;not null" json:"macAddress"`
	Type       CommandType   `gorm:"size:32;not null" json:"type"`
	Params     JSON          `gorm:"type:text" json:"params"`
	Status     CommandStatus `gorm:"index:idx_commands_mac_status;size:16;not null;default:pending" json:"status"`

	CreatedAt    time.Time  `gorm:"not null;index" json:"createdAt"`
	DispatchedAt *time.Time `json:"dispatchedAt"`
	AckedAt      *time.Time `json:"ackedAt"`
}
