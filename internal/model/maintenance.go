package model

import "time"

// MaintenanceType classifies why an order was opened.
type MaintenanceType string

const (
	MaintenancePreventive MaintenanceType = "preventive"
	MaintenanceCorrective MaintenanceType = "corrective"
	MaintenanceUpgrade    MaintenanceType = "upgrade"
	MaintenancePrep       MaintenanceType = "prep"
	MaintenanceOther      MaintenanceType = "other"
)

// KnownMaintenanceTypes is the admission set checked when opening an order.
var KnownMaintenanceTypes = map[MaintenanceType]bool{
	MaintenancePreventive: true,
	MaintenanceCorrective: true,
	MaintenanceUpgrade:    true,
	MaintenancePrep:       true,
	MaintenanceOther:      true,
}

// OrderStatus is the repair workflow state. Any non-terminal state may move
// to any other non-terminal state or directly to either terminal state;
// done and cancelled are terminal.
type OrderStatus string

const (
	OrderOpen         OrderStatus = "open"
	OrderInAnalysis   OrderStatus = "in_analysis"
	OrderAwaitingPart OrderStatus = "awaiting_part"
	OrderInRepair     OrderStatus = "in_repair"
	OrderTesting      OrderStatus = "testing"
	OrderDone         OrderStatus = "done"
	OrderCancelled    OrderStatus = "cancelled"
)

// IsTerminal reports whether the order status admits no further transition.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDone || s == OrderCancelled
}

// Known reports whether s belongs to the workflow vocabulary at all.
func (s OrderStatus) Known() bool {
	switch s {
	case OrderOpen, OrderInAnalysis, OrderAwaitingPart, OrderInRepair, OrderTesting, OrderDone, OrderCancelled:
		return true
	}
	return false
}

// NonTerminalOrderStatuses lists the states that count as an active order.
var NonTerminalOrderStatuses = []OrderStatus{
	OrderOpen, OrderInAnalysis, OrderAwaitingPart, OrderInRepair, OrderTesting,
}

// MaintenanceOrder is a repair workflow instance for one robot. It is the
// only entity whose mutation is also required to mutate the robot row.
type MaintenanceOrder struct {
	ID       string          `gorm:"primaryKey;size:36" json:"id"`
	RobotID  string          `gorm:"index;size:36;not null" json:"robotId"`
	Type     MaintenanceType `gorm:"size:32;not null" json:"type"`
	Status   OrderStatus     `gorm:"size:32;not null;default:open" json:"status"`
	OpenedAt time.Time       `gorm:"not null" json:"openedAt"`
	ClosedAt *time.Time      `json:"closedAt"`

	ReportedDefect     string `gorm:"size:2048" json:"reportedDefect"`
	TechnicalDiagnosis string `gorm:"size:2048" json:"technicalDiagnosis"`
	AppliedFix         string `gorm:"size:2048" json:"appliedFix"`

	// TotalCostCents avoids float money; billing itself is out of scope.
	TotalCostCents   int64 `json:"totalCostCents"`
	BilledToCustomer bool  `gorm:"not null;default:false" json:"billedToCustomer"`

	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}
