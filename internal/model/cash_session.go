package model

import (
	"time"

	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashSession represents the lifecycle of a cash register session.
// Status: "OPEN" | "CLOSED" | "CANCELLED"
// At most one OPEN row per organization (partial unique index, see infra.NewDatabase).
type CashSession struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrganizationID string          `gorm:"type:varchar(64);not null;index"`
	Status         string          `gorm:"type:varchar(20);not null;default:'OPEN'"`
	OpeningAmount  decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	// ExpectedAmount and Discrepancy are computed on close: OpeningAmount + SUM(contributions)
	ClosingAmount  *decimal.Decimal `gorm:"type:decimal(14,2)"`
	ExpectedAmount *decimal.Decimal `gorm:"type:decimal(14,2)"`
	Discrepancy    *decimal.Decimal `gorm:"type:decimal(14,2)"`
	OpenedBy       string           `gorm:"type:varchar(64);not null"`
	ClosedBy       *string          `gorm:"type:varchar(64)"`
	Notes          *string
	OpenedAt       time.Time
	ClosedAt       *time.Time

	Movements []CashMovement `gorm:"foreignKey:SessionID"`
}

func (CashSession) TableName() string { return "cash_sessions" }

// CashMovement is an immutable event in the cash register ledger.
// Movements are NEVER modified or deleted.
type CashMovement struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID uuid.UUID       `gorm:"type:uuid;index;not null"`
	Type      string          `gorm:"type:varchar(20);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Reason    *string
	// ReferenceType/ReferenceID link to the originating sale or return; informational only.
	ReferenceType  *string `gorm:"type:varchar(40)"`
	ReferenceID    *string `gorm:"type:varchar(64)"`
	IdempotencyKey *string `gorm:"type:varchar(64);uniqueIndex"`
	CreatedBy      *string `gorm:"type:varchar(64)"`
	CreatedAt      time.Time
}

func (CashMovement) TableName() string { return "cash_movements" }

func (s *CashSession) ToLedger() *ledger.Session {
	return &ledger.Session{
		ID:             s.ID,
		OrganizationID: s.OrganizationID,
		Status:         ledger.SessionStatus(s.Status),
		OpeningAmount:  s.OpeningAmount,
		ClosingAmount:  s.ClosingAmount,
		ExpectedAmount: s.ExpectedAmount,
		Discrepancy:    s.Discrepancy,
		OpenedBy:       s.OpenedBy,
		ClosedBy:       s.ClosedBy,
		Notes:          s.Notes,
		OpenedAt:       s.OpenedAt,
		ClosedAt:       s.ClosedAt,
	}
}

func (m CashMovement) ToLedger() ledger.Movement {
	return ledger.Movement{
		ID:            m.ID,
		SessionID:     m.SessionID,
		Type:          ledger.MovementType(m.Type),
		Amount:        m.Amount,
		Reason:        m.Reason,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		CreatedAt:     m.CreatedAt,
		CreatedBy:     m.CreatedBy,
	}
}

// MovementsToLedger converts a pulled snapshot in one pass.
func MovementsToLedger(ms []CashMovement) []ledger.Movement {
	out := make([]ledger.Movement, len(ms))
	for i, m := range ms {
		out[i] = m.ToLedger()
	}
	return out
}
