package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus: OPEN → CLOSED | CANCELLED. Both targets are terminal.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "OPEN"
	SessionClosed    SessionStatus = "CLOSED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// Session is a bounded period of drawer operation.
// ExpectedAmount and Discrepancy are written once, at close.
type Session struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Status         SessionStatus    `json:"status"`
	OpeningAmount  decimal.Decimal  `json:"opening_amount"`
	ClosingAmount  *decimal.Decimal `json:"closing_amount,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	Discrepancy    *decimal.Decimal `json:"discrepancy,omitempty"`
	OpenedBy       string           `json:"opened_by"`
	ClosedBy       *string          `json:"closed_by,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	OpenedAt       time.Time        `json:"opened_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

// IsOpen is nil-safe: no session is never an open one.
func (s *Session) IsOpen() bool {
	return s != nil && s.Status == SessionOpen
}

// CanTransition reports whether the state machine allows s → to.
func (s *Session) CanTransition(to SessionStatus) bool {
	if !s.IsOpen() {
		return false
	}
	return to == SessionClosed || to == SessionCancelled
}

// ValidateOpeningAmount runs before the open request is sent.
func ValidateOpeningAmount(amount decimal.Decimal, limits Limits) error {
	if amount.IsNegative() {
		return ErrNegativeOpeningAmount
	}
	if limits.MaxOpeningAmount.IsPositive() && amount.GreaterThan(limits.MaxOpeningAmount) {
		return ErrOpeningAmountTooLarge
	}
	return nil
}

func ValidateClosingAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeClosingAmount
	}
	return nil
}

// DiscrepancyLevel classifies a close.
type DiscrepancyLevel string

const (
	DiscrepancyNone    DiscrepancyLevel = "none"
	DiscrepancyWarning DiscrepancyLevel = "warning"
	// DiscrepancyHigh needs explicit confirmation; it never rejects the close.
	DiscrepancyHigh DiscrepancyLevel = "high"
)

// CloseAssessment is computed from the current ledger at close time.
type CloseAssessment struct {
	Expected    decimal.Decimal  `json:"expected"`
	Closing     decimal.Decimal  `json:"closing"`
	Discrepancy decimal.Decimal  `json:"discrepancy"`
	Threshold   decimal.Decimal  `json:"threshold"`
	Level       DiscrepancyLevel `json:"level"`
}

// AssessClose compares the declared closing amount with opening + ledger balance.
// High means discrepancy > max(floor, expected*ratio).
func AssessClose(openingAmount decimal.Decimal, s Summary, closing decimal.Decimal, limits Limits) CloseAssessment {
	expected := CurrentBalance(openingAmount, s)
	discrepancy := closing.Sub(expected).Abs()
	threshold := decimal.Max(limits.HighDiscrepancyFloor, expected.Mul(limits.HighDiscrepancyRatio))

	level := DiscrepancyNone
	switch {
	case discrepancy.IsZero():
	case discrepancy.GreaterThan(threshold):
		level = DiscrepancyHigh
	default:
		level = DiscrepancyWarning
	}
	return CloseAssessment{
		Expected:    expected,
		Closing:     closing,
		Discrepancy: discrepancy,
		Threshold:   threshold,
		Level:       level,
	}
}

// MovementRequest is a movement as the operator submitted it, before normalization.
type MovementRequest struct {
	Type      MovementType
	Amount    decimal.Decimal
	Direction Direction
}

// CheckMovementPreconditions runs against the last known session and balance.
// The store repeats these checks; its answer wins when they race.
func CheckMovementPreconditions(session *Session, balance decimal.Decimal, req MovementRequest) error {
	if !session.IsOpen() {
		return ErrNoOpenSession
	}
	switch req.Type {
	case MovementOut:
		if req.Amount.Abs().GreaterThan(balance) {
			return ErrInsufficientBalance
		}
	case MovementAdjustment:
		if req.Direction == "" {
			return ErrMissingDirection
		}
		if req.Direction == DirectionDecrease && req.Amount.Abs().GreaterThan(balance) {
			return ErrAdjustmentExceedsBalance
		}
	}
	return nil
}
