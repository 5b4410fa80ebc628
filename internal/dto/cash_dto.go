package dto

import (
	"cashdrawer/internal/ledger"

	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────
// Amounts carry no validator tags: range and sign rules live in ledger so the
// response carries the precise ledger error code.

type OpenSessionRequest struct {
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	Notes         *string         `json:"notes" validate:"omitempty,max=500"`
}

type CloseSessionRequest struct {
	ClosingAmount decimal.Decimal `json:"closing_amount"`
	Notes         *string         `json:"notes" validate:"omitempty,max=500"`
}

type CreateMovementRequest struct {
	Type          string          `json:"type"           validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     string          `json:"direction"      validate:"omitempty,oneof=increase decrease"`
	Reason        *string         `json:"reason"         validate:"omitempty,max=255"`
	ReferenceType *string         `json:"reference_type" validate:"omitempty,max=40"`
	ReferenceID   *string         `json:"reference_id"   validate:"omitempty,max=64"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SummaryResponse struct {
	SessionID     string          `json:"session_id"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	Summary       ledger.Summary  `json:"summary"`
	Balance       decimal.Decimal `json:"balance"`
}

type CloseSessionResponse struct {
	Session    ledger.Session         `json:"session"`
	Assessment ledger.CloseAssessment `json:"assessment"`
}

// MovementResponse reports whether the movement was created by this request
// or replayed from an earlier one with the same Idempotency-Key.
type MovementResponse struct {
	Movement ledger.Movement `json:"movement"`
	Replayed bool            `json:"replayed"`
}

type MovementListResponse = ledger.Page[ledger.Movement]

type SessionListResponse = ledger.Page[ledger.Session]
