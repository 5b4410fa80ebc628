// Package ledger holds the cash drawer rules: movement sign convention,
// amount validation and normalization, the summary fold, session close
// assessment and the movement filter. Everything here is pure; callers own
// I/O and state.
package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType is the closed set of ledger entry kinds.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementSale       MovementType = "SALE"
	MovementReturn     MovementType = "RETURN"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// MovementTypes lists every valid type in display order.
var MovementTypes = []MovementType{MovementIn, MovementOut, MovementSale, MovementReturn, MovementAdjustment}

// ParseMovementType accepts the canonical names, case-insensitively.
func ParseMovementType(s string) (MovementType, error) {
	t := MovementType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMovementType, s)
	}
	return t, nil
}

func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementSale, MovementReturn, MovementAdjustment:
		return true
	}
	return false
}

// Sign is +1 for types that add their magnitude, -1 for types that subtract
// it and +1 for ADJUSTMENT, whose stored amount is already signed. 0 for
// unknown types.
func (t MovementType) Sign() int {
	switch t {
	case MovementIn, MovementSale, MovementAdjustment:
		return 1
	case MovementOut, MovementReturn:
		return -1
	}
	return 0
}

// Contribution returns what a stored amount adds to the balance.
// IN/SALE add the magnitude, OUT/RETURN subtract it, ADJUSTMENT carries its own sign.
func (t MovementType) Contribution(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case MovementIn, MovementSale:
		return amount.Abs()
	case MovementOut, MovementReturn:
		return amount.Abs().Neg()
	case MovementAdjustment:
		return amount
	}
	return decimal.Zero
}

// Direction applies to adjustments only.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// ParseDirection returns "" for an empty input so callers can tell
// "not supplied" apart from "increase".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DirectionIncrease, DirectionDecrease:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Movement is one immutable ledger entry.
type Movement struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	Type          MovementType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        *string         `json:"reason,omitempty"`
	ReferenceType *string         `json:"reference_type,omitempty"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     *string         `json:"created_by,omitempty"`
}

// Limits are the configurable ceilings enforced before any write.
type Limits struct {
	MaxMovementAmount    decimal.Decimal
	MaxOpeningAmount     decimal.Decimal
	HighDiscrepancyFloor decimal.Decimal
	HighDiscrepancyRatio decimal.Decimal
}

func DefaultLimits() Limits {
	return Limits{
		MaxMovementAmount:    decimal.NewFromInt(10_000_000),
		MaxOpeningAmount:     decimal.NewFromInt(1_000_000),
		HighDiscrepancyFloor: decimal.NewFromInt(100_000),
		HighDiscrepancyRatio: decimal.NewFromFloat(0.5),
	}
}

// ParseAmount parses user input. NaN, infinities and garbage all fail with ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// AmountFromFloat rejects non-finite floats before they become decimals.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrInvalidAmount
	}
	return decimal.NewFromFloat(f), nil
}

// ValidateMovementAmount checks an amount as submitted for type t.
func ValidateMovementAmount(amount decimal.Decimal, t MovementType, limits Limits) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMovementType, t)
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if limits.MaxMovementAmount.IsPositive() && amount.Abs().GreaterThan(limits.MaxMovementAmount) {
		return fmt.Errorf("%w (%s)", ErrAmountTooLarge, limits.MaxMovementAmount.StringFixed(2))
	}
	if t != MovementAdjustment && amount.IsNegative() {
		return ErrNegativeAmountNotAllowed
	}
	return nil
}

// NormalizeMovementAmount converts a raw amount into its stored form.
// Must run before persistence.
func NormalizeMovementAmount(amount decimal.Decimal, t MovementType, d Direction) decimal.Decimal {
	if t == MovementAdjustment && d == DirectionDecrease {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
