package ledger

import "errors"

// Validation errors: detected locally, never reach the store.
var (
	ErrInvalidAmount            = errors.New("el monto no es un número válido")
	ErrZeroAmount               = errors.New("el monto no puede ser cero")
	ErrAmountTooLarge           = errors.New("el monto excede el máximo permitido")
	ErrNegativeAmountNotAllowed = errors.New("el monto debe ser positivo para este tipo de movimiento")
	ErrInvalidMovementType      = errors.New("tipo de movimiento inválido")
	ErrInvalidDirection         = errors.New("dirección de ajuste inválida")
	ErrMissingDirection         = errors.New("los ajustes requieren una dirección (increase | decrease)")
	ErrNegativeOpeningAmount    = errors.New("el monto inicial no puede ser negativo")
	ErrOpeningAmountTooLarge    = errors.New("el monto inicial excede el máximo permitido")
	ErrNegativeClosingAmount    = errors.New("el monto de cierre no puede ser negativo")
)

// Precondition errors: checked against the last known session and summary.
var (
	ErrNoOpenSession            = errors.New("no hay una sesión de caja abierta")
	ErrSessionNotOpen           = errors.New("la sesión de caja no está abierta")
	ErrSessionAlreadyOpen       = errors.New("ya existe una sesión de caja abierta")
	ErrSessionNotFound          = errors.New("sesión de caja no encontrada")
	ErrInsufficientBalance      = errors.New("saldo insuficiente en caja")
	ErrAdjustmentExceedsBalance = errors.New("el ajuste excede el saldo de la caja")
)

// codes are the stable identifiers used on the wire (apierror.Code).
var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrZeroAmount, "zero_amount"},
	{ErrAmountTooLarge, "amount_too_large"},
	{ErrNegativeAmountNotAllowed, "negative_amount_not_allowed"},
	{ErrInvalidMovementType, "invalid_movement_type"},
	{ErrInvalidDirection, "invalid_direction"},
	{ErrMissingDirection, "missing_direction"},
	{ErrNegativeOpeningAmount, "negative_opening_amount"},
	{ErrOpeningAmountTooLarge, "opening_amount_too_large"},
	{ErrNegativeClosingAmount, "negative_closing_amount"},
	{ErrNoOpenSession, "no_open_session"},
	{ErrSessionNotOpen, "session_not_open"},
	{ErrSessionAlreadyOpen, "session_already_open"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrAdjustmentExceedsBalance, "adjustment_exceeds_balance"},
}

// Code returns the wire code of a ledger error, or "" when err is not one.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// FromCode is the inverse of Code. It returns nil for unknown codes.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// IsValidation reports whether err is detectable without talking to the store.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrZeroAmount, ErrAmountTooLarge, ErrNegativeAmountNotAllowed,
		ErrInvalidMovementType, ErrInvalidDirection, ErrMissingDirection,
		ErrNegativeOpeningAmount, ErrOpeningAmountTooLarge, ErrNegativeClosingAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
