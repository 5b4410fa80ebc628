package drawer

import (
	"context"
	"errors"
	"unicode"
	"unicode/utf8"

	"cashdrawer/internal/ledger"
)

const (
	msgOrganizationRequired = "Tu usuario no tiene una organización asignada. Pedile al administrador que te asigne una."
	msgPermissionDenied     = "No tenés permisos para realizar esta operación."
	msgUnavailable          = "El servicio de caja no está disponible. Intentá nuevamente en unos minutos."
	msgStale                = "No se pudo confirmar el saldo actual de la caja. Actualizá e intentá nuevamente."
	msgCancelled            = "Operación cancelada."
	msgGeneric              = "No se pudo completar la operación. Intentá nuevamente."
)

// UserMessage turns any workflow error into text for the operator.
// Internal details never leak; unknown errors get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOrganizationRequired):
		return msgOrganizationRequired
	case errors.Is(err, ErrPermissionDenied):
		return msgPermissionDenied
	case errors.Is(err, ErrStaleSnapshot):
		return msgStale
	case errors.Is(err, ErrUnavailable):
		return msgUnavailable
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case ledger.Code(err) != "":
		return capitalize(err.Error())
	}
	return msgGeneric
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
