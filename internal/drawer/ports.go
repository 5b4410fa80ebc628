// Package drawer is the client side of a cash drawer: it validates and
// confirms operator actions, writes them through a Store, and keeps a
// snapshot of the open session and its ledger consistent with the store,
// including changes made by other terminals.
package drawer

import (
	"context"
	"errors"
	"time"

	"cashdrawer/internal/events"
	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store failures the workflow gives specific guidance for.
var (
	ErrOrganizationRequired = errors.New("organization required")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUnavailable          = errors.New("cash store unavailable")
)

// ErrStaleSnapshot: the last write could not be confirmed by a re-pull and
// a retry failed too.
var ErrStaleSnapshot = errors.New("drawer snapshot is stale")

// MovementQuery narrows a movement pull. The zero value pulls everything.
type MovementQuery struct {
	Type ledger.MovementType
	From *time.Time
	To   *time.Time
}

// NewMovement is a validated, normalized movement ready to be written.
type NewMovement struct {
	SessionID      uuid.UUID
	Type           ledger.MovementType
	Amount         decimal.Decimal
	Direction      ledger.Direction
	Reason         *string
	ReferenceType  *string
	ReferenceID    *string
	IdempotencyKey string
}

// Store is the remote source of truth. It repeats every check the workflow
// makes; when they disagree its rejection wins.
type Store interface {
	// FetchOpenSession returns nil, nil when no session is open.
	FetchOpenSession(ctx context.Context) (*ledger.Session, error)
	FetchMovements(ctx context.Context, sessionID uuid.UUID, q MovementQuery) ([]ledger.Movement, error)
	CreateSession(ctx context.Context, openingAmount decimal.Decimal) (*ledger.Session, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID, closingAmount decimal.Decimal, notes *string) (*ledger.Session, error)
	CreateMovement(ctx context.Context, m NewMovement) (*ledger.Movement, error)
}

// ChangeFeed delivers change notifications for one session.
type ChangeFeed interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID, fn func(events.Event)) (events.Subscription, error)
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Prompt asks the operator to confirm a risky action.
type Prompt struct {
	Title       string
	Description string
	ConfirmText string
	CancelText  string
	Risk        RiskLevel
}

// Confirmer blocks until the operator answers.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier shows a transient message. It must not block.
type Notifier interface {
	Notify(message string, severity Severity)
}
