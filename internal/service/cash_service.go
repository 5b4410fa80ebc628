package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cashdrawer/internal/dto"
	"cashdrawer/internal/events"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/model"
	"cashdrawer/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrIdempotencyConflict = errors.New("la Idempotency-Key ya fue usada en otra sesión")
	ErrReportNotReady      = errors.New("el reporte de cierre aún no fue generado")
)

// Actor is the authenticated caller, taken from the JWT claims.
type Actor struct {
	UserID         string
	OrganizationID string
}

// ReportEnqueuer schedules the close report for a session.
type ReportEnqueuer interface {
	EnqueueSessionReport(ctx context.Context, sessionID uuid.UUID) error
}

type CashService interface {
	OpenSession(ctx context.Context, actor Actor, req dto.OpenSessionRequest) (*ledger.Session, error)
	CloseSession(ctx context.Context, actor Actor, id uuid.UUID, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error)
	CancelSession(ctx context.Context, actor Actor, id uuid.UUID, notes *string) (*ledger.Session, error)
	// RegisterMovement returns the stored movement and whether it was replayed
	// from an earlier request carrying the same idempotency key.
	RegisterMovement(ctx context.Context, actor Actor, id uuid.UUID, idempotencyKey string, req dto.CreateMovementRequest) (*dto.MovementResponse, error)
	// GetActive returns nil, nil when the organization has no OPEN session.
	GetActive(ctx context.Context, actor Actor) (*ledger.Session, error)
	GetSession(ctx context.Context, actor Actor, id uuid.UUID) (*ledger.Session, error)
	Summary(ctx context.Context, actor Actor, id uuid.UUID) (*dto.SummaryResponse, error)
	ListMovements(ctx context.Context, actor Actor, id uuid.UUID, q repository.MovementQuery) ([]ledger.Movement, error)
	History(ctx context.Context, actor Actor, page, limit int) (*dto.SessionListResponse, error)
	// ReportPath returns the path of the rendered close report.
	ReportPath(ctx context.Context, actor Actor, id uuid.UUID) (string, error)
}

type cashService struct {
	repo       repository.CashRepository
	publisher  events.Publisher
	reports    ReportEnqueuer
	limits     ledger.Limits
	reportsDir string
}

func NewCashService(repo repository.CashRepository, publisher events.Publisher, reports ReportEnqueuer, limits ledger.Limits, reportsDir string) CashService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &cashService{repo: repo, publisher: publisher, reports: reports, limits: limits, reportsDir: reportsDir}
}

// ReportFileName is shared with the report worker.
func ReportFileName(sessionID uuid.UUID) string {
	return fmt.Sprintf("cierre_%s.pdf", sessionID)
}

// ── Open ──────────────────────────────────────────────────────────────────────

func (s *cashService) OpenSession(ctx context.Context, actor Actor, req dto.OpenSessionRequest) (*ledger.Session, error) {
	if err := ledger.ValidateOpeningAmount(req.OpeningAmount, s.limits); err != nil {
		return nil, err
	}
	sess := &model.CashSession{
		OrganizationID: actor.OrganizationID,
		Status:         string(ledger.SessionOpen),
		OpeningAmount:  req.OpeningAmount,
		OpenedBy:       actor.UserID,
		Notes:          req.Notes,
		OpenedAt:       time.Now(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("organization_id", actor.OrganizationID).
		Str("opening_amount", sess.OpeningAmount.StringFixed(2)).
		Msg("cash session opened")
	s.publish(ctx, events.KindSessionUpdated, sess.ID)
	return sess.ToLedger(), nil
}

// ── Close ─────────────────────────────────────────────────────────────────────
// Expected and discrepancy are derived from the ledger inside the same
// transaction that locks the session row.

func (s *cashService) CloseSession(ctx context.Context, actor Actor, id uuid.UUID, req dto.CloseSessionRequest) (*dto.CloseSessionResponse, error) {
	if err := ledger.ValidateClosingAmount(req.ClosingAmount); err != nil {
		return nil, err
	}
	var assessment ledger.CloseAssessment
	sess, err := s.repo.UpdateSession(ctx, id, func(cs *model.CashSession, movs []model.CashMovement) error {
		if cs.OrganizationID != actor.OrganizationID {
			return ledger.ErrSessionNotFound
		}
		if !cs.ToLedger().CanTransition(ledger.SessionClosed) {
			return ledger.ErrSessionNotOpen
		}
		summary := ledger.CalculateMovementSummary(model.MovementsToLedger(movs))
		assessment = ledger.AssessClose(cs.OpeningAmount, summary, req.ClosingAmount, s.limits)

		now := time.Now()
		closedBy := actor.UserID
		cs.Status = string(ledger.SessionClosed)
		cs.ClosingAmount = &assessment.Closing
		cs.ExpectedAmount = &assessment.Expected
		cs.Discrepancy = &assessment.Discrepancy
		cs.ClosedBy = &closedBy
		cs.ClosedAt = &now
		if req.Notes != nil {
			cs.Notes = req.Notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := log.Info()
	if assessment.Level == ledger.DiscrepancyHigh {
		ev = log.Warn()
	}
	ev.Str("session_id", id.String()).
		Str("expected", assessment.Expected.StringFixed(2)).
		Str("closing", assessment.Closing.StringFixed(2)).
		Str("level", string(assessment.Level)).
		Msg("cash session closed")

	s.publish(ctx, events.KindSessionUpdated, id)
	if s.reports != nil {
		if err := s.reports.EnqueueSessionReport(ctx, id); err != nil {
			log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to enqueue close report")
		}
	}
	return &dto.CloseSessionResponse{Session: *sess.ToLedger(), Assessment: assessment}, nil
}

// ── Cancel ────────────────────────────────────────────────────────────────────

func (s *cashService) CancelSession(ctx context.Context, actor Actor, id uuid.UUID, notes *string) (*ledger.Session, error) {
	sess, err := s.repo.UpdateSession(ctx, id, func(cs *model.CashSession, _ []model.CashMovement) error {
		if cs.OrganizationID != actor.OrganizationID {
			return ledger.ErrSessionNotFound
		}
		if !cs.ToLedger().CanTransition(ledger.SessionCancelled) {
			return ledger.ErrSessionNotOpen
		}
		now := time.Now()
		by := actor.UserID
		cs.Status = string(ledger.SessionCancelled)
		cs.ClosedBy = &by
		cs.ClosedAt = &now
		if notes != nil {
			cs.Notes = notes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("session_id", id.String()).Str("by", actor.UserID).Msg("cash session cancelled")
	s.publish(ctx, events.KindSessionUpdated, id)
	return sess.ToLedger(), nil
}

// ── RegisterMovement ──────────────────────────────────────────────────────────
// Movements are immutable: there is no update or delete path.

func (s *cashService) RegisterMovement(ctx context.Context, actor Actor, id uuid.UUID, idempotencyKey string, req dto.CreateMovementRequest) (*dto.MovementResponse, error) {
	t, err := ledger.ParseMovementType(req.Type)
	if err != nil {
		return nil, err
	}
	dir, err := ledger.ParseDirection(req.Direction)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateMovementAmount(req.Amount, t, s.limits); err != nil {
		return nil, err
	}

	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
		// A replay hands back a stored movement, so ownership is checked first.
		if _, err := s.ownedSession(ctx, actor, id); err != nil {
			return nil, err
		}
		if existing, err := s.replay(ctx, id, idempotencyKey); err != nil || existing != nil {
			return existing, err
		}
	}

	createdBy := actor.UserID
	mov, err := s.repo.AppendMovement(ctx, id, func(cs *model.CashSession, movs []model.CashMovement) (*model.CashMovement, error) {
		if cs.OrganizationID != actor.OrganizationID {
			return nil, ledger.ErrSessionNotFound
		}
		summary := ledger.CalculateMovementSummary(model.MovementsToLedger(movs))
		balance := ledger.CurrentBalance(cs.OpeningAmount, summary)
		if err := ledger.CheckMovementPreconditions(cs.ToLedger(), balance, ledger.MovementRequest{
			Type:      t,
			Amount:    req.Amount,
			Direction: dir,
		}); err != nil {
			return nil, err
		}
		return &model.CashMovement{
			Type:           string(t),
			Amount:         ledger.NormalizeMovementAmount(req.Amount, t, dir),
			Reason:         req.Reason,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: key,
			CreatedBy:      &createdBy,
			CreatedAt:      time.Now(),
		}, nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && key != nil {
		// Lost a race against a concurrent request with the same key.
		return s.replay(ctx, id, idempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", id.String()).
		Str("type", mov.Type).
		Str("amount", mov.Amount.StringFixed(2)).
		Msg("cash movement registered")
	s.publish(ctx, events.KindMovementInserted, id)
	return &dto.MovementResponse{Movement: mov.ToLedger()}, nil
}

func (s *cashService) replay(ctx context.Context, sessionID uuid.UUID, key string) (*dto.MovementResponse, error) {
	existing, err := s.repo.FindMovementByIdempotencyKey(ctx, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.SessionID != sessionID {
		return nil, ErrIdempotencyConflict
	}
	log.Debug().Str("idempotency_key", key).Msg("cash movement replayed")
	return &dto.MovementResponse{Movement: existing.ToLedger(), Replayed: true}, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *cashService) GetActive(ctx context.Context, actor Actor) (*ledger.Session, error) {
	sess, err := s.repo.FindOpenSession(ctx, actor.OrganizationID)
	if err != nil || sess == nil {
		return nil, err
	}
	return sess.ToLedger(), nil
}

func (s *cashService) GetSession(ctx context.Context, actor Actor, id uuid.UUID) (*ledger.Session, error) {
	sess, err := s.ownedSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return sess.ToLedger(), nil
}

func (s *cashService) Summary(ctx context.Context, actor Actor, id uuid.UUID) (*dto.SummaryResponse, error) {
	sess, err := s.ownedSession(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	movs, err := s.repo.ListMovements(ctx, id, repository.MovementQuery{})
	if err != nil {
		return nil, err
	}
	summary := ledger.CalculateMovementSummary(model.MovementsToLedger(movs))
	return &dto.SummaryResponse{
		SessionID:     id.String(),
		OpeningAmount: sess.OpeningAmount,
		Summary:       summary,
		Balance:       ledger.CurrentBalance(sess.OpeningAmount, summary),
	}, nil
}

func (s *cashService) ListMovements(ctx context.Context, actor Actor, id uuid.UUID, q repository.MovementQuery) ([]ledger.Movement, error) {
	if _, err := s.ownedSession(ctx, actor, id); err != nil {
		return nil, err
	}
	movs, err := s.repo.ListMovements(ctx, id, q)
	if err != nil {
		return nil, err
	}
	return model.MovementsToLedger(movs), nil
}

func (s *cashService) History(ctx context.Context, actor Actor, page, limit int) (*dto.SessionListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = ledger.DefaultPageSize
	}
	rows, total, err := s.repo.ListSessions(ctx, actor.OrganizationID, page, limit)
	if err != nil {
		return nil, err
	}
	items := make([]ledger.Session, len(rows))
	for i := range rows {
		items[i] = *rows[i].ToLedger()
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &dto.SessionListResponse{
		Items:      items,
		Page:       page,
		PageSize:   limit,
		Total:      int(total),
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

func (s *cashService) ReportPath(ctx context.Context, actor Actor, id uuid.UUID) (string, error) {
	sess, err := s.ownedSession(ctx, actor, id)
	if err != nil {
		return "", err
	}
	if sess.Status != string(ledger.SessionClosed) {
		return "", ErrReportNotReady
	}
	path := filepath.Join(s.reportsDir, ReportFileName(id))
	if _, err := os.Stat(path); err != nil {
		return "", ErrReportNotReady
	}
	return path, nil
}

// ownedSession hides sessions of other organizations behind ErrSessionNotFound.
func (s *cashService) ownedSession(ctx context.Context, actor Actor, id uuid.UUID) (*model.CashSession, error) {
	sess, err := s.repo.FindSessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OrganizationID != actor.OrganizationID {
		return nil, ledger.ErrSessionNotFound
	}
	return sess, nil
}

func (s *cashService) publish(ctx context.Context, kind events.Kind, sessionID uuid.UUID) {
	err := s.publisher.Publish(ctx, events.Event{Kind: kind, SessionID: sessionID, At: time.Now().UTC()})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Str("kind", string(kind)).Msg("failed to publish change event")
	}
}
