package repository

import (
	"context"
	"errors"
	"time"

	"cashdrawer/internal/ledger"
	"cashdrawer/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MovementQuery is the optional server-side narrowing of a movement pull.
type MovementQuery struct {
	Type *string
	From *time.Time
	To   *time.Time
}

// SessionMutator inspects a locked session and its full movement snapshot.
// Returning an error aborts the surrounding transaction.
type SessionMutator func(s *model.CashSession, movements []model.CashMovement) error

// MovementBuilder builds the movement to insert from a locked session snapshot.
type MovementBuilder func(s *model.CashSession, movements []model.CashMovement) (*model.CashMovement, error)

type CashRepository interface {
	// CreateSession fails with ledger.ErrSessionAlreadyOpen when the organization has an OPEN session.
	CreateSession(ctx context.Context, s *model.CashSession) error
	// FindOpenSession returns nil, nil when there is none.
	FindOpenSession(ctx context.Context, organizationID string) (*model.CashSession, error)
	FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error)
	// UpdateSession locks the row, runs fn and saves the session if fn succeeds.
	UpdateSession(ctx context.Context, id uuid.UUID, fn SessionMutator) (*model.CashSession, error)
	// AppendMovement locks the session, runs build and inserts the result.
	AppendMovement(ctx context.Context, sessionID uuid.UUID, build MovementBuilder) (*model.CashMovement, error)
	// FindMovementByIdempotencyKey returns nil, nil when the key is unused.
	FindMovementByIdempotencyKey(ctx context.Context, key string) (*model.CashMovement, error)
	ListMovements(ctx context.Context, sessionID uuid.UUID, q MovementQuery) ([]model.CashMovement, error)
	ListSessions(ctx context.Context, organizationID string, page, limit int) ([]model.CashSession, int64, error)
	// ListClosedSince returns CLOSED sessions of every organization closed at or after since.
	ListClosedSince(ctx context.Context, since time.Time, limit int) ([]model.CashSession, error)
}

type cashRepo struct{ db *gorm.DB }

func NewCashRepository(db *gorm.DB) CashRepository { return &cashRepo{db: db} }

func (r *cashRepo) CreateSession(ctx context.Context, s *model.CashSession) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&model.CashSession{}).
			Where("organization_id = ? AND status = ?", s.OrganizationID, string(ledger.SessionOpen)).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ledger.ErrSessionAlreadyOpen
		}
		if s.OpenedAt.IsZero() {
			s.OpenedAt = time.Now()
		}
		err := tx.Create(s).Error
		// Two concurrent opens both pass the count; the partial unique index rejects the second.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrSessionAlreadyOpen
		}
		return err
	})
}

func (r *cashRepo) FindOpenSession(ctx context.Context, organizationID string) (*model.CashSession, error) {
	var s model.CashSession
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", organizationID, string(ledger.SessionOpen)).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *cashRepo) FindSessionByID(ctx context.Context, id uuid.UUID) (*model.CashSession, error) {
	var s model.CashSession
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrSessionNotFound
	}
	return &s, err
}

func (r *cashRepo) lockSession(tx *gorm.DB, id uuid.UUID) (*model.CashSession, []model.CashMovement, error) {
	var s model.CashSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ledger.ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var movs []model.CashMovement
	if err := tx.Where("session_id = ?", id).Order("created_at ASC").Find(&movs).Error; err != nil {
		return nil, nil, err
	}
	return &s, movs, nil
}

func (r *cashRepo) UpdateSession(ctx context.Context, id uuid.UUID, fn SessionMutator) (*model.CashSession, error) {
	var out *model.CashSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, movs, err := r.lockSession(tx, id)
		if err != nil {
			return err
		}
		if err := fn(s, movs); err != nil {
			return err
		}
		if err := tx.Save(s).Error; err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (r *cashRepo) AppendMovement(ctx context.Context, sessionID uuid.UUID, build MovementBuilder) (*model.CashMovement, error) {
	var out *model.CashMovement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, movs, err := r.lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		m, err := build(s, movs)
		if err != nil {
			return err
		}
		m.SessionID = s.ID
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (r *cashRepo) FindMovementByIdempotencyKey(ctx context.Context, key string) (*model.CashMovement, error) {
	var m model.CashMovement
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *cashRepo) ListMovements(ctx context.Context, sessionID uuid.UUID, q MovementQuery) ([]model.CashMovement, error) {
	var movs []model.CashMovement
	db := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if q.Type != nil {
		db = db.Where("type = ?", *q.Type)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	err := db.Order("created_at ASC").Find(&movs).Error
	return movs, err
}

func (r *cashRepo) ListSessions(ctx context.Context, organizationID string, page, limit int) ([]model.CashSession, int64, error) {
	var (
		sessions []model.CashSession
		total    int64
	)
	db := r.db.WithContext(ctx).Model(&model.CashSession{}).Where("organization_id = ?", organizationID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("opened_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

func (r *cashRepo) ListClosedSince(ctx context.Context, since time.Time, limit int) ([]model.CashSession, error) {
	var sessions []model.CashSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND closed_at >= ?", string(ledger.SessionClosed), since).
		Order("closed_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
