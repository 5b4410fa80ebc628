package worker

// report_worker.go
// Renders the close report PDF for a CLOSED session. The file name is shared
// with the HTTP layer, which serves it once it exists. Rendering is
// idempotent: a re-run overwrites the same file.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cashdrawer/internal/infra"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/model"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ReportJobPayload is the job envelope sent to QueueReports.
type ReportJobPayload struct {
	SessionID string `json:"session_id"`
}

// EmailEnqueuer is implemented by Dispatcher.
type EmailEnqueuer interface {
	EnqueueReportEmail(ctx context.Context, sessionID uuid.UUID, to []string) error
}

type ReportWorker struct {
	repo        repository.CashRepository
	storagePath string
	loc         *time.Location

	mail       EmailEnqueuer
	recipients []string
}

func NewReportWorker(repo repository.CashRepository, storagePath string, loc *time.Location) *ReportWorker {
	if loc == nil {
		loc = time.Local
	}
	return &ReportWorker{repo: repo, storagePath: storagePath, loc: loc}
}

// WithEmail mails every rendered report to recipients. No-op when either is empty.
func (w *ReportWorker) WithEmail(mail EmailEnqueuer, recipients []string) *ReportWorker {
	w.mail, w.recipients = mail, recipients
	return w
}

var _ Processor = (*ReportWorker)(nil)

func (w *ReportWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload ReportJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrPermanent, err)
	}
	id, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return fmt.Errorf("%w: invalid session_id %q", ErrPermanent, payload.SessionID)
	}

	sess, err := w.repo.FindSessionByID(ctx, id)
	if errors.Is(err, ledger.ErrSessionNotFound) {
		return fmt.Errorf("%w: session %s not found", ErrPermanent, id)
	}
	if err != nil {
		return fmt.Errorf("report_worker: load session: %w", err)
	}
	if sess.Status != string(ledger.SessionClosed) {
		return fmt.Errorf("%w: session %s is %s", ErrPermanent, id, sess.Status)
	}

	movs, err := w.repo.ListMovements(ctx, id, repository.MovementQuery{})
	if err != nil {
		return fmt.Errorf("report_worker: load movements: %w", err)
	}

	path, err := infra.GenerateSessionReportPDF(infra.SessionReport{
		Session:   *sess.ToLedger(),
		Movements: model.MovementsToLedger(movs),
		Location:  w.loc,
	}, w.storagePath, service.ReportFileName(id))
	if err != nil {
		return fmt.Errorf("report_worker: render: %w", err)
	}

	log.Info().Str("session_id", id.String()).Str("path", path).Int("movements", len(movs)).Msg("close report rendered")

	if w.mail != nil && len(w.recipients) > 0 {
		// A failed enqueue does not fail the render.
		if err := w.mail.EnqueueReportEmail(ctx, id, w.recipients); err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("report_worker: enqueue email")
		}
	}
	return nil
}
