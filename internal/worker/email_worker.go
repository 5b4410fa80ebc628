package worker

// email_worker.go
// Mails a rendered close report to the configured recipients. Runs as its
// own job so a failing SMTP server does not re-render the PDF.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cashdrawer/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope for JobReportEmail.
type EmailJobPayload struct {
	SessionID string   `json:"session_id"`
	To        []string `json:"to"`
}

// Mailer is implemented by infra.Mailer.
type Mailer interface {
	Send(to []string, subject, body, attachment string) error
}

type EmailWorker struct {
	mailer      Mailer
	storagePath string
}

func NewEmailWorker(mailer Mailer, storagePath string) *EmailWorker {
	return &EmailWorker{mailer: mailer, storagePath: storagePath}
}

var _ Processor = (*EmailWorker)(nil)

func (w *EmailWorker) Process(_ context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrPermanent, err)
	}
	id, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return fmt.Errorf("%w: invalid session_id %q", ErrPermanent, payload.SessionID)
	}
	if len(payload.To) == 0 {
		log.Warn().Str("session_id", id.String()).Msg("email_worker: no recipients, skipping")
		return nil
	}

	path := filepath.Join(w.storagePath, service.ReportFileName(id))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: report %s missing", ErrPermanent, path)
	}

	subject := fmt.Sprintf("Cierre de caja %s", id.String()[:8])
	body := "Se adjunta el reporte de cierre de la sesión " + id.String() + "."
	if err := w.mailer.Send(payload.To, subject, body, path); err != nil {
		return fmt.Errorf("email_worker: send: %w", err)
	}

	log.Info().Str("session_id", id.String()).Strs("to", payload.To).Msg("close report mailed")
	return nil
}
