package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cashdrawer/internal/apierror"
	"cashdrawer/internal/drawer"
	"cashdrawer/internal/dto"
	"cashdrawer/internal/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CashAPIClient is the terminal's drawer.Store: every call goes to the cash
// server's /v1/cash API with the operator's bearer token. Transport failures
// and 5xx responses trip the circuit breaker; rule violations do not.
type CashAPIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *CircuitBreaker
}

var _ drawer.Store = (*CashAPIClient)(nil)

func NewCashAPIClient(baseURL, token string, cb *CircuitBreaker) *CashAPIClient {
	if cb == nil {
		cb = NewCircuitBreaker(DefaultCBConfig())
	}
	return &CashAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cb:         cb,
	}
}

// Breaker exposes the circuit state for status lines.
func (c *CashAPIClient) Breaker() *CircuitBreaker { return c.cb }

// ── drawer.Store ──────────────────────────────────────────────────────────────

func (c *CashAPIClient) FetchOpenSession(ctx context.Context) (*ledger.Session, error) {
	var s ledger.Session
	err := c.do(ctx, http.MethodGet, "/v1/cash/sessions/active", nil, nil, &s)
	if errors.Is(err, ledger.ErrNoOpenSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *CashAPIClient) FetchMovements(ctx context.Context, sessionID uuid.UUID, q drawer.MovementQuery) ([]ledger.Movement, error) {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}
	if q.From != nil {
		v.Set("from", q.From.Format(time.RFC3339))
	}
	if q.To != nil {
		v.Set("to", q.To.Format(time.RFC3339))
	}
	path := "/v1/cash/sessions/" + sessionID.String() + "/movements"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var page dto.MovementListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *CashAPIClient) CreateSession(ctx context.Context, openingAmount decimal.Decimal) (*ledger.Session, error) {
	var s ledger.Session
	body := dto.OpenSessionRequest{OpeningAmount: openingAmount}
	if err := c.do(ctx, http.MethodPost, "/v1/cash/sessions", body, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *CashAPIClient) CloseSession(ctx context.Context, sessionID uuid.UUID, closingAmount decimal.Decimal, notes *string) (*ledger.Session, error) {
	var resp dto.CloseSessionResponse
	body := dto.CloseSessionRequest{ClosingAmount: closingAmount, Notes: notes}
	if err := c.do(ctx, http.MethodPost, "/v1/cash/sessions/"+sessionID.String()+"/close", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

func (c *CashAPIClient) CreateMovement(ctx context.Context, m drawer.NewMovement) (*ledger.Movement, error) {
	body := dto.CreateMovementRequest{
		Type:          string(m.Type),
		Amount:        m.Amount.Abs(),
		Direction:     string(m.Direction),
		Reason:        m.Reason,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
	}
	if m.Type == ledger.MovementAdjustment && body.Direction == "" {
		body.Direction = string(ledger.DirectionIncrease)
		if m.Amount.IsNegative() {
			body.Direction = string(ledger.DirectionDecrease)
		}
	}
	var headers http.Header
	if m.IdempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{m.IdempotencyKey}}
	}

	var resp dto.MovementResponse
	if err := c.do(ctx, http.MethodPost, "/v1/cash/sessions/"+m.SessionID.String()+"/movements", body, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Replayed {
		log.Info().Str("movement_id", resp.Movement.ID.String()).Msg("cash api: movement replayed")
	}
	return &resp.Movement, nil
}

// ── transport ─────────────────────────────────────────────────────────────────

// statusError is a non-2xx answer decoded from the apierror envelope.
type statusError struct {
	status int
	body   apierror.APIError
}

func (e *statusError) Error() string {
	return fmt.Sprintf("cash api: %d %s: %s", e.status, e.body.Code, e.body.Detail)
}

func (c *CashAPIClient) do(ctx context.Context, method, path string, in any, headers http.Header, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("cash api: marshal request: %w", err)
		}
		payload = b
	}

	// Only transport errors and 5xx count against the breaker; a 4xx is
	// carried out of Execute in rejected.
	var (
		rejected *statusError
		body     []byte
	)
	err := c.cb.Execute(func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("cash api: create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("cash api: server unreachable: %w", err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("cash api: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return decodeStatus(resp.StatusCode, body)
		}
		if resp.StatusCode >= 300 {
			rejected = decodeStatus(resp.StatusCode, body)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("cash api: request failed")
		return fmt.Errorf("%w: %w", drawer.ErrUnavailable, err)
	}
	if rejected != nil {
		return mapRejection(rejected)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cash api: decode response: %w", err)
	}
	return nil
}

func decodeStatus(status int, body []byte) *statusError {
	e := &statusError{status: status}
	if err := json.Unmarshal(body, &e.body); err != nil || e.body.Detail == "" {
		e.body.Detail = http.StatusText(status)
	}
	return e
}

// mapRejection turns a 4xx into the error the workflow knows how to explain.
func mapRejection(e *statusError) error {
	switch {
	case e.body.Code == apierror.CodeOrganizationRequired:
		return fmt.Errorf("%w: %w", drawer.ErrOrganizationRequired, e)
	case e.status == http.StatusUnauthorized, e.status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", drawer.ErrPermissionDenied, e)
	}
	if sentinel := ledger.FromCode(e.body.Code); sentinel != nil {
		return sentinel
	}
	return e
}
