package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cashdrawer/internal/apierror"
	"cashdrawer/internal/dto"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/middleware"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testSecret = "handler-secret"

// stubService implements only what each test sets; anything else panics.
type stubService struct {
	service.CashService

	active    *ledger.Session
	session   *ledger.Session
	movements []ledger.Movement
	err       error

	lastActor service.Actor
	lastKey   string
	lastReq   dto.CreateMovementRequest
	lastQuery repository.MovementQuery
	replayed  bool
}

func (s *stubService) GetActive(_ context.Context, a service.Actor) (*ledger.Session, error) {
	s.lastActor = a
	return s.active, s.err
}

func (s *stubService) GetSession(_ context.Context, a service.Actor, id uuid.UUID) (*ledger.Session, error) {
	s.lastActor = a
	if s.err != nil {
		return nil, s.err
	}
	if s.session == nil || s.session.ID != id {
		return nil, ledger.ErrSessionNotFound
	}
	return s.session, nil
}

func (s *stubService) OpenSession(_ context.Context, a service.Actor, req dto.OpenSessionRequest) (*ledger.Session, error) {
	s.lastActor = a
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.Session{ID: uuid.New(), Status: ledger.SessionOpen, OpeningAmount: req.OpeningAmount}, nil
}

func (s *stubService) ListMovements(_ context.Context, _ service.Actor, _ uuid.UUID, q repository.MovementQuery) ([]ledger.Movement, error) {
	s.lastQuery = q
	return s.movements, s.err
}

func (s *stubService) RegisterMovement(_ context.Context, _ service.Actor, id uuid.UUID, key string, req dto.CreateMovementRequest) (*dto.MovementResponse, error) {
	s.lastKey, s.lastReq = key, req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.MovementResponse{
		Movement: ledger.Movement{ID: uuid.New(), SessionID: id, Type: ledger.MovementType(req.Type), Amount: req.Amount},
		Replayed: s.replayed,
	}, nil
}

func newTestRouter(svc service.CashService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCashHandler(svc)
	g := r.Group("/v1/cash/sessions", middleware.JWTAuth(testSecret), middleware.RequireOrganization())
	g.POST("", h.Open)
	g.GET("/active", h.Active)
	g.GET("/:id", h.Get)
	g.GET("/:id/movements", h.Movements)
	g.POST("/:id/movements", h.RegisterMovement)
	g.GET("/:id/export", h.Export)
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	tok, err := middleware.IssueToken(testSecret, middleware.JWTClaims{UserID: "u-1", OrganizationID: "org-1", Role: middleware.RoleCashier}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body apierror.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func strp(s string) *string { return &s }

func seededSession() (*ledger.Session, []ledger.Movement) {
	s := &ledger.Session{ID: uuid.New(), Status: ledger.SessionOpen, OpeningAmount: decimal.NewFromInt(1000), OpenedAt: time.Now()}
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return s, []ledger.Movement{
		{ID: uuid.New(), SessionID: s.ID, Type: ledger.MovementSale, Amount: decimal.NewFromInt(700), Reason: strp("Venta mostrador"), CreatedAt: base, CreatedBy: strp("u-1")},
		{ID: uuid.New(), SessionID: s.ID, Type: ledger.MovementOut, Amount: decimal.NewFromInt(200), Reason: strp("Pago proveedor"), CreatedAt: base.Add(time.Hour), CreatedBy: strp("u-2")},
		{ID: uuid.New(), SessionID: s.ID, Type: ledger.MovementIn, Amount: decimal.NewFromInt(50), CreatedAt: base.Add(2 * time.Hour), CreatedBy: strp("u-1")},
	}
}

// ── Open / Active ─────────────────────────────────────────────────────────────

func TestOpen_Created(t *testing.T) {
	svc := &stubService{}
	r := newTestRouter(svc)

	w := doRequest(t, r, http.MethodPost, "/v1/cash/sessions", map[string]any{"opening_amount": "1000"})

	require.Equal(t, http.StatusCreated, w.Code)
	var s ledger.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.True(t, s.OpeningAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, service.Actor{UserID: "u-1", OrganizationID: "org-1"}, svc.lastActor)
}

func TestOpen_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.ErrSessionAlreadyOpen, http.StatusConflict, "session_already_open"},
		{ledger.ErrNegativeOpeningAmount, http.StatusUnprocessableEntity, "negative_opening_amount"},
		{fmt.Errorf("db: %w", assert.AnError), http.StatusInternalServerError, apierror.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := newTestRouter(&stubService{err: tt.err})
			w := doRequest(t, r, http.MethodPost, "/v1/cash/sessions", map[string]any{"opening_amount": "10"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestOpen_BadJSON(t *testing.T) {
	r := newTestRouter(&stubService{})
	req := httptest.NewRequest(http.MethodPost, "/v1/cash/sessions", bytes.NewBufferString("{"))
	tok, _ := middleware.IssueToken(testSecret, middleware.JWTClaims{UserID: "u-1", OrganizationID: "org-1"}, time.Hour)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierror.CodeBadRequest, errorCode(t, w))
}

func TestActive_NoneIs404(t *testing.T) {
	r := newTestRouter(&stubService{})

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/active", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_open_session", errorCode(t, w))
}

func TestGet_InvalidID(t *testing.T) {
	r := newTestRouter(&stubService{})

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/nope", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── Movements ─────────────────────────────────────────────────────────────────

func TestMovements_UnpaginatedReturnsAll(t *testing.T) {
	s, movs := seededSession()
	r := newTestRouter(&stubService{session: s, movements: movs})

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/movements", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var page dto.MovementListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 1, page.TotalPages)
}

func TestMovements_FilterAndPage(t *testing.T) {
	s, movs := seededSession()
	svc := &stubService{session: s, movements: movs}
	r := newTestRouter(svc)

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/movements?mine=true&page=1&limit=1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var page dto.MovementListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "u-1", *page.Items[0].CreatedBy)
}

func TestMovements_TypePushedToQuery(t *testing.T) {
	s, movs := seededSession()
	svc := &stubService{session: s, movements: movs}
	r := newTestRouter(svc)

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/movements?type=sale&search=mostrador", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastQuery.Type)
	assert.Equal(t, "SALE", *svc.lastQuery.Type)
	var page dto.MovementListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
}

func TestMovements_BadFilter(t *testing.T) {
	s, _ := seededSession()
	r := newTestRouter(&stubService{session: s})
	base := "/v1/cash/sessions/" + s.ID.String() + "/movements"

	w := doRequest(t, r, http.MethodGet, base+"?type=BOGUS", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_movement_type", errorCode(t, w))

	w = doRequest(t, r, http.MethodGet, base+"?from=ayer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierror.CodeBadRequest, errorCode(t, w))
}

func TestRegisterMovement_CreatedThenReplayed(t *testing.T) {
	s, _ := seededSession()
	svc := &stubService{session: s}
	r := newTestRouter(svc)
	path := "/v1/cash/sessions/" + s.ID.String() + "/movements"
	body := map[string]any{"type": "IN", "amount": "25.50", "reason": "Cambio"}

	w := doRequest(t, r, http.MethodPost, path, body, IdempotencyHeader, "key-1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "key-1", svc.lastKey)
	assert.True(t, svc.lastReq.Amount.Equal(decimal.RequireFromString("25.50")))

	svc.replayed = true
	w = doRequest(t, r, http.MethodPost, path, body, IdempotencyHeader, "key-1")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterMovement_Validation(t *testing.T) {
	s, _ := seededSession()
	r := newTestRouter(&stubService{session: s})
	path := "/v1/cash/sessions/" + s.ID.String() + "/movements"

	w := doRequest(t, r, http.MethodPost, path, map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, apierror.CodeValidation, errorCode(t, w))

	w = doRequest(t, r, http.MethodPost, path, map[string]any{"type": "ADJUSTMENT", "amount": "10", "direction": "sideways"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRegisterMovement_ServiceErrors(t *testing.T) {
	s, _ := seededSession()
	path := "/v1/cash/sessions/" + s.ID.String() + "/movements"
	body := map[string]any{"type": "OUT", "amount": "5000"}

	w := doRequest(t, newTestRouter(&stubService{err: ledger.ErrInsufficientBalance}), http.MethodPost, path, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "insufficient_balance", errorCode(t, w))

	w = doRequest(t, newTestRouter(&stubService{err: service.ErrIdempotencyConflict}), http.MethodPost, path, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "idempotency_conflict", errorCode(t, w))
}

// ── Export ────────────────────────────────────────────────────────────────────

func TestExport_ReturnsWorkbook(t *testing.T) {
	s, movs := seededSession()
	r := newTestRouter(&stubService{session: s, movements: movs})

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/export", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), s.ID.String())

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Movimientos")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestExport_UnknownSession(t *testing.T) {
	r := newTestRouter(&stubService{})

	w := doRequest(t, r, http.MethodGet, "/v1/cash/sessions/"+uuid.NewString()+"/export", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session_not_found", errorCode(t, w))
}

// ── ParseFilter ───────────────────────────────────────────────────────────────

func TestParseFilter(t *testing.T) {
	q := map[string]string{
		"type":       "all",
		"search":     "  proveedor ",
		"from":       "2026-03-01",
		"to":         "2026-03-02",
		"amount_min": "10",
		"mine":       "1",
	}
	f, err := ParseFilter(func(k string) string { return q[k] }, "u-7")

	require.NoError(t, err)
	assert.Equal(t, ledger.MovementType(""), f.Type)
	assert.Equal(t, "proveedor", f.Search)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.True(t, f.ToDateOnly)
	assert.True(t, f.AmountMin.Equal(decimal.NewFromInt(10)))
	assert.Nil(t, f.AmountMax)
	assert.True(t, f.CreatedByMe)
	assert.Equal(t, "u-7", f.CurrentUser)
}

func TestParseFilter_RFC3339To(t *testing.T) {
	q := map[string]string{"to": "2026-03-02T15:04:05Z"}
	f, err := ParseFilter(func(k string) string { return q[k] }, "")

	require.NoError(t, err)
	assert.False(t, f.ToDateOnly)
	assert.Equal(t, 15, f.To.Hour())
}
