//go:build integration

package router_test

// End-to-end tests against real Postgres and Redis via testcontainers.
// Run with: go test -tags integration ./internal/router/... -v

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"cashdrawer/internal/config"
	"cashdrawer/internal/drawer"
	"cashdrawer/internal/dto"
	"cashdrawer/internal/events"
	"cashdrawer/internal/infra"
	"cashdrawer/internal/ledger"
	"cashdrawer/internal/middleware"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/router"
	"cashdrawer/internal/service"
	"cashdrawer/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"gorm.io/gorm"
)

const testSecret = "integration-secret"

type testEnv struct {
	server *httptest.Server
	cfg    *config.Config
	db     *gorm.DB
	rdb    *redis.Client
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcPostgres.WithDatabase("cash_test"),
		tcPostgres.WithUsername("cash"),
		tcPostgres.WithPassword("cash"),
		testcontainers.WithWaitStrategy(tcPostgres.BasicWaitStrategies()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })
	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })
	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                "test",
		JWTSecret:          testSecret,
		JWTExpirationHours: 1,
		DatabaseURL:        pgURL,
		RedisURL:           rdURL,
		WorkerPoolSize:     1,
		RateLimitPerMinute: 100000,
		PDFStoragePath:     t.TempDir(),
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(cfg.RedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	rctx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	r, err := router.New(rctx, cfg, db, rdb)
	require.NoError(t, err)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, cfg: cfg, db: db, rdb: rdb}
}

func (e *testEnv) token(t *testing.T, user, org, role string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, middleware.JWTClaims{UserID: user, Username: user, OrganizationID: org, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, header ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

type autoConfirm struct{}

func (autoConfirm) Confirm(context.Context, drawer.Prompt) (bool, error) { return true, nil }

type quietNotifier struct{}

func (quietNotifier) Notify(string, drawer.Severity) {}

func (e *testEnv) newDrawer(t *testing.T, user, org string) *drawer.Drawer {
	client := infra.NewCashAPIClient(e.server.URL, e.token(t, user, org, middleware.RoleCashier), nil)
	return drawer.New(client, autoConfirm{}, quietNotifier{}, drawer.Options{CurrentUser: user})
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestE2E_DrawerLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	d := env.newDrawer(t, "u-1", "org-1")
	require.NoError(t, d.Load(ctx))
	assert.Nil(t, d.State().Session)

	require.True(t, d.OpenSession(ctx, drawer.OpenInput{OpeningAmount: decimal.NewFromInt(1000)}).OK())
	require.True(t, d.RegisterMovement(ctx, drawer.MovementInput{Type: ledger.MovementSale, Amount: decimal.NewFromInt(700)}).OK())
	require.True(t, d.RegisterMovement(ctx, drawer.MovementInput{Type: ledger.MovementOut, Amount: decimal.NewFromInt(200)}).OK())
	require.True(t, d.RegisterMovement(ctx, drawer.MovementInput{
		Type: ledger.MovementAdjustment, Amount: decimal.NewFromInt(50), Direction: ledger.DirectionDecrease,
	}).OK())

	bal, ok := d.State().Balance()
	require.True(t, ok)
	assert.True(t, bal.Equal(decimal.NewFromInt(1450)), "balance %s", bal)

	// Overdraw is rejected before reaching the server.
	out := d.RegisterMovement(ctx, drawer.MovementInput{Type: ledger.MovementOut, Amount: decimal.NewFromInt(5000)})
	assert.ErrorIs(t, out.Err, ledger.ErrInsufficientBalance)

	id := d.State().Session.ID
	closed := d.CloseSession(ctx, drawer.CloseInput{ClosingAmount: decimal.NewFromInt(1440)})
	require.True(t, closed.OK())
	require.NotNil(t, closed.Assessment)
	assert.True(t, closed.Assessment.Discrepancy.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, ledger.DiscrepancyWarning, closed.Assessment.Level)
	assert.Nil(t, d.State().Session)

	// The close enqueued a report job.
	n, err := env.rdb.LLen(ctx, worker.QueueReports).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	resp := env.do(t, http.MethodGet, "/v1/cash/sessions/"+id.String()+"/export", env.token(t, "u-1", "org-1", middleware.RoleCashier), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_OneOpenSessionPerOrganization(t *testing.T) {
	env := setupTestEnv(t)
	tok := env.token(t, "u-1", "org-1", middleware.RoleCashier)

	var wg sync.WaitGroup
	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, "/v1/cash/sessions", tok, map[string]any{"opening_amount": "100"})
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)

	// Another organization is independent.
	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", env.token(t, "u-9", "org-2", middleware.RoleCashier), map[string]any{"opening_amount": "0"})
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestE2E_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	env := setupTestEnv(t)
	tok := env.token(t, "u-1", "org-1", middleware.RoleCashier)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", tok, map[string]any{"opening_amount": "1000"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s ledger.Session
	decodeJSON(t, resp, &s)
	path := "/v1/cash/sessions/" + s.ID.String() + "/movements"

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := env.do(t, http.MethodPost, path, tok, map[string]any{"type": "OUT", "amount": "150"})
			resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 6, ok)

	resp = env.do(t, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/summary", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum dto.SummaryResponse
	decodeJSON(t, resp, &sum)
	assert.True(t, sum.Balance.Equal(decimal.NewFromInt(100)), "balance %s", sum.Balance)
}

func TestE2E_IdempotentMovement(t *testing.T) {
	env := setupTestEnv(t)
	tok := env.token(t, "u-1", "org-1", middleware.RoleCashier)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", tok, map[string]any{"opening_amount": "0"})
	var s ledger.Session
	decodeJSON(t, resp, &s)
	path := "/v1/cash/sessions/" + s.ID.String() + "/movements"
	body := map[string]any{"type": "IN", "amount": "40"}

	resp = env.do(t, http.MethodPost, path, tok, body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var first dto.MovementResponse
	decodeJSON(t, resp, &first)

	resp = env.do(t, http.MethodPost, path, tok, body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var second dto.MovementResponse
	decodeJSON(t, resp, &second)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Movement.ID, second.Movement.ID)

	// The key belongs to this session; reusing it on another one is a conflict.
	other := env.token(t, "u-2", "org-2", middleware.RoleCashier)
	resp = env.do(t, http.MethodPost, "/v1/cash/sessions", other, map[string]any{"opening_amount": "0"})
	var s2 ledger.Session
	decodeJSON(t, resp, &s2)
	resp = env.do(t, http.MethodPost, "/v1/cash/sessions/"+s2.ID.String()+"/movements", other, body, "Idempotency-Key", "k-1")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, tok, nil)
	var page dto.MovementListResponse
	decodeJSON(t, resp, &page)
	assert.Equal(t, 1, page.Total)
}

func TestE2E_ReconcilerPicksUpOtherTerminal(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := env.newDrawer(t, "u-1", "org-1")
	b := env.newDrawer(t, "u-2", "org-1")

	rec := drawer.NewReconciler(events.NewRedisFeed(env.rdb), a, 50*time.Millisecond)
	defer rec.Stop()
	a.OnChange(func(s drawer.State) { _ = rec.Track(ctx, s.Session) })

	require.True(t, a.OpenSession(ctx, drawer.OpenInput{OpeningAmount: decimal.NewFromInt(100)}).OK())
	require.Eventually(t, func() bool { return rec.Watching() == a.State().Session.ID }, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, b.Load(ctx))
	require.True(t, b.RegisterMovement(ctx, drawer.MovementInput{Type: ledger.MovementIn, Amount: decimal.NewFromInt(25)}).OK())

	require.Eventually(t, func() bool {
		bal, ok := a.State().Balance()
		return ok && bal.Equal(decimal.NewFromInt(125))
	}, 5*time.Second, 50*time.Millisecond)
}

func TestE2E_ReportWorkerRendersPDF(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tok := env.token(t, "u-1", "org-1", middleware.RoleCashier)

	repo := repository.NewCashRepository(env.db)
	pool := worker.NewPool(env.rdb, 1)
	pool.Register(worker.JobSessionReport, worker.NewReportWorker(repo, env.cfg.PDFStoragePath, time.UTC))
	pool.Start(ctx)

	resp := env.do(t, http.MethodPost, "/v1/cash/sessions", tok, map[string]any{"opening_amount": "100"})
	var s ledger.Session
	decodeJSON(t, resp, &s)
	resp = env.do(t, http.MethodPost, "/v1/cash/sessions/"+s.ID.String()+"/close", tok, map[string]any{"closing_amount": "100"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	path := env.cfg.PDFStoragePath + "/" + service.ReportFileName(s.ID)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 15*time.Second, 100*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/v1/cash/sessions/"+s.ID.String()+"/report", tok, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	cancel()
	pool.Wait()
}

func TestE2E_DeadLetteredJobsVisibleToAdmin(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	worker.SendToDLQ(ctx, env.rdb, worker.QueueReports, worker.JobSessionReport, json.RawMessage(`{"session_id":"x"}`), "bad payload", 1)

	resp := env.do(t, http.MethodGet, "/v1/admin/report-dlq", env.token(t, "u-1", "org-1", middleware.RoleCashier), nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/admin/report-dlq", env.token(t, "admin", "org-1", middleware.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Items []worker.DLQEntry `json:"items"`
		Total int64             `json:"total"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, int64(1), body.Total)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "bad payload", body.Items[0].Reason)
}

func TestE2E_SwaggerUIOutsideProduction(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.server.URL + "/swagger/index.html")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
