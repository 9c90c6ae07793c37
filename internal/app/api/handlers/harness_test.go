package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/api/middleware"
	"github.com/fatflowers/invoicing/internal/app/service/activity"
	"github.com/fatflowers/invoicing/internal/app/service/effects"
	"github.com/fatflowers/invoicing/internal/app/service/invoice"
	"github.com/fatflowers/invoicing/internal/app/service/ledger"
	"github.com/fatflowers/invoicing/internal/app/service/loginguard"
	"github.com/fatflowers/invoicing/internal/app/service/payment"
	"github.com/fatflowers/invoicing/internal/app/service/reconcile"
	"github.com/fatflowers/invoicing/internal/app/service/scheduler"
	"github.com/fatflowers/invoicing/internal/app/service/subscription"
	"github.com/fatflowers/invoicing/internal/app/service/tenant"
	"github.com/fatflowers/invoicing/internal/platform/db/dbtest"
	"github.com/fatflowers/invoicing/pkg/config"
	"github.com/fatflowers/invoicing/pkg/response"
)

const testAdminToken = "admin-secret"

type stubSubmitter struct {
	res reconcile.Result
	err error
	got []reconcile.RawEvent
}

func (s *stubSubmitter) Submit(_ context.Context, raw reconcile.RawEvent) (reconcile.Result, error) {
	s.got = append(s.got, raw)
	return s.res, s.err
}

type stubSweeper struct{ calls int }

func (s *stubSweeper) Sweep(context.Context, time.Time) (scheduler.Result, error) {
	s.calls++
	return scheduler.Result{Invoices: invoice.SweepResult{Scanned: 2, Moved: 1}}, nil
}

type api struct {
	router   *gin.Engine
	auth     *middleware.Auth
	notifier *effects.MemoryNotifier
	submit   *stubSubmitter
	sweeper  *stubSweeper
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret",
			AdminToken:    testAdminToken,
			MaxFailures:   3,
			FailureWindow: time.Minute,
		},
		Billing: config.BillingConfig{TrialDuration: 7 * 24 * time.Hour},
	}
	gdb := dbtest.New(t)
	n := &effects.MemoryNotifier{}
	store := ledger.NewStore(gdb, effects.NewSyncDispatcher(n, log), log)
	rec := activity.NewRecorder(gdb, log)
	subs := subscription.NewService(cfg, store, rec, log)
	invoices := invoice.NewService(store, rec, log)
	payments := payment.NewService(store, rec, payment.Refunders{}, log)
	tenants := tenant.NewService(store, rec, subs, log)
	auth := middleware.NewAuth(cfg, loginguard.NewGuard(cfg, loginguard.NewMemoryStore(), log), log)

	a := &api{router: gin.New(), auth: auth, notifier: n, submit: &stubSubmitter{}, sweeper: &stubSweeper{}}
	r := a.router
	r.Use(middleware.TraceMiddleware(), middleware.RequestLoggerMiddleware(log), middleware.AccessLogMiddleware())
	RegisterHealthRoutes(r, gdb)
	v1 := r.Group("/api/v1")
	RegisterTenantRoutes(v1, tenants, auth)
	RegisterPublicRoutes(v1.Group("/public"), invoices)
	RegisterWebhookRoutes(v1.Group("/webhooks"), a.submit, log)
	owned := v1.Group("")
	owned.Use(auth.RequireTenant())
	RegisterInvoiceRoutes(owned, invoices)
	RegisterSubscriptionRoutes(owned, subs)
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	RegisterAdminRoutes(admin, rec, payments, a.sweeper)
	return a
}

type reply struct {
	status int
	header http.Header
	body   response.APIResponse[json.RawMessage]
}

func (a *api) do(t *testing.T, method, path string, body any, headers map[string]string) reply {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := reply{status: w.Code, header: w.Header()}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out.body), w.Body.String())
	return out
}

func (r reply) decode(t *testing.T, v any) {
	t.Helper()
	require.Equal(t, response.APIResponseCodeOK, r.body.Code, string(r.body.Data))
	require.NoError(t, json.Unmarshal(r.body.Data, v))
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// signup creates a tenant and returns its bearer token.
func (a *api) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	var out SignupResponse
	a.do(t, http.MethodPost, "/api/v1/tenants", map[string]string{"email": email, "name": "Studio"}, nil).decode(t, &out)
	require.NotEmpty(t, out.Token)
	return out.Tenant.ID, out.Token
}
