package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"sapo/internal/core"
	"sapo/internal/kv/memory"
	"sapo/internal/ledger"
	"sapo/internal/log"
)

func discardLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(memory.New(), discardLogger())
	seq := 0
	l.NewID = func() string {
		seq++
		return fmt.Sprintf("%s%d", ledger.IDPrefix, seq)
	}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	clock := now
	l.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	s := NewServer(":0", l, cfg, discardLogger())
	s.now = func() time.Time { return now }
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, l
}

func do(t *testing.T, s *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestServer_CreateAndDashboard(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())

	w := do(t, s, http.MethodPost, "/api/transactions", "application/json",
		`{"type":"income","amount":"2000","description":"Stipendio","category":"Lavoro"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create income: status %d body %s", w.Code, w.Body.String())
	}
	tx := decode[core.Transaction](t, w)
	if tx.ID != "sapo_1" || tx.Date.String() != "2024-03-15" {
		t.Errorf("created = %+v", tx)
	}
	if loc := w.Header().Get("Location"); loc != "/api/transactions/sapo_1" {
		t.Errorf("Location = %q", loc)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	w = do(t, s, http.MethodPost, "/api/transactions/quick", "application/x-www-form-urlencoded",
		"type=expense&amount=3.50&description=Caff%C3%A8")
	if w.Code != http.StatusCreated {
		t.Fatalf("quick expense: status %d body %s", w.Code, w.Body.String())
	}
	if quick := decode[core.Transaction](t, w); !quick.IsQuick || quick.Category != ledger.CategoryQuick {
		t.Errorf("quick = %+v", quick)
	}

	w = do(t, s, http.MethodGet, "/api/dashboard", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: status %d", w.Code)
	}
	d := decode[core.Dashboard](t, w)
	if !d.Balance.Equal(core.MustMoney("1996.50")) {
		t.Errorf("Balance = %s, want 1996.50", d.Balance)
	}
	if !d.MonthlyExpense.Equal(core.MustMoney("3.50")) {
		t.Errorf("MonthlyExpense = %s, want 3.50", d.MonthlyExpense)
	}

	w = do(t, s, http.MethodGet, "/api/transactions?limit=1", "", "")
	recent := decode[[]core.Transaction](t, w)
	if len(recent) != 1 || recent[0].ID != "sapo_2" {
		t.Errorf("recent = %+v, want newest only", recent)
	}
}

func TestServer_ValidationErrors(t *testing.T) {
	s, l := newTestServer(t, DefaultServerConfig())

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantField  string
	}{
		{"bad amount", "/api/transactions", `{"type":"income","amount":"abc","description":"x"}`, http.StatusUnprocessableEntity, "amount"},
		{"bad kind", "/api/transactions", `{"type":"gift","amount":"1","description":"x"}`, http.StatusUnprocessableEntity, "type"},
		{"empty description", "/api/transactions", `{"type":"income","amount":"1","description":"  "}`, http.StatusUnprocessableEntity, "description"},
		{"malformed json", "/api/transactions", `{"type":`, http.StatusBadRequest, ""},
		{"investment without name", "/api/investments", `{"amount":"10"}`, http.StatusUnprocessableEntity, "name"},
		{"good without value", "/api/goods", `{"name":"Bici"}`, http.StatusUnprocessableEntity, "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.target, "application/json", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if body := decode[ErrorBody](t, w); body.Field != tt.wantField {
				t.Errorf("field = %q, want %q", body.Field, tt.wantField)
			}
		})
	}

	txs, err := l.Transactions(context.Background())
	if err != nil || len(txs) != 0 {
		t.Errorf("transactions after rejected writes = %v, %v", txs, err)
	}
}

func TestServer_InvestmentsAndGoods(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())

	if w := do(t, s, http.MethodPost, "/api/investments", "application/json",
		`{"name":"ETF World","type":"etf","amount":"1000","currentValue":"1200"}`); w.Code != http.StatusCreated {
		t.Fatalf("create investment: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodPost, "/api/goods", "application/x-www-form-urlencoded",
		"name=Bici&value=300"); w.Code != http.StatusCreated {
		t.Fatalf("create good: %d %s", w.Code, w.Body.String())
	}

	if w := do(t, s, http.MethodPost, "/api/investments", "application/json",
		`{"name":"Startup","amount":100,"currentValue":0}`); w.Code != http.StatusCreated {
		t.Fatalf("create written-off investment: %d %s", w.Code, w.Body.String())
	}

	invs := decode[[]core.Investment](t, do(t, s, http.MethodGet, "/api/investments", "", ""))
	if len(invs) != 2 || !invs[0].CurrentValue.Equal(core.MustMoney("1200")) || !invs[1].CurrentValue.IsZero() {
		t.Errorf("investments = %+v", invs)
	}
	goods := decode[[]core.MaterialGood](t, do(t, s, http.MethodGet, "/api/goods", "", ""))
	if len(goods) != 1 || goods[0].Name != "Bici" {
		t.Errorf("goods = %+v", goods)
	}

	balance := decode[map[string]core.Money](t, do(t, s, http.MethodGet, "/api/balance", "", ""))
	if !balance["balance"].Equal(core.MustMoney("1500")) {
		t.Errorf("balance = %s, want 1500", balance["balance"])
	}
}

func TestServer_Delete(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())
	do(t, s, http.MethodPost, "/api/transactions", "application/json",
		`{"type":"expense","amount":"10","description":"Pranzo"}`)

	if w := do(t, s, http.MethodDelete, "/api/transactions/sapo_1", "", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	if w := do(t, s, http.MethodDelete, "/api/transactions/sapo_1", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d, want 404", w.Code)
	}
	if w := do(t, s, http.MethodDelete, "/api/goods/unknown", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("delete unknown good: status %d, want 404", w.Code)
	}
}

func TestServer_MonthAndCharts(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())
	for _, body := range []string{
		`{"type":"income","amount":"100","description":"a","category":"Lavoro","date":"2024-02-10"}`,
		`{"type":"expense","amount":"40","description":"b","category":"Cibo","date":"2024-02-11"}`,
		`{"type":"expense","amount":"5","description":"c","category":"Cibo","date":"2024-03-01"}`,
	} {
		if w := do(t, s, http.MethodPost, "/api/transactions", "application/json", body); w.Code != http.StatusCreated {
			t.Fatalf("seed: %d %s", w.Code, w.Body.String())
		}
	}

	w := do(t, s, http.MethodGet, "/api/months/2024/2", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("month: status %d", w.Code)
	}
	m := decode[monthBody](t, w)
	if !m.Income.Equal(core.MustMoney("100")) || !m.Expense.Equal(core.MustMoney("40")) || !m.Net.Equal(core.MustMoney("60")) {
		t.Errorf("month = %+v", m)
	}

	if w := do(t, s, http.MethodGet, "/api/months/2024/13", "", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("month 13: status %d, want 422", w.Code)
	}

	series := decode[[]core.MonthBucket](t, do(t, s, http.MethodGet, "/api/charts/monthly?months=3", "", ""))
	if len(series) != 3 || series[2].Key != "2024-03" {
		t.Errorf("series = %+v", series)
	}
	if def := decode[[]core.MonthBucket](t, do(t, s, http.MethodGet, "/api/charts/monthly", "", "")); len(def) != 6 {
		t.Errorf("default series length = %d, want 6", len(def))
	}

	cats := decode[[]core.CategoryAmount](t, do(t, s, http.MethodGet, "/api/charts/categories", "", ""))
	if len(cats) != 1 || cats[0].Name != "Cibo" || !cats[0].Amount.Equal(core.MustMoney("45")) {
		t.Errorf("categories = %+v", cats)
	}
}

func TestServer_ExportImport(t *testing.T) {
	s, l := newTestServer(t, DefaultServerConfig())
	do(t, s, http.MethodPost, "/api/transactions", "application/json",
		`{"type":"income","amount":"50","description":"Regalo"}`)

	w := do(t, s, http.MethodGet, "/api/export", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export: status %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "sapo-tracker-backup-2024-03-15.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	snapshot := w.Body.String()

	if w := do(t, s, http.MethodDelete, "/api/transactions/sapo_1", "", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/api/import", "application/json", snapshot)
	if w.Code != http.StatusOK {
		t.Fatalf("import: status %d body %s", w.Code, w.Body.String())
	}
	replaced := decode[map[string][]string](t, w)["replaced"]
	if len(replaced) != 3 {
		t.Errorf("replaced = %v, want all three collections", replaced)
	}
	txs, _ := l.Transactions(context.Background())
	if len(txs) != 1 || txs[0].Description != "Regalo" {
		t.Errorf("transactions after import = %+v", txs)
	}

	if w := do(t, s, http.MethodPost, "/api/import", "application/json", "not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad import: status %d, want 400", w.Code)
	}
}

func TestServer_ImportRejectsUnreadableBodies(t *testing.T) {
	s, l := newTestServer(t, DefaultServerConfig())
	do(t, s, http.MethodPost, "/api/transactions", "application/json",
		`{"type":"income","amount":"50","description":"Regalo"}`)

	// A valid snapshot prefix padded past the limit must not be half-imported.
	oversized := `{"transactions":[],"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := do(t, s, http.MethodPost, "/api/import", "application/json", oversized)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized import: status %d, want 413", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/import", iotest.ErrReader(errors.New("connection reset")))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	s.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unreadable import: status %d, want 400", w.Code)
	}

	txs, _ := l.Transactions(context.Background())
	if len(txs) != 1 {
		t.Errorf("transactions after rejected imports = %+v", txs)
	}
}

func TestServer_HealthAndReady(t *testing.T) {
	cfg := DefaultServerConfig()
	down := errors.New("redis unreachable")
	var ready error
	cfg.Ready = func(context.Context) error { return ready }
	s, _ := newTestServer(t, cfg)

	if w := do(t, s, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, s, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", w.Code)
	}
	ready = down
	if w := do(t, s, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with store down = %d, want 503", w.Code)
	}
}

func TestServer_StaticShell(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())

	w := do(t, s, http.MethodGet, "/", "", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/sapo-finanze/" {
		t.Errorf("root: %d -> %q", w.Code, w.Header().Get("Location"))
	}

	for _, path := range []string{"/sapo-finanze/", "/sapo-finanze/index.html"} {
		w := do(t, s, http.MethodGet, path, "", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<html") {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}

	w = do(t, s, http.MethodGet, "/sapo-finanze/js/app.js", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("app.js: status %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=3600") {
		t.Errorf("app.js Cache-Control = %q", cc)
	}
	if csp := w.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("security headers missing")
	}
}

func TestServer_RateLimitsWrites(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit.RequestsPerMinute = 2
	s, _ := newTestServer(t, cfg)

	body := `{"type":"expense","amount":"1","description":"x"}`
	for i := 0; i < 2; i++ {
		if w := do(t, s, http.MethodPost, "/api/transactions", "application/json", body); w.Code != http.StatusCreated {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	w := do(t, s, http.MethodPost, "/api/transactions", "application/json", body)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "60" {
		t.Errorf("third write: status %d Retry-After %q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := do(t, s, http.MethodGet, "/api/dashboard", "", ""); w.Code != http.StatusOK {
		t.Errorf("reads must not be limited: status %d", w.Code)
	}
}

func TestServer_RejectsTrace(t *testing.T) {
	s, _ := newTestServer(t, DefaultServerConfig())
	if w := do(t, s, http.MethodTrace, "/api/dashboard", "", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("TRACE: status %d, want 405", w.Code)
	}
}
