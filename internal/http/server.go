package http

import (
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"sapo/internal/core"
	"sapo/internal/ledger"
	"sapo/internal/log"
	"sapo/internal/middleware/ratelimit"
	"sapo/internal/middleware/security"
	"sapo/internal/middleware/trace"
	appweb "sapo/web"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 1000
	maxSeriesMonths    = 60
	staticMaxAge       = 3600
)

// ServerConfig tunes the ledger API.
type ServerConfig struct {
	// BasePath is where the web shell is mounted. It starts and ends with '/'.
	BasePath string
	// TimeSeriesMonths is the default window of the monthly chart.
	TimeSeriesMonths int
	// Ready reports whether the backing store is reachable. Nil means always ready.
	Ready     func(ctx context.Context) error
	RateLimit ratelimit.Config
}

func DefaultServerConfig() ServerConfig {
	rl := ratelimit.DefaultConfig()
	rl.Methods = []string{http.MethodPost, http.MethodDelete}
	return ServerConfig{
		BasePath:         "/sapo-finanze/",
		TimeSeriesMonths: 6,
		RateLimit:        rl,
	}
}

// Server exposes a ledger over JSON and serves the web shell.
type Server struct {
	http.Server
	ledger   *ledger.Ledger
	logger   *log.Logger
	cfg      ServerConfig
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	// now may be replaced by tests.
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, l *ledger.Ledger, cfg ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.TimeSeriesMonths < 1 {
		cfg.TimeSeriesMonths = 6
	}

	s := &Server{
		ledger:   l,
		logger:   logger.WithComponent(log.ComponentHTTP),
		cfg:      cfg,
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		detector: security.NewDetector(),
		now:      time.Now,
	}
	s.tracer = trace.NewMiddleware(s.logger, s.detector.ExtractClientIP)

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r))
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").
			Header("Retry-After", "60").
			Write(w)
	})

	var h http.Handler = mux
	h = limit(h)
	h = headers.Middleware(h)
	h = log.ComponentMiddleware(log.ComponentHTTP)(h)
	h = s.tracer.Middleware(h)
	h = s.detector.Middleware(s.logger)(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/transactions", s.handleRecent)
	mux.HandleFunc("POST /api/transactions", s.handleCreateTransaction)
	mux.HandleFunc("POST /api/transactions/quick", s.handleQuickTransaction)
	mux.HandleFunc("GET /api/investments", s.handleInvestments)
	mux.HandleFunc("POST /api/investments", s.handleCreateInvestment)
	mux.HandleFunc("GET /api/goods", s.handleMaterialGoods)
	mux.HandleFunc("POST /api/goods", s.handleCreateMaterialGood)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDelete(ledger.Transactions))
	mux.HandleFunc("DELETE /api/investments/{id}", s.handleDelete(ledger.Investments))
	mux.HandleFunc("DELETE /api/goods/{id}", s.handleDelete(ledger.MaterialGoods))
	mux.HandleFunc("GET /api/charts/monthly", s.handleTimeSeries)
	mux.HandleFunc("GET /api/charts/categories", s.handleCategories)
	mux.HandleFunc("GET /api/months/{year}/{month}", s.handleMonth)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)

	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err.Error())
		return
	}
	base := s.cfg.BasePath
	static := http.StripPrefix(strings.TrimSuffix(base, "/"), http.FileServer(http.FS(sub)))
	mux.Handle("GET "+base, security.StaticAssetMiddleware(staticMaxAge)(static))
	if index, err := fs.ReadFile(sub, "index.html"); err == nil {
		// http.FileServer redirects .../index.html; the gateway precaches it by name.
		serveIndex := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			http.ServeContent(w, r, "index.html", time.Time{}, bytes.NewReader(index))
		}
		mux.HandleFunc("GET "+base+"{$}", serveIndex)
		mux.HandleFunc("GET "+base+"index.html", serveIndex)
	}
	if base != "/" {
		mux.Handle("GET /{$}", http.RedirectHandler(base, http.StatusFound))
	}
}

// Shutdown gracefully shuts down the server and the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
		s.logger.InfoContext(ctx, "HTTP server stopped",
			log.FieldOperation, log.OpShutdown,
			"requests", s.tracer.GetMetrics().TotalRequests,
			"rate_limit_hits", s.limiter.GetMetrics().TotalHits,
			"suspicious_requests", s.detector.GetMetrics().SuspiciousRequests)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Store not ready", log.FieldError, err.Error())
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// fail writes the response for err, logging anything that is not the
// caller's fault.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorResponse(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).LogError(r.Context(), "Ledger request failed", err, op, nil)
	}
	resp.Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.ledger.Dashboard(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(d).Write(w)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.Balance(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(map[string]core.Money{"balance": b}).Write(w)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Recent(r.Context(), parseLimit(r, "limit", defaultRecentLimit, maxRecentLimit))
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	NewJSONResponse().Body(txs).Write(w)
}

func (s *Server) handleInvestments(w http.ResponseWriter, r *http.Request) {
	invs, err := s.ledger.Investments(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if invs == nil {
		invs = []core.Investment{}
	}
	NewJSONResponse().Body(invs).Write(w)
}

func (s *Server) handleMaterialGoods(w http.ResponseWriter, r *http.Request) {
	goods, err := s.ledger.MaterialGoods(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if goods == nil {
		goods = []core.MaterialGood{}
	}
	NewJSONResponse().Body(goods).Write(w)
}

// parseBody reads and decodes the request body, writing the error response
// itself when that fails.
func (s *Server) parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, log.OpParse, err)
		return nil, false
	}
	return p, true
}

func created(w http.ResponseWriter, location string, v any) {
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", location).
		Body(v).
		Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	in, err := ParseTransactionInput(p)
	if err != nil {
		s.fail(w, r, log.OpValidate, err)
		return
	}
	tx, err := s.ledger.AppendTransaction(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	created(w, "/api/transactions/"+tx.ID, tx)
}

func (s *Server) handleQuickTransaction(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	kind, amount, desc, err := ParseQuickInput(p)
	if err != nil {
		s.fail(w, r, log.OpValidate, err)
		return
	}
	tx, err := s.ledger.AddQuickTransaction(r.Context(), kind, amount, desc)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	created(w, "/api/transactions/"+tx.ID, tx)
}

func (s *Server) handleCreateInvestment(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	in, err := ParseInvestmentInput(p)
	if err != nil {
		s.fail(w, r, log.OpValidate, err)
		return
	}
	inv, err := s.ledger.AppendInvestment(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	created(w, "/api/investments/"+inv.ID, inv)
}

func (s *Server) handleCreateMaterialGood(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r)
	if !ok {
		return
	}
	in, err := ParseMaterialGoodInput(p)
	if err != nil {
		s.fail(w, r, log.OpValidate, err)
		return
	}
	g, err := s.ledger.AppendMaterialGood(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	created(w, "/api/goods/"+g.ID, g)
}

func (s *Server) handleDelete(c ledger.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		removed, err := s.ledger.DeleteEntity(r.Context(), c, id)
		if err != nil {
			s.fail(w, r, log.OpDelete, err)
			return
		}
		if !removed {
			NotFoundError("no " + string(c) + " entry with id " + id).Write(w)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	months := parseLimit(r, "months", s.cfg.TimeSeriesMonths, maxSeriesMonths)
	series, err := s.ledger.TimeSeries(r.Context(), s.now(), months)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(series).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.ledger.CategoryBreakdown(r.Context())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	if cats == nil {
		cats = []core.CategoryAmount{}
	}
	NewJSONResponse().Body(cats).Write(w)
}

// monthBody is the JSON shape of one month's totals.
type monthBody struct {
	Year    int        `json:"year"`
	Month   int        `json:"month"`
	Income  core.Money `json:"income"`
	Expense core.Money `json:"expense"`
	Net     core.Money `json:"net"`
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	mp, err := ParseMonthParams(r)
	if err != nil {
		s.fail(w, r, log.OpValidate, err)
		return
	}
	totals, err := s.ledger.MonthlyTotals(r.Context(), mp.Month, mp.Year)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(monthBody{
		Year:    mp.Year,
		Month:   int(mp.Month),
		Income:  totals.Income,
		Expense: totals.Expense,
		Net:     totals.Net(),
	}).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.ledger.WriteSnapshot(r.Context(), &buf); err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ledger.BackupFilename(s.now())+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.ReadErr(); err != nil {
		s.fail(w, r, log.OpImport, &core.ParseError{Source: "snapshot upload", Err: err})
		return
	}
	replaced, err := s.ledger.ImportSnapshot(r.Context(), p.GetRaw())
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	names := make([]string, 0, len(replaced))
	for _, c := range replaced {
		names = append(names, string(c))
	}
	NewJSONResponse().Body(map[string][]string{"replaced": names}).Write(w)
}
