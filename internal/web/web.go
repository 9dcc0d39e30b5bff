package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"srules/internal/config"
	"srules/internal/ics"
	"srules/internal/interval"
	appLog "srules/internal/log"
	"srules/internal/model"
	"srules/internal/registry"
	"srules/internal/session"
)

// defaultWindow is the occurrences range used when the client gives no "to".
const defaultWindow = 7 * 24 * time.Hour

// Server provides the read-only HTTP query API over the registry.
type Server struct {
	cfg    *config.Config
	reg    *registry.Registry
	now    func() time.Time
	router chi.Router
}

type Option func(*Server)

// WithNow replaces the clock used when a query omits its time parameter.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		reg: reg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// an empty username or password disables auth
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="srules", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requestLogger logs one line per request through the application logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if s.cfg != nil && len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization"},
			MaxAge:         300,
		}))
	}
	if s.cfg != nil && s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/schedules", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleSchedule)
			r.Get("/contains", s.handleContains)
			r.Get("/next", s.handleNext)
			r.Get("/prev", s.handlePrev)
			r.Get("/occurrences", s.handleOccurrences)
			r.Get("/overlap", s.handleOverlap)
			r.Get("/calendar.ics", s.handleCalendar)
		})
	})
	s.router = r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	list := s.reg.List()
	out := make([]model.ScheduleSummary, 0, len(list))
	for _, sc := range list {
		out = append(out, sc.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sc.Summary())
}

type pointResponse struct {
	Schedule string        `json:"schedule"`
	At       time.Time     `json:"at"`
	Found    bool          `json:"found"`
	Period   *model.Period `json:"period,omitempty"`
}

type containsResponse struct {
	Schedule string        `json:"schedule"`
	At       time.Time     `json:"at"`
	Contains bool          `json:"contains"`
	Period   *model.Period `json:"period,omitempty"`
}

func (s *Server) handleContains(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	at, ok := s.timeParam(w, r, sc, "at", s.now())
	if !ok {
		return
	}
	resp := containsResponse{Schedule: sc.Name, At: at.In(sc.Location)}
	if iv, found := sc.Result.Find(interval.Instant(at)); found {
		p := model.NewPeriod(sc.Name, iv, sc.Location)
		resp.Contains, resp.Period = true, &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.handleStep(w, r, (*session.Calculated).Next)
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.handleStep(w, r, (*session.Calculated).Prev)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, step func(*session.Calculated, time.Time, bool) (interval.Interval, bool)) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	at, ok := s.timeParam(w, r, sc, "at", s.now())
	if !ok {
		return
	}
	inclusive, ok := boolParam(w, r, "inclusive", true)
	if !ok {
		return
	}
	resp := pointResponse{Schedule: sc.Name, At: at.In(sc.Location)}
	if iv, found := step(sc.Result, at, inclusive); found {
		p := model.NewPeriod(sc.Name, iv, sc.Location)
		resp.Found, resp.Period = true, &p
	}
	writeJSON(w, http.StatusOK, resp)
}

type rangeResponse struct {
	Schedule     string         `json:"schedule"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Periods      []model.Period `json:"periods"`
	TotalMinutes float64        `json:"total_minutes"`
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	from, to, ok := s.rangeParams(w, r, sc)
	if !ok {
		return
	}
	inclusive, ok := boolParam(w, r, "inclusive", true)
	if !ok {
		return
	}
	s.writeRange(w, sc, from, to, sc.Result.Between(from, to, inclusive))
}

// handleOverlap intersects the schedule with a point (?at=) or a range
// (?from=&to=).
func (s *Server) handleOverlap(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var operand any
	var from, to time.Time
	if r.URL.Query().Get("at") != "" {
		at, ok := s.timeParam(w, r, sc, "at", time.Time{})
		if !ok {
			return
		}
		operand, from, to = at, at, at
	} else {
		if from, to, ok = s.rangeParams(w, r, sc); !ok {
			return
		}
		iv, err := interval.New(from, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		operand = iv
	}

	got, err := session.Combine(session.OpIntersect, sc.Result, operand)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeRange(w, sc, from, to, got)
}

func (s *Server) writeRange(w http.ResponseWriter, sc registry.Schedule, from, to time.Time, got *session.Calculated) {
	writeJSON(w, http.StatusOK, rangeResponse{
		Schedule:     sc.Name,
		From:         from.In(sc.Location),
		To:           to.In(sc.Location),
		Periods:      model.Periods(sc.Name, got.Occurrences(), sc.Location),
		TotalMinutes: got.TotalDuration().Minutes(),
	})
}

// handleCalendar exports the schedule as iCalendar. Without from/to every
// occurrence is exported.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	result := sc.Result
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		from, to, ok := s.rangeParams(w, r, sc)
		if !ok {
			return
		}
		result = result.Between(from, to, true)
	}

	body := ics.Export(sc.Name, model.Periods(sc.Name, result.Occurrences(), sc.Location), s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+sc.Name+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (registry.Schedule, bool) {
	sc, err := s.reg.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return registry.Schedule{}, false
	}
	return sc, true
}

// timeParam reads a date or date-time query parameter in the schedule's
// timezone. A zero def makes the parameter required.
func (s *Server) timeParam(w http.ResponseWriter, r *http.Request, sc registry.Schedule, key string, def time.Time) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		if def.IsZero() {
			writeError(w, http.StatusBadRequest, "missing "+key)
			return time.Time{}, false
		}
		return def, true
	}
	t, _, err := config.ParseTime(v, sc.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, key+": "+err.Error())
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) rangeParams(w http.ResponseWriter, r *http.Request, sc registry.Schedule) (from, to time.Time, ok bool) {
	if from, ok = s.timeParam(w, r, sc, "from", s.now()); !ok {
		return
	}
	if to, ok = s.timeParam(w, r, sc, "to", from.Add(defaultWindow)); !ok {
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return from, to, false
	}
	return from, to, true
}

func boolParam(w http.ResponseWriter, r *http.Request, key string, def bool) (bool, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, key+": want true or false")
		return false, false
	}
	return b, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
