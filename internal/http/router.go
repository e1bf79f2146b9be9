package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/go-github/v61/github"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/splax/actioncounter/internal/dashboard"
	"github.com/splax/actioncounter/internal/domain"
	"github.com/splax/actioncounter/internal/service/counter"
	"github.com/splax/actioncounter/internal/service/reload"
	"github.com/splax/actioncounter/internal/service/report"
	"github.com/splax/actioncounter/internal/service/webhook"
	"github.com/splax/actioncounter/internal/timebucket"
	"github.com/splax/actioncounter/internal/ws"
	"github.com/splax/actioncounter/pkg/crypto"
)

// Ingestor handles webhook deliveries.
type Ingestor interface {
	Handle(ctx context.Context, d webhook.Delivery) (string, error)
}

// Reporter builds counter reports.
type Reporter interface {
	Build(now time.Time, mode timebucket.Mode) report.Report
	BuildSource(name string, now time.Time, mode timebucket.Mode) (report.SourceReport, error)
}

// Reloader performs on-demand reloads.
type Reloader interface {
	Trigger(ctx context.Context) (reload.Result, error)
	Status() reload.Status
}

// DeliveryLister reads the persisted delivery log.
type DeliveryLister interface {
	List(ctx context.Context, source string, limit int) ([]domain.Delivery, error)
}

// Options carries the router dependencies. Reloader, Deliveries, Hub and
// Dashboard are optional; their routes answer 503 when unset.
type Options struct {
	Ingestor         Ingestor
	Reporter         Reporter
	Reloader         Reloader
	Deliveries       DeliveryLister
	Hub              *ws.Hub
	Dashboard        *dashboard.Renderer
	Limiter          RateLimiter
	Sources          []string
	AdminToken       string
	AdminTokenHash   string
	WebhookRateLimit int
	DBHealth         func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux              *http.ServeMux
	logger           *slog.Logger
	ingestor         Ingestor
	reporter         Reporter
	reloader         Reloader
	deliveries       DeliveryLister
	hub              *ws.Hub
	dashboard        *dashboard.Renderer
	upgrader         websocket.Upgrader
	limiter          RateLimiter
	sources          map[string]struct{}
	adminToken       string
	adminTokenHash   string
	webhookRateLimit int
	dbHealth         func(context.Context) error
	heartbeat        time.Duration
	now              func() time.Time

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	webhookOutcomes    *prometheus.CounterVec
	adminReloads       *prometheus.CounterVec
}

const (
	rateWindowDefault     = time.Minute
	rateLimitAdmin        = 10
	rateLimitStream       = 30
	defaultWebhookLimit   = 600
	maxPayloadBytes       = 25 << 20
	healthCheckTimeout    = 2 * time.Second
	streamHeartbeat       = 15 * time.Second
	defaultDeliveryLimit  = 100
	unrecognizedEventCode = http.StatusNotFound
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, opts Options) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		ingestor:   opts.Ingestor,
		reporter:   opts.Reporter,
		reloader:   opts.Reloader,
		deliveries: opts.Deliveries,
		hub:        opts.Hub,
		dashboard:  opts.Dashboard,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:          opts.Limiter,
		sources:          make(map[string]struct{}, len(opts.Sources)),
		adminToken:       strings.TrimSpace(opts.AdminToken),
		adminTokenHash:   strings.TrimSpace(opts.AdminTokenHash),
		webhookRateLimit: opts.WebhookRateLimit,
		dbHealth:         opts.DBHealth,
		heartbeat:        streamHeartbeat,
		now:              time.Now,
	}
	for _, name := range opts.Sources {
		r.sources[name] = struct{}{}
	}
	if r.webhookRateLimit == 0 {
		r.webhookRateLimit = defaultWebhookLimit
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	reportCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	r.mux.HandleFunc("/", r.audit("/", r.handleDashboard))
	r.mux.Handle("/report", reportCORS.Handler(r.audit("/report", r.handleReport)))
	r.mux.Handle("/report/", reportCORS.Handler(r.audit("/report/{source}", r.handleSourceReport)))
	r.mux.HandleFunc("/payload", r.audit("/payload", r.withRateLimit("/payload", r.webhookRateLimit, rateWindowDefault, rateLimitKeyHook, r.handlePayload)))
	r.mux.HandleFunc("/events", r.audit("/events", r.withRateLimit("/events", rateLimitStream, rateWindowDefault, rateLimitKeyIP, r.handleEvents)))
	r.mux.HandleFunc("/ws/updates", r.audit("/ws/updates", r.withRateLimit("/ws/updates", rateLimitStream, rateWindowDefault, rateLimitKeyIP, r.handleUpdatesWS)))
	r.mux.HandleFunc("/deliveries", r.audit("/deliveries", r.handleDeliveries))
	r.mux.HandleFunc("/admin/reload", r.audit("/admin/reload", r.withRateLimit("/admin/reload", rateLimitAdmin, rateWindowDefault, rateLimitKeyIP, r.handleAdminReload)))
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleDashboard(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	if r.dashboard == nil {
		writeError(w, http.StatusServiceUnavailable, "dashboard disabled")
		return
	}
	now := r.now()
	rep := r.reporter.Build(now, timebucket.Compact)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := r.dashboard.Render(w, rep, now); err != nil {
		r.logger.Error("dashboard render failed", "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.reporter.Build(r.now(), timebucket.ISO))
}

func (r *Router) handleSourceReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	name := strings.Trim(strings.TrimPrefix(req.URL.Path, "/report/"), "/")
	if name == "" {
		r.handleReport(w, req)
		return
	}
	rep, err := r.reporter.BuildSource(name, r.now(), timebucket.ISO)
	if err != nil {
		if errors.Is(err, counter.ErrUnknownSource) {
			writeError(w, http.StatusNotFound, "unknown source: "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (r *Router) handlePayload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	kind := github.WebHookType(req)
	outcome, err := r.ingestor.Handle(req.Context(), webhook.Delivery{
		Kind:    kind,
		ID:      github.DeliveryID(req),
		Payload: body,
	})
	r.recordWebhookOutcome(kind, outcome)
	if err != nil {
		var unrecognized *webhook.UnrecognizedEventError
		switch {
		case errors.As(err, &unrecognized):
			writeText(w, unrecognizedEventCode, unrecognized.Error())
		case errors.Is(err, webhook.ErrMalformedPayload):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			r.logger.Error("webhook handling failed", "event", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "webhook handling failed")
		}
		return
	}
	if outcome == domain.OutcomePong {
		writeText(w, http.StatusOK, "pong")
		return
	}
	writeText(w, http.StatusOK, kind)
}

func (r *Router) handleDeliveries(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.deliveries == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery log disabled")
		return
	}
	query := req.URL.Query()
	source := strings.TrimSpace(query.Get("source"))
	if source != "" && !r.knownSource(source) {
		writeError(w, http.StatusNotFound, "unknown source: "+source)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	entries, err := r.deliveries.List(req.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marshalDeliveries(entries))
}

func marshalDeliveries(entries []domain.Delivery) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, d := range entries {
		item := map[string]any{
			"id":          d.ID,
			"event":       d.Kind,
			"source":      d.Source,
			"repo":        d.Repo,
			"action":      d.Action,
			"status":      d.Status,
			"outcome":     d.Outcome,
			"received_at": d.ReceivedAt.UTC().Format(time.RFC3339Nano),
		}
		if d.OccurredAt != nil {
			item["occurred_at"] = d.OccurredAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, item)
	}
	return out
}

func (r *Router) handleAdminReload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyAdminToken(w, req) {
		return
	}
	if r.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "reload disabled")
		return
	}
	res, err := r.reloader.Trigger(req.Context())
	if err != nil {
		r.recordAdminReload("error")
		r.logger.Warn("admin reload failed", "error", err)
		writeError(w, http.StatusBadGateway, "reload failed: "+err.Error())
		return
	}
	r.recordAdminReload("ok")
	writeJSON(w, http.StatusOK, map[string]any{
		"shape":       res.Shape,
		"sources":     res.Sources,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.reloader != nil {
		st := r.reloader.Status()
		reloadState := map[string]any{"attempts": st.Attempts}
		if !st.LastSuccess.IsZero() {
			reloadState["last_success"] = st.LastSuccess.UTC().Format(time.RFC3339Nano)
		}
		if st.LastError != "" {
			reloadState["last_error"] = st.LastError
		}
		components["reload"] = reloadState
	}
	if r.hub != nil {
		components["stream"] = map[string]any{"dropped": r.hub.Dropped()}
	}
	if tracker, ok := r.limiter.(keyTracker); ok {
		components["rate_limit"] = map[string]any{"tracked_keys": tracker.Tracked()}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  r.now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if event := req.Header.Get("X-GitHub-Event"); event != "" {
			fields = append(fields, "github_event", event)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// verifyAdminToken ensures admin calls include the configured secret, given
// either in plain text or as a bcrypt hash.
func (r *Router) verifyAdminToken(w http.ResponseWriter, req *http.Request) bool {
	if r.adminToken == "" && r.adminTokenHash == "" {
		writeError(w, http.StatusForbidden, "admin endpoints disabled")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Admin-Token"))
	var ok bool
	if expected := r.adminToken; expected != "" {
		ok = len(token) == len(expected) && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
	} else {
		ok = crypto.TokenMatches(r.adminTokenHash, token)
	}
	if !ok {
		r.logger.Warn("admin token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return false
	}
	return true
}

func (r *Router) knownSource(name string) bool {
	_, ok := r.sources[name]
	return ok
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
