// Package httpapi serves the dashboard over HTTP: server-backed queries, the
// shared dashboard state and its event stream, XLSX export, fetch history,
// health and Prometheus metrics.
package httpapi

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"vadash/internal/dashboard"
	"vadash/internal/export"
	"vadash/internal/metrics"
	"vadash/internal/storage/sqlite"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler wires dashboard endpoints to a controller.
type Handler struct {
	controller *dashboard.Controller
	db         *sql.DB
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New constructs a handler. db, logger and m may be nil; without db the
// fetch history is not served.
func New(c *dashboard.Controller, db *sql.DB, logger *zap.SugaredLogger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{controller: c, db: db, logger: logger, metrics: m, now: time.Now}
}

// Register mounts the dashboard endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestID, echoRequestID)
		r.Get("/dashboard", h.handleDashboard)
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/options", h.handleOptions)
		r.Get("/export.xlsx", h.handleExport)
		r.Get("/stream", h.handleStream)
		r.Get("/runs", h.handleRuns)

		r.Put("/criteria", h.handleSetCriteria)
		r.Delete("/criteria", h.handleReset)
		r.Put("/level", h.handleSetLevel)
		r.Put("/view", h.handleSetView)
	})
}

// NewRouter builds the full server router. gatherer may be nil to leave
// /metrics unmounted.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.Register(r)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.controller.Snapshot()
	body := map[string]any{
		"status":        "ok",
		"seq":           snap.Seq,
		"total_vas":     snap.TotalVAs,
		"stale_fetches": h.controller.StaleFetches(),
	}
	if h.db != nil {
		run, err := sqlite.LastFetchRun(h.db)
		switch {
		case err == nil:
			body["last_fetch"] = newRunView(run)
		case !errors.Is(err, sql.ErrNoRows):
			h.logger.Warnf("api health last fetch unavailable err=%v", err)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDashboard evaluates the query parameters against the loaded dataset
// without changing the shared dashboard state.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := otel.Tracer("vadash/httpapi").Start(r.Context(), "httpapi.dashboard")
	defer span.End()
	requestID := GetRequestID(ctx)
	defer h.observe("dashboard", start)

	q, err := h.parseQuery(r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad query")
		h.logger.Infof("api dashboard rejected request_id=%s err=%v", requestID, err)
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	snap := h.controller.Query(q.Criteria, q.Level, q.View)
	span.SetAttributes(
		attribute.Int("active_vas", snap.ActiveVAs),
		attribute.String("level", string(snap.Level)),
	)
	h.logger.Debugf("api dashboard request_id=%s active=%d seq=%d duration=%s",
		requestID, snap.ActiveVAs, snap.Seq, time.Since(start).Round(time.Microsecond))
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	defer h.observe("snapshot", time.Now())
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// handleOptions returns the dropdown lists for the filter panel.
func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	defer h.observe("options", time.Now())
	snap := h.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"all_causes_list": snap.AllCauses,
		"regions":         snap.Regions,
		"date_presets":    datePresets,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := otel.Tracer("vadash/httpapi").Start(r.Context(), "httpapi.export")
	defer span.End()
	requestID := GetRequestID(ctx)
	defer h.observe("export", start)

	q, err := h.parseQuery(r)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	snap := h.controller.Query(q.Criteria, q.Level, q.View)

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		h.logger.Errorf("api export failed request_id=%s err=%v", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	name := fmt.Sprintf("va-dashboard-%s.xlsx", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
	h.logger.Infof("api export request_id=%s active=%d bytes=%d", requestID, snap.ActiveVAs, buf.Len())
}

func (h *Handler) parseQuery(r *http.Request) (Query, error) {
	q, err := ParseQuery(r.URL.Query(), h.now())
	if err != nil {
		return Query{}, err
	}
	return q.Resolve(h.controller)
}

func (h *Handler) observe(endpoint string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveQuery(endpoint, start)
	}
}
