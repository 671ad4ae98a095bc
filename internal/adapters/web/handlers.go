package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flowdistributor/internal/app"
	"flowdistributor/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options configures the HTTP adapter.
type Options struct {
	AllowedOrigins string
	MaxBodyBytes   int64
	Logger         *zap.Logger
	Observer       HTTPObserver // may be nil
	Metrics        http.Handler // served at /metrics when non-nil
}

// Handler holds the ApplicationService and the pending intent store.
type Handler struct {
	svc     app.ApplicationService
	pending *pendingStore
}

// NewHandler creates and wires the chi router with all routes. The pending intent
// store is purged until ctx is cancelled.
func NewHandler(ctx context.Context, svc app.ApplicationService, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	h := &Handler{
		svc:     svc,
		pending: newPendingStore(),
	}
	h.pending.startPurge(ctx)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(opts.Logger, opts.Observer))
	r.Use(Recoverer)
	r.Use(CORS(opts.AllowedOrigins))

	r.Get("/api/health", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(opts.MaxBodyBytes))

		// ── Buckets & reports ─────────────────────────────────────────────────
		r.Get("/api/buckets", h.apiListBuckets)
		r.Get("/api/buckets/{id}/statement", h.apiBucketStatement)
		r.Get("/api/dashboard", h.apiDashboard)
		r.Get("/api/reconcile", h.apiReconcile)

		// ── Records ───────────────────────────────────────────────────────────
		r.Get("/api/records", h.apiListRecords)
		r.Get("/api/records/{id}", h.apiGetRecord)
		r.Post("/api/sales", h.apiCreateSale)
		r.Post("/api/sales/{id}/payments", h.apiPaySale)
		r.Post("/api/purchase-orders", h.apiCreatePurchaseOrder)

		// ── Parties ───────────────────────────────────────────────────────────
		r.Get("/api/parties", h.apiListParties)
		r.Post("/api/clients/{id}/payments", h.apiPayClient)
		r.Post("/api/distributors/{id}/payments", h.apiPayDistributor)

		// ── Movements ─────────────────────────────────────────────────────────
		r.Post("/api/expenses", h.apiExpense)
		r.Post("/api/incomes", h.apiIncome)
		r.Post("/api/transfers", h.apiTransfer)

		// ── Ledger ────────────────────────────────────────────────────────────
		r.Get("/api/entries", h.apiListEntries)
		r.Get("/api/entries.csv", h.apiExportEntries)

		// ── AI ────────────────────────────────────────────────────────────────
		r.Post("/api/ai/interpret", h.apiInterpret)
		r.Post("/api/ai/confirm", h.apiConfirm)
	})

	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) apiListBuckets(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListBuckets(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiBucketStatement handles GET /api/buckets/{id}/statement?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (h *Handler) apiBucketStatement(w http.ResponseWriter, r *http.Request) {
	from, err := parseDate(r.URL.Query().Get("from"), false)
	if err != nil {
		writeError(w, r, "from: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"), true)
	if err != nil {
		writeError(w, r, "to: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	result, err := h.svc.GetBucketStatement(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetDashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	type response struct {
		OK bool `json:"ok"`
		*core.ReconcileReport
	}
	writeJSON(w, response{OK: report.OK(), ReconcileReport: report})
}

// apiListRecords handles GET /api/records?kind=&status=&party=.
func (h *Handler) apiListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.svc.ListRecords(r.Context(), core.RecordFilter{
		Kind:    core.RecordKind(q.Get("kind")),
		Status:  core.RecordStatus(q.Get("status")),
		PartyID: q.Get("party"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) apiGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// apiListParties handles GET /api/parties?kind=client|distributor.
func (h *Handler) apiListParties(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListParties(r.Context(), core.PartyKind(r.URL.Query().Get("kind")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func entryFilter(r *http.Request) core.EntryFilter {
	q := r.URL.Query()
	return core.EntryFilter{
		RecordID: q.Get("record"),
		BucketID: q.Get("bucket"),
		Type:     core.EntryType(q.Get("type")),
	}
}

// apiListEntries handles GET /api/entries?record=&bucket=&type=.
func (h *Handler) apiListEntries(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListEntries(r.Context(), entryFilter(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// apiExportEntries handles GET /api/entries.csv with the same filters as /api/entries.
func (h *Handler) apiExportEntries(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="entries.csv"`)
	if err := h.svc.ExportEntriesCSV(r.Context(), entryFilter(r), w); err != nil {
		// Headers may already be sent; log and stop.
		loggerFromContext(r.Context()).Error("csv export failed", zap.Error(err))
	}
}

// parseAmount parses an optional decimal string field; empty means zero.
func parseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	return d, nil
}

// parseDate parses YYYY-MM-DD. endOfDay moves the bound to the last instant of that day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, body string) string {
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(body)
}
