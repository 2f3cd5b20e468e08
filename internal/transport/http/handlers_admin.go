package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	auditmodels "covenant/internal/adminaudit/models"
	esmodels "covenant/internal/eventstore/models"
	"covenant/internal/idempotency"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/platform/httputil"
	"covenant/pkg/requestcontext"
)

// EventVerifier checks one aggregate's hash chain.
type EventVerifier interface {
	VerifyIntegrity(ctx context.Context, aggregateID, aggregateType string) (*esmodels.IntegrityReport, error)
}

// AdminAudit is the admin trail: every admin endpoint records itself there.
type AdminAudit interface {
	LogAdminAction(ctx context.Context, entry auditmodels.Entry) (*auditmodels.Entry, error)
	VerifyAuditIntegrity(ctx context.Context) (*auditmodels.IntegrityReport, error)
	GetAdminActivityReport(ctx context.Context, filter auditmodels.ReportFilter) ([]auditmodels.Entry, error)
}

// JobRunner triggers a scheduled job out of band.
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
}

const (
	ActionVerifyEventIntegrity = "VERIFY_EVENT_INTEGRITY"
	ActionVerifyAuditIntegrity = "VERIFY_ADMIN_AUDIT_INTEGRITY"
	ActionViewAdminReport      = "VIEW_ADMIN_ACTIVITY_REPORT"
	ActionRunJob               = "RUN_JOB"

	HeaderIdempotencyKey = "Idempotency-Key"

	entityAdminAuditLog = "ADMIN_AUDIT_LOG"
	entityJob           = "JOB"

	maxReasonLength = 500
)

// Handler serves the ops and admin endpoints.
type Handler struct {
	events      EventVerifier
	audit       AdminAudit
	jobs        JobRunner
	idempotency *idempotency.Guard
	checks      []ReadinessCheck
	logger      *slog.Logger
}

// New constructs the handler. jobs may be nil, in which case job triggers 404.
func New(events EventVerifier, audit AdminAudit, jobs JobRunner, opts ...Option) (*Handler, error) {
	if events == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "event verifier is required")
	}
	if audit == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "admin audit is required")
	}
	h := &Handler{
		events: events,
		audit:  audit,
		jobs:   jobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ActionRequest is the optional body of admin POSTs.
type ActionRequest struct {
	Reason string `json:"reason"`
}

func (r *ActionRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxReasonLength {
		return dErrors.Newf(dErrors.CodeValidation, "reason must be at most %d characters", maxReasonLength)
	}
	return nil
}

func (h *Handler) handleVerifyAggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	aggregateType := chi.URLParam(r, "type")
	aggregateID := chi.URLParam(r, "id")

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.events.VerifyIntegrity(ctx, aggregateID, aggregateType)
	if err != nil {
		h.logger.ErrorContext(ctx, "aggregate verification failed",
			"request_id", requestID,
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if err := h.record(ctx, ActionVerifyEventIntegrity, aggregateType, aggregateID, req.Reason, report); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleVerifyAdminAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	// Verify before recording so the report describes the chain as found.
	report, err := h.audit.VerifyAuditIntegrity(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "admin audit verification failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	if err := h.record(ctx, ActionVerifyAuditIntegrity, entityAdminAuditLog, "global", req.Reason, report); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

type reportEntry struct {
	ID          string          `json:"id"`
	Sequence    int64           `json:"sequence"`
	AdminID     string          `json:"adminId"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	IPAddress   string          `json:"ipAddress,omitempty"`
	UserAgent   string          `json:"userAgent,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	AuditHash   string          `json:"auditHash"`
	HashVersion string          `json:"hashVersion"`
}

type reportResponse struct {
	Entries []reportEntry `json:"entries"`
	Count   int           `json:"count"`
}

func (h *Handler) handleAdminReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	filter, err := parseReportFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.audit.GetAdminActivityReport(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "admin activity report failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	target := filter.AdminID
	if target == "" {
		target = "all"
	}
	if err := h.record(ctx, ActionViewAdminReport, entityAdminAuditLog, target, "", map[string]any{"count": len(entries)}); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := reportResponse{Entries: make([]reportEntry, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, reportEntry{
			ID:          e.ID,
			Sequence:    e.Sequence,
			AdminID:     e.AdminID,
			Action:      e.Action,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			Before:      e.Before,
			After:       e.After,
			Reason:      e.Reason,
			IPAddress:   e.IPAddress,
			UserAgent:   e.UserAgent,
			RequestID:   e.RequestID,
			Timestamp:   e.Timestamp,
			AuditHash:   e.AuditHash,
			HashVersion: string(e.HashVersion),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type jobRunResponse struct {
	Job        string `json:"job"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

// handleRunJob triggers a job once. With an Idempotency-Key header a retried
// trigger replays the first response instead of running the job again.
func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	name := chi.URLParam(r, "name")

	req, ok := httputil.DecodeAndPrepare[ActionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if h.jobs == nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeNotFound, "job %q is not registered", name))
		return
	}

	run := func(ctx context.Context) (jobRunResponse, error) {
		start := time.Now()
		if err := h.jobs.RunNow(ctx, name); err != nil {
			return jobRunResponse{}, err
		}
		resp := jobRunResponse{Job: name, Status: "completed", DurationMs: time.Since(start).Milliseconds()}
		if err := h.record(ctx, ActionRunJob, entityJob, name, req.Reason, resp); err != nil {
			return jobRunResponse{}, err
		}
		return resp, nil
	}

	var (
		resp jobRunResponse
		err  error
	)
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.idempotency != nil {
		resp, err = idempotency.Execute(ctx, h.idempotency, key, "admin.run_job."+name, requestcontext.ActorID(ctx), run)
	} else {
		resp, err = run(ctx)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "on-demand job run failed",
			"request_id", requestID,
			"job", name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// record writes the admin trail entry for a completed admin call. A call whose
// trail entry cannot be written fails.
func (h *Handler) record(ctx context.Context, action, entityType, entityID, reason string, after any) error {
	var payload json.RawMessage
	if after != nil {
		b, err := json.Marshal(after)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode admin action result")
		}
		payload = b
	}
	_, err := h.audit.LogAdminAction(ctx, auditmodels.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		After:      payload,
		Reason:     reason,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to record admin action",
			"request_id", requestcontext.RequestID(ctx),
			"action", action,
			"error", err,
		)
		return err
	}
	return nil
}

func parseReportFilter(r *http.Request) (auditmodels.ReportFilter, error) {
	q := r.URL.Query()
	filter := auditmodels.ReportFilter{AdminID: strings.TrimSpace(q.Get("admin_id"))}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "from must be an RFC3339 timestamp")
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "to must be an RFC3339 timestamp")
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
