// Package adminaudit keeps a separate hash-chained log of privileged actions.
// The chain is global: every entry links to the one before it regardless of
// which admin acted, so deleting or editing any row breaks verification.
package adminaudit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"covenant/internal/adminaudit/models"
	"covenant/internal/alerts"
	"covenant/internal/integrity/hash"
	dErrors "covenant/pkg/domain-errors"
	audit "covenant/pkg/platform/audit"
	"covenant/pkg/platform/sentinel"
	txcontext "covenant/pkg/platform/tx"
	"covenant/pkg/requestcontext"
)

// HighVolumeThreshold is the number of actions per trailing hour above which
// an admin's activity is flagged.
const HighVolumeThreshold = 50

type Store interface {
	Latest(ctx context.Context) (*models.Entry, error)
	Insert(ctx context.Context, entry *models.Entry) error
	CountSince(ctx context.Context, adminID string, since time.Time) (int, error)
	ListChain(ctx context.Context) ([]models.Entry, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Entry, error)
}

// SecurityEmitter records anomalies and chain breaks in the security audit log.
type SecurityEmitter interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type Service struct {
	store    Store
	tx       txcontext.Runner
	logger   *slog.Logger
	metrics  *Metrics
	alerts   alerts.Publisher
	security SecurityEmitter
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAlerts(p alerts.Publisher) Option {
	return func(s *Service) {
		s.alerts = p
	}
}

func WithSecurityEmitter(e SecurityEmitter) Option {
	return func(s *Service) {
		s.security = e
	}
}

func New(store Store, runner txcontext.Runner, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("admin audit store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	s := &Service{
		store:  store,
		tx:     runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LogAdminAction chains entry onto the global admin log and stores it.
// Request metadata left empty is taken from the context.
func (s *Service) LogAdminAction(ctx context.Context, entry models.Entry) (*models.Entry, error) {
	if entry.AdminID == "" {
		entry.AdminID = requestcontext.ActorID(ctx)
	}
	if entry.AdminID == "" || entry.Action == "" || entry.EntityType == "" || entry.EntityID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "admin id, action, entity type and entity id are required")
	}
	if entry.IPAddress == "" {
		entry.IPAddress = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	entry.HashVersion = hash.Current

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		prev, err := s.store.Latest(ctx)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			entry.PreviousAuditHash = ""
		case err != nil:
			return err
		default:
			entry.PreviousAuditHash = prev.AuditHash
			// The request clock starts when the request does; a slow request
			// can reach the chain after a newer one.
			if entry.Timestamp.Before(prev.Timestamp) {
				entry.Timestamp = prev.Timestamp
			}
		}
		h, err := hash.AuditHash(entry.HashVersion, entry.HashFields())
		if err != nil {
			return err
		}
		entry.AuditHash = h
		return s.store.Insert(ctx, &entry)
	})
	if err != nil {
		if dErrors.GetCode(err) != dErrors.CodeInternal {
			return nil, err
		}
		if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "admin audit chain advanced concurrently, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log admin action")
	}

	s.logger.InfoContext(ctx, "admin action logged",
		"admin_id", entry.AdminID,
		"action", entry.Action,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"audit_id", entry.ID,
	)
	if s.metrics != nil {
		s.metrics.IncAction(entry.Action)
	}

	s.detectSuspiciousPatterns(ctx, &entry)
	return &entry, nil
}

type anomaly struct {
	kind     models.AnomalyKind
	severity audit.Severity
	message  string
}

// detectSuspiciousPatterns never fails the action; lookup and alert errors
// are logged.
func (s *Service) detectSuspiciousPatterns(ctx context.Context, entry *models.Entry) {
	var found []anomaly

	count, err := s.store.CountSince(ctx, entry.AdminID, entry.Timestamp.Add(-time.Hour))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to count recent admin actions",
			"admin_id", entry.AdminID,
			"error", err,
		)
	} else if count > HighVolumeThreshold {
		s.logger.WarnContext(ctx, "SUSPICIOUS ACTIVITY: high admin action volume",
			"admin_id", entry.AdminID,
			"actions_last_hour", count,
		)
		found = append(found, anomaly{
			kind:     models.AnomalyHighVolume,
			severity: audit.SeverityHigh,
			message:  fmt.Sprintf("admin %s performed %d actions in the last hour", entry.AdminID, count),
		})
	}

	if models.SensitiveActions[entry.Action] {
		s.logger.ErrorContext(ctx, "SENSITIVE ACTION performed by admin",
			"admin_id", entry.AdminID,
			"action", entry.Action,
			"entity_id", entry.EntityID,
		)
		found = append(found, anomaly{
			kind:     models.AnomalySensitiveAction,
			severity: audit.SeverityCritical,
			message:  fmt.Sprintf("admin %s performed %s on %s %s", entry.AdminID, entry.Action, entry.EntityType, entry.EntityID),
		})
	}

	if isScripted(entry.UserAgent) {
		s.logger.WarnContext(ctx, "scripted admin access",
			"admin_id", entry.AdminID,
			"user_agent", entry.UserAgent,
		)
		found = append(found, anomaly{
			kind:     models.AnomalyScriptedAccess,
			severity: audit.SeverityMedium,
			message:  fmt.Sprintf("admin %s acted through a non-browser client: %s", entry.AdminID, entry.UserAgent),
		})
	}

	for _, a := range found {
		s.raise(ctx, entry, a)
	}
}

// scriptedClients are HTTP tools the parser reports as browsers.
var scriptedClients = []string{"curl", "wget", "python-requests", "go-http-client", "postmanruntime", "httpie", "okhttp"}

// isScripted reports whether a non-empty user agent belongs to a bot, a known
// HTTP tool, or a client without a recognizable browser. Calls with no user
// agent come from inside the system and are not flagged.
func isScripted(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return false
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return true
	}
	name, _ := parsed.Browser()
	if name == "" {
		return true
	}
	name = strings.ToLower(name)
	for _, c := range scriptedClients {
		if name == c {
			return true
		}
	}
	return false
}

func (s *Service) raise(ctx context.Context, entry *models.Entry, a anomaly) {
	if s.metrics != nil {
		s.metrics.IncAnomaly(string(a.kind))
	}
	if s.security != nil {
		s.security.Emit(ctx, audit.SecurityEvent{
			ActorID:    entry.AdminID,
			Action:     audit.EventAdminAnomalyDetected,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Severity:   a.severity,
			Reason:     a.message,
			IP:         entry.IPAddress,
			Details:    map[string]any{"anomaly": string(a.kind), "admin_action": entry.Action},
			RequestID:  entry.RequestID,
		})
	}
	if s.alerts == nil {
		return
	}
	err := s.alerts.Publish(ctx, alerts.Alert{
		Kind:     alerts.KindAdminAnomaly,
		Severity: a.severity,
		Title:    string(a.kind),
		Message:  a.message,
		Subject:  entry.AdminID,
		Details:  map[string]any{"audit_id": entry.ID, "action": entry.Action},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish admin anomaly alert",
			"admin_id", entry.AdminID,
			"anomaly", a.kind,
			"error", err,
		)
	}
}

// VerifyAuditIntegrity replays the whole admin chain in order and checks
// every link and every stored hash.
func (s *Service) VerifyAuditIntegrity(ctx context.Context) (*models.IntegrityReport, error) {
	entries, err := s.store.ListChain(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load admin audit chain")
	}

	report := &models.IntegrityReport{
		EntryCount: len(entries),
		Errors:     []string{},
		VerifiedAt: requestcontext.Now(ctx).UTC(),
	}
	for i := range entries {
		e := &entries[i]
		if i == 0 {
			if e.PreviousAuditHash != "" {
				report.Errors = append(report.Errors, fmt.Sprintf(
					"first entry %s links to %s; the chain has been truncated", e.ID, e.PreviousAuditHash))
			}
		} else if prev := entries[i-1]; e.PreviousAuditHash != prev.AuditHash {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"hash chain broken at entry %s: expected previous hash %s, got %s", e.ID, prev.AuditHash, e.PreviousAuditHash))
		}

		computed, err := hash.AuditHash(e.HashVersion, e.HashFields())
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("cannot rehash entry %s: %v", e.ID, err))
			continue
		}
		if computed != e.AuditHash {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"entry hash mismatch at %s: stored %s, computed %s", e.ID, e.AuditHash, computed))
		}
	}
	report.IsValid = len(report.Errors) == 0
	if s.metrics != nil {
		s.metrics.IncVerification(report.IsValid)
	}

	if report.IsValid {
		s.logger.InfoContext(ctx, "admin audit chain verified", "entries", report.EntryCount)
		return report, nil
	}

	s.logger.ErrorContext(ctx, "SECURITY INCIDENT: admin audit chain integrity violation",
		"entries", report.EntryCount,
		"error_count", len(report.Errors),
		"errors", report.Errors,
	)
	if s.security != nil {
		s.security.Emit(ctx, audit.SecurityEvent{
			ActorID:    "SYSTEM",
			Action:     audit.EventAuditChainBroken,
			EntityType: "ADMIN_AUDIT_LOG",
			Severity:   audit.SeverityCritical,
			Reason:     report.Errors[0],
			Details:    map[string]any{"error_count": len(report.Errors)},
		})
	}
	if s.alerts != nil {
		err := s.alerts.Publish(ctx, alerts.Alert{
			Kind:     alerts.KindAuditChainBroken,
			Severity: audit.SeverityCritical,
			Title:    "Admin audit chain integrity violation",
			Message:  strings.Join(report.Errors, "; "),
			Details:  map[string]any{"error_count": len(report.Errors)},
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to publish audit chain alert", "error", err)
		}
	}
	return report, nil
}

// GetAdminActivityReport lists entries newest first.
func (s *Service) GetAdminActivityReport(ctx context.Context, filter models.ReportFilter) ([]models.Entry, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load admin activity")
	}
	return entries, nil
}
