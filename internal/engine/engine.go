// Package engine owns the signature-request aggregate lifecycle. Every
// mutation loads the aggregate, applies a pure transition from pkg/domain,
// and saves the new state together with its audit entry as one atomic unit,
// guarded by an optimistic version check so concurrent writers to the same
// request cannot interleave.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signlane/pkg/domain"
)

// Filter narrows a request listing. Zero values mean "no constraint".
type Filter struct {
	Statuses        []domain.RequestStatus
	SignerEmail     string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	IsUrgent        *bool
	RequiresWitness *bool
	CreatedBy       string
	DocumentTitle   string
	Limit           int
	Offset          int
}

type Facets struct {
	Status          map[string]int `json:"status"`
	SignerRoles     map[string]int `json:"signer_roles"`
	Urgent          int            `json:"urgent"`
	RequiresWitness int            `json:"requires_witness"`
}

type Page struct {
	Requests []domain.SignatureRequest `json:"requests"`
	Total    int                       `json:"total"`
	Facets   Facets                    `json:"facets"`
}

// Store is the persistence contract: per-aggregate load and compare-and-swap
// save, with the audit append transactionally scoped to the save.
type Store interface {
	CreateRequest(ctx context.Context, req domain.SignatureRequest, entry domain.AuditEntry) error
	GetRequest(ctx context.Context, requestID string) (domain.SignatureRequest, error)
	// SaveRequest persists req only if the stored version equals
	// expectedVersion, appending entry (and reminder, when non-nil) in the
	// same transaction. entry may be nil for annotation-only updates.
	SaveRequest(ctx context.Context, req domain.SignatureRequest, expectedVersion int64, entry *domain.AuditEntry, reminder *domain.Reminder) error
	ListAudit(ctx context.Context, requestID string) ([]domain.AuditEntry, error)
	ListOpen(ctx context.Context) ([]domain.SignatureRequest, error)
	ListRequests(ctx context.Context, f Filter) (Page, error)
	SearchRequests(ctx context.Context, query string, limit, offset int) (Page, error)
	GetReminder(ctx context.Context, reminderID string) (domain.Reminder, error)
	SetReminderStatus(ctx context.Context, reminderID string, status domain.ReminderStatus, at time.Time) error
}

type Engine struct {
	store Store
	pub   Publisher
	log   *zap.Logger

	now   func() time.Time
	newID func(prefix string) string
}

func New(st Store, pub Publisher, log *zap.Logger) *Engine {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store: st,
		pub:   pub,
		log:   log,
		now:   time.Now,
		newID: func(prefix string) string { return prefix + "_" + uuid.NewString() },
	}
}

func (e *Engine) Create(ctx context.Context, in domain.CreateInput, actor domain.Actor) (domain.SignatureRequest, error) {
	req, entry, err := domain.NewRequest(e.newID("sr"), in, actor, e.now())
	if err != nil {
		return domain.SignatureRequest{}, err
	}
	entry.EntryID = e.newID("aud")
	if err := e.store.CreateRequest(ctx, req, entry); err != nil {
		return domain.SignatureRequest{}, err
	}
	e.log.Info("request created",
		zap.String("request_id", req.RequestID),
		zap.Int("signers", len(req.Signers)),
		zap.Bool("requires_witness", req.RequiresWitness),
	)
	e.pub.Publish(ctx, eventFrom(entry))
	return req, nil
}

// mutate runs the load/transition/save cycle shared by every state change.
func (e *Engine) mutate(ctx context.Context, requestID string, op func(domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error)) (domain.SignatureRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.SignatureRequest{}, err
	}
	out, entry, err := op(req)
	if err != nil {
		return domain.SignatureRequest{}, err
	}
	entry.EntryID = e.newID("aud")
	expected := req.Version
	out.Version = expected + 1
	if err := e.store.SaveRequest(ctx, out, expected, &entry, nil); err != nil {
		return domain.SignatureRequest{}, err
	}
	e.log.Info("request transition",
		zap.String("request_id", requestID),
		zap.String("action", string(entry.Action)),
		zap.String("status", string(out.Status)),
	)
	e.pub.Publish(ctx, eventFrom(entry))
	return out, nil
}

func (e *Engine) Sign(ctx context.Context, requestID, signerID string, in domain.SignInput, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.Sign(req, signerID, in, actor, e.now())
	})
}

func (e *Engine) RejectSigner(ctx context.Context, requestID, signerID, reason string, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.RejectSigner(req, signerID, reason, actor, e.now())
	})
}

func (e *Engine) SignWitness(ctx context.Context, requestID string, in domain.SignInput, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.SignWitness(req, in, actor, e.now())
	})
}

func (e *Engine) Approve(ctx context.Context, requestID string, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.Approve(req, actor, e.now())
	})
}

func (e *Engine) Reject(ctx context.Context, requestID, reason string, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.Reject(req, reason, actor, e.now())
	})
}

func (e *Engine) ExtendDeadline(ctx context.Context, requestID string, newDue time.Time, actor domain.Actor) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.ExtendDeadline(req, newDue, actor, e.now())
	})
}

// Expire is reserved for the deadline scheduler; it re-reads current state so
// a request completed since the sweep started is left alone.
func (e *Engine) Expire(ctx context.Context, requestID string) (domain.SignatureRequest, error) {
	return e.mutate(ctx, requestID, func(req domain.SignatureRequest) (domain.SignatureRequest, domain.AuditEntry, error) {
		return domain.Expire(req, domain.Actor{UserID: "system"}, e.now())
	})
}

// Escalate bumps the escalation counter to level and records the reminder
// intent handed to the delivery collaborator, all in one transaction.
func (e *Engine) Escalate(ctx context.Context, requestID string, level int) (domain.Reminder, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Reminder{}, err
	}
	now := e.now()
	out, entry, err := domain.RecordReminder(req, level, domain.Actor{UserID: "system"}, now)
	if err != nil {
		return domain.Reminder{}, err
	}
	entry.EntryID = e.newID("aud")
	rem := domain.Reminder{
		ReminderID:      e.newID("rem"),
		RequestID:       requestID,
		EscalationLevel: level,
		Recipients:      domain.PendingRecipients(req),
		Status:          domain.ReminderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	expected := req.Version
	out.Version = expected + 1
	if err := e.store.SaveRequest(ctx, out, expected, &entry, &rem); err != nil {
		return domain.Reminder{}, err
	}
	e.log.Info("reminder escalated",
		zap.String("request_id", requestID),
		zap.Int("level", level),
		zap.Strings("recipients", rem.Recipients),
	)
	e.pub.Publish(ctx, eventFrom(entry))
	return rem, nil
}

// MarkVerified applies the external verifier's outcome. The annotation still
// goes through the CAS save so it cannot clobber a concurrent transition,
// but it appends no audit entry.
func (e *Engine) MarkVerified(ctx context.Context, requestID, signerID string, outcome domain.VerificationStatus) (domain.SignatureRequest, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.SignatureRequest{}, err
	}
	out, err := domain.MarkVerified(req, signerID, outcome, e.now())
	if err != nil {
		return domain.SignatureRequest{}, err
	}
	expected := req.Version
	out.Version = expected + 1
	if err := e.store.SaveRequest(ctx, out, expected, nil, nil); err != nil {
		return domain.SignatureRequest{}, err
	}
	e.log.Info("signature verification recorded",
		zap.String("request_id", requestID),
		zap.String("signer_id", signerID),
		zap.String("outcome", string(outcome)),
	)
	return out, nil
}

func (e *Engine) Get(ctx context.Context, requestID string) (domain.SignatureRequest, error) {
	return e.store.GetRequest(ctx, requestID)
}

// AuditTrail returns the creation-ordered trail plus the result of re-deriving
// its hash chain (-1 when intact).
func (e *Engine) AuditTrail(ctx context.Context, requestID string) ([]domain.AuditEntry, int, error) {
	if _, err := e.store.GetRequest(ctx, requestID); err != nil {
		return nil, 0, err
	}
	trail, err := e.store.ListAudit(ctx, requestID)
	if err != nil {
		return nil, 0, err
	}
	return trail, domain.VerifyChain(trail), nil
}

func (e *Engine) Compliance(ctx context.Context, requestID string) (domain.Compliance, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Compliance{}, err
	}
	trail, err := e.store.ListAudit(ctx, requestID)
	if err != nil {
		return domain.Compliance{}, err
	}
	return domain.EvaluateCompliance(req, trail, e.now()), nil
}

func (e *Engine) Deadline(ctx context.Context, requestID string) (domain.Deadline, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Deadline{}, err
	}
	return domain.ComputeDeadline(req, e.now()), nil
}

func (e *Engine) List(ctx context.Context, f Filter) (Page, error) {
	return e.store.ListRequests(ctx, f)
}

func (e *Engine) Search(ctx context.Context, query string, limit, offset int) (Page, error) {
	return e.store.SearchRequests(ctx, query, limit, offset)
}

func (e *Engine) ListOpen(ctx context.Context) ([]domain.SignatureRequest, error) {
	return e.store.ListOpen(ctx)
}

// SetReminderStatus records the delivery collaborator's report. Not a
// transition trigger.
func (e *Engine) SetReminderStatus(ctx context.Context, reminderID string, status domain.ReminderStatus) (domain.Reminder, error) {
	if !status.Valid() {
		return domain.Reminder{}, &domain.ValidationError{Field: "status", Reason: "unknown reminder status " + string(status)}
	}
	if err := e.store.SetReminderStatus(ctx, reminderID, status, e.now()); err != nil {
		return domain.Reminder{}, err
	}
	return e.store.GetReminder(ctx, reminderID)
}
