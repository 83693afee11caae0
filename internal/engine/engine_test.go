package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signlane/pkg/domain"
)

var engT0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	requests  map[string]domain.SignatureRequest
	trails    map[string][]domain.AuditEntry
	lastHash  map[string]string
	reminders map[string]domain.Reminder

	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:  map[string]domain.SignatureRequest{},
		trails:    map[string][]domain.AuditEntry{},
		lastHash:  map[string]string{},
		reminders: map[string]domain.Reminder{},
	}
}

func (f *fakeStore) CreateRequest(_ context.Context, req domain.SignatureRequest, entry domain.AuditEntry) error {
	sealed, err := domain.SealEntry(entry, "")
	if err != nil {
		return err
	}
	f.requests[req.RequestID] = req
	f.trails[req.RequestID] = []domain.AuditEntry{sealed}
	f.lastHash[req.RequestID] = sealed.EntryHash
	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (domain.SignatureRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return domain.SignatureRequest{}, &domain.NotFoundError{Kind: "request", ID: id}
	}
	return req.Clone(), nil
}

func (f *fakeStore) SaveRequest(_ context.Context, req domain.SignatureRequest, expectedVersion int64, entry *domain.AuditEntry, reminder *domain.Reminder) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	cur, ok := f.requests[req.RequestID]
	if !ok {
		return &domain.NotFoundError{Kind: "request", ID: req.RequestID}
	}
	if cur.Version != expectedVersion {
		return &domain.ConcurrencyConflictError{RequestID: req.RequestID, ExpectedVersion: expectedVersion}
	}
	if entry != nil {
		sealed, err := domain.SealEntry(*entry, f.lastHash[req.RequestID])
		if err != nil {
			return err
		}
		f.trails[req.RequestID] = append(f.trails[req.RequestID], sealed)
		f.lastHash[req.RequestID] = sealed.EntryHash
	}
	f.requests[req.RequestID] = req
	if reminder != nil {
		f.reminders[reminder.ReminderID] = *reminder
	}
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, id string) ([]domain.AuditEntry, error) {
	return append([]domain.AuditEntry{}, f.trails[id]...), nil
}

func (f *fakeStore) ListOpen(_ context.Context) ([]domain.SignatureRequest, error) {
	var out []domain.SignatureRequest
	for _, r := range f.requests {
		if r.Open() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) ListRequests(context.Context, Filter) (Page, error) { return Page{}, nil }
func (f *fakeStore) SearchRequests(context.Context, string, int, int) (Page, error) {
	return Page{}, nil
}

func (f *fakeStore) GetReminder(_ context.Context, id string) (domain.Reminder, error) {
	rem, ok := f.reminders[id]
	if !ok {
		return domain.Reminder{}, &domain.NotFoundError{Kind: "reminder", ID: id}
	}
	return rem, nil
}

func (f *fakeStore) SetReminderStatus(_ context.Context, id string, status domain.ReminderStatus, at time.Time) error {
	rem, ok := f.reminders[id]
	if !ok {
		return &domain.NotFoundError{Kind: "reminder", ID: id}
	}
	rem.Status = status
	rem.UpdatedAt = at
	f.reminders[id] = rem
	return nil
}

type capturePublisher struct{ events []Event }

func (p *capturePublisher) Publish(_ context.Context, ev Event) { p.events = append(p.events, ev) }

func newTestEngine(st Store, pub Publisher) *Engine {
	e := New(st, pub, nil)
	e.now = func() time.Time { return engT0 }
	n := 0
	e.newID = func(prefix string) string {
		n++
		return fmt.Sprintf("%s_%03d", prefix, n)
	}
	return e
}

func createTwoSigner(t *testing.T, e *Engine) domain.SignatureRequest {
	t.Helper()
	req, err := e.Create(context.Background(), domain.CreateInput{
		DocumentTitle: "Service Agreement",
		Signers: []domain.SignerInput{
			{SignerID: "sg_a", Name: "Alice", Email: "alice@example.com", Role: domain.RoleClient},
			{SignerID: "sg_b", Name: "Bob", Email: "bob@example.com", Role: domain.RoleServiceProvider},
		},
		DueDate: engT0.Add(5 * 24 * time.Hour),
	}, domain.Actor{UserID: "usr_1"})
	if err != nil {
		t.Fatalf("create err: %v", err)
	}
	return req
}

var signIn = domain.SignInput{SignatureData: "data:sig", Method: domain.MethodDraw, IPAddress: "203.0.113.4"}

func TestEngineHappyPathAuditAndEvents(t *testing.T) {
	st := newFakeStore()
	pub := &capturePublisher{}
	e := newTestEngine(st, pub)
	ctx := context.Background()

	req := createTwoSigner(t, e)

	if _, err := e.Sign(ctx, req.RequestID, "sg_a", signIn, domain.Actor{UserID: "usr_a"}); err != nil {
		t.Fatalf("sign a err: %v", err)
	}
	got, err := e.Sign(ctx, req.RequestID, "sg_b", signIn, domain.Actor{UserID: "usr_b"})
	if err != nil {
		t.Fatalf("sign b err: %v", err)
	}
	if got.Status != domain.StatusSigned {
		t.Fatalf("expected signed, got %s", got.Status)
	}
	if got, err = e.Approve(ctx, req.RequestID, domain.Actor{UserID: "usr_1"}); err != nil {
		t.Fatalf("approve err: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}

	trail, chainAt, err := e.AuditTrail(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("audit err: %v", err)
	}
	if len(trail) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(trail))
	}
	wantActions := []domain.AuditAction{domain.ActionRequestCreated, domain.ActionSignatureCompleted, domain.ActionSignatureCompleted, domain.ActionRequestApproved}
	for i, a := range wantActions {
		if trail[i].Action != a {
			t.Fatalf("entry %d: expected %s, got %s", i, a, trail[i].Action)
		}
	}
	if chainAt != -1 {
		t.Fatalf("expected intact chain, broken at %d", chainAt)
	}
	if len(pub.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(pub.events))
	}
	if pub.events[3].Type != string(domain.ActionRequestApproved) {
		t.Fatalf("unexpected last event: %s", pub.events[3].Type)
	}
}

func TestEngineRejectedOperationLeavesNoTrace(t *testing.T) {
	st := newFakeStore()
	pub := &capturePublisher{}
	e := newTestEngine(st, pub)
	ctx := context.Background()

	req := createTwoSigner(t, e)
	before := len(st.trails[req.RequestID])

	_, err := e.Approve(ctx, req.RequestID, domain.Actor{UserID: "usr_1"})
	var ise *domain.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if len(st.trails[req.RequestID]) != before {
		t.Fatal("rejected operation must append no audit entry")
	}
	if len(pub.events) != 1 {
		t.Fatalf("rejected operation must publish nothing, got %d events", len(pub.events))
	}
	if got, _ := e.Get(ctx, req.RequestID); got.Version != req.Version {
		t.Fatal("rejected operation must not bump the version")
	}
}

func TestEngineConflictSurfaces(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, nil)
	ctx := context.Background()

	req := createTwoSigner(t, e)
	st.saveErr = &domain.ConcurrencyConflictError{RequestID: req.RequestID, ExpectedVersion: req.Version}

	_, err := e.Sign(ctx, req.RequestID, "sg_a", signIn, domain.Actor{UserID: "usr_a"})
	var cc *domain.ConcurrencyConflictError
	if !errors.As(err, &cc) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
}

func TestEngineEscalateRecordsReminder(t *testing.T) {
	st := newFakeStore()
	pub := &capturePublisher{}
	e := newTestEngine(st, pub)
	ctx := context.Background()

	req := createTwoSigner(t, e)
	rem, err := e.Escalate(ctx, req.RequestID, 1)
	if err != nil {
		t.Fatalf("escalate err: %v", err)
	}
	if rem.EscalationLevel != 1 || rem.Status != domain.ReminderPending {
		t.Fatalf("unexpected reminder: %+v", rem)
	}
	if len(rem.Recipients) != 2 {
		t.Fatalf("expected both pending signers as recipients, got %v", rem.Recipients)
	}
	got, _ := e.Get(ctx, req.RequestID)
	if got.EscalationLevel != 1 {
		t.Fatalf("expected escalation level 1, got %d", got.EscalationLevel)
	}

	// Same level again is refused, nothing recorded.
	if _, err := e.Escalate(ctx, req.RequestID, 1); err == nil {
		t.Fatal("expected duplicate escalation to fail")
	}
	if len(st.reminders) != 1 {
		t.Fatalf("expected one reminder, got %d", len(st.reminders))
	}

	updated, err := e.SetReminderStatus(ctx, rem.ReminderID, domain.ReminderSent)
	if err != nil {
		t.Fatalf("set status err: %v", err)
	}
	if updated.Status != domain.ReminderSent {
		t.Fatalf("expected sent, got %s", updated.Status)
	}
	if _, err := e.SetReminderStatus(ctx, rem.ReminderID, "bounced"); err == nil {
		t.Fatal("expected unknown reminder status to fail")
	}
}

func TestEngineMarkVerifiedAppendsNoAudit(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, nil)
	ctx := context.Background()

	req := createTwoSigner(t, e)
	if _, err := e.Sign(ctx, req.RequestID, "sg_a", signIn, domain.Actor{UserID: "usr_a"}); err != nil {
		t.Fatalf("sign err: %v", err)
	}
	before := len(st.trails[req.RequestID])

	got, err := e.MarkVerified(ctx, req.RequestID, "sg_a", domain.VerificationVerified)
	if err != nil {
		t.Fatalf("mark verified err: %v", err)
	}
	i, _ := got.FindSigner("sg_a")
	if got.Signers[i].VerificationStatus != domain.VerificationVerified {
		t.Fatalf("expected verified, got %s", got.Signers[i].VerificationStatus)
	}
	if len(st.trails[req.RequestID]) != before {
		t.Fatal("verification must not append an audit entry")
	}
}

func TestEngineComplianceAndDeadlineReads(t *testing.T) {
	st := newFakeStore()
	e := newTestEngine(st, nil)
	ctx := context.Background()

	req := createTwoSigner(t, e)

	c, err := e.Compliance(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("compliance err: %v", err)
	}
	if !c.IsCompliant {
		t.Fatalf("fresh request should be compliant: %+v", c)
	}

	d, err := e.Deadline(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("deadline err: %v", err)
	}
	if d.IsOverdue || d.DaysRemaining != 5 {
		t.Fatalf("unexpected deadline: %+v", d)
	}

	var nf *domain.NotFoundError
	if _, err := e.Compliance(ctx, "sr_missing"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
