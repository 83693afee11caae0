package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"signlane/internal/engine"
	"signlane/pkg/domain"
)

var memT0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedRequest(t *testing.T, m *Memory, id, title, createdBy string, urgent bool, createdAt time.Time) domain.SignatureRequest {
	t.Helper()
	req, entry, err := domain.NewRequest(id, domain.CreateInput{
		DocumentTitle: title,
		Signers: []domain.SignerInput{
			{SignerID: id + "_a", Name: "Alice", Email: "alice@example.com", Role: domain.RoleClient},
			{SignerID: id + "_b", Name: "Bob", Email: "bob@example.com", Role: domain.RoleEmployee},
		},
		DueDate:  createdAt.Add(5 * 24 * time.Hour),
		IsUrgent: urgent,
	}, domain.Actor{UserID: createdBy}, createdAt)
	if err != nil {
		t.Fatalf("new request err: %v", err)
	}
	entry.EntryID = "aud_create_" + id
	if err := m.CreateRequest(context.Background(), req, entry); err != nil {
		t.Fatalf("create err: %v", err)
	}
	return req
}

func TestMemoryVersionCheck(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	req := seedRequest(t, m, "sr_1", "NDA", "usr_1", false, memT0)

	out, entry, err := domain.Sign(req, "sr_1_a", domain.SignInput{SignatureData: "sig", Method: domain.MethodDraw}, domain.Actor{UserID: "usr_2"}, memT0.Add(time.Hour))
	if err != nil {
		t.Fatalf("sign err: %v", err)
	}
	entry.EntryID = "aud_1"
	out.Version = req.Version + 1
	if err := m.SaveRequest(ctx, out, req.Version, &entry, nil); err != nil {
		t.Fatalf("save err: %v", err)
	}

	// Second writer working from the stale version must conflict.
	stale, entry2, err := domain.Sign(req, "sr_1_b", domain.SignInput{SignatureData: "sig", Method: domain.MethodType}, domain.Actor{UserID: "usr_3"}, memT0.Add(time.Hour))
	if err != nil {
		t.Fatalf("sign err: %v", err)
	}
	entry2.EntryID = "aud_2"
	stale.Version = req.Version + 1
	err = m.SaveRequest(ctx, stale, req.Version, &entry2, nil)
	var cc *domain.ConcurrencyConflictError
	if !errors.As(err, &cc) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}

	// Conflicted save must leave no audit entry behind.
	trail, err := m.ListAudit(ctx, "sr_1")
	if err != nil {
		t.Fatalf("audit err: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(trail))
	}
}

func TestMemoryAuditChainSealed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	req := seedRequest(t, m, "sr_1", "NDA", "usr_1", false, memT0)

	out, entry, _ := domain.Sign(req, "sr_1_a", domain.SignInput{SignatureData: "sig", Method: domain.MethodDraw}, domain.Actor{UserID: "usr_2"}, memT0.Add(time.Hour))
	entry.EntryID = "aud_1"
	out.Version = req.Version + 1
	if err := m.SaveRequest(ctx, out, req.Version, &entry, nil); err != nil {
		t.Fatalf("save err: %v", err)
	}

	trail, _ := m.ListAudit(ctx, "sr_1")
	if idx := domain.VerifyChain(trail); idx != -1 {
		t.Fatalf("expected intact chain, broken at %d", idx)
	}
	if trail[0].PrevHash != "" || trail[1].PrevHash != trail[0].EntryHash {
		t.Fatalf("chain links wrong: %+v", trail)
	}
}

func TestMemoryRejectsUnknownAuditAction(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	req := seedRequest(t, m, "sr_1", "NDA", "usr_1", false, memT0)

	bad := domain.AuditEntry{EntryID: "aud_bad", RequestID: "sr_1", Action: "request_deleted", Timestamp: memT0}
	out := req.Clone()
	out.Version = req.Version + 1
	err := m.SaveRequest(ctx, out, req.Version, &bad, nil)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, _ := m.GetRequest(ctx, "sr_1")
	if got.Version != req.Version {
		t.Fatal("rejected audit entry must not change the aggregate")
	}
}

func TestMemoryNotFound(t *testing.T) {
	m := NewMemory()
	var nf *domain.NotFoundError
	if _, err := m.GetRequest(context.Background(), "sr_missing"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := m.GetReminder(context.Background(), "rem_missing"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryListFiltersAndFacets(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRequest(t, m, "sr_1", "Employment Contract", "usr_1", true, memT0)
	seedRequest(t, m, "sr_2", "NDA Amendment", "usr_2", false, memT0.Add(time.Hour))
	seedRequest(t, m, "sr_3", "Lease Agreement", "usr_1", false, memT0.Add(2*time.Hour))

	page, err := m.ListRequests(ctx, engine.Filter{CreatedBy: "usr_1"})
	if err != nil {
		t.Fatalf("list err: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 results, got %d", page.Total)
	}
	if page.Facets.Urgent != 1 || page.Facets.Status["pending"] != 2 {
		t.Fatalf("unexpected facets: %+v", page.Facets)
	}
	if page.Facets.SignerRoles["client"] != 2 {
		t.Fatalf("unexpected role facet: %+v", page.Facets.SignerRoles)
	}
	// Newest first.
	if page.Requests[0].RequestID != "sr_3" {
		t.Fatalf("expected sr_3 first, got %s", page.Requests[0].RequestID)
	}

	urgent := true
	page, _ = m.ListRequests(ctx, engine.Filter{IsUrgent: &urgent})
	if page.Total != 1 || page.Requests[0].RequestID != "sr_1" {
		t.Fatalf("unexpected urgent filter result: %+v", page)
	}

	page, _ = m.ListRequests(ctx, engine.Filter{DocumentTitle: "nda"})
	if page.Total != 1 || page.Requests[0].RequestID != "sr_2" {
		t.Fatalf("unexpected title filter result: %+v", page)
	}

	page, _ = m.ListRequests(ctx, engine.Filter{SignerEmail: "ALICE@example.com"})
	if page.Total != 3 {
		t.Fatalf("signer email filter should be case-insensitive, got %d", page.Total)
	}
}

func TestMemoryListPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedRequest(t, m, "sr_"+string(rune('1'+i)), "Doc", "usr_1", false, memT0.Add(time.Duration(i)*time.Hour))
	}
	page, err := m.ListRequests(ctx, engine.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list err: %v", err)
	}
	if page.Total != 5 || len(page.Requests) != 2 {
		t.Fatalf("expected total 5 page 2, got %d/%d", page.Total, len(page.Requests))
	}
	if page.Requests[0].RequestID != "sr_3" {
		t.Fatalf("unexpected page start: %s", page.Requests[0].RequestID)
	}

	page, _ = m.ListRequests(ctx, engine.Filter{Limit: 2, Offset: 10})
	if len(page.Requests) != 0 || page.Total != 5 {
		t.Fatalf("expected empty page with total, got %+v", page)
	}
}

func TestMemorySearch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRequest(t, m, "sr_1", "Employment Contract", "usr_1", false, memT0)
	seedRequest(t, m, "sr_2", "Lease", "usr_2", false, memT0.Add(time.Hour))

	page, err := m.SearchRequests(ctx, "employment", 10, 0)
	if err != nil {
		t.Fatalf("search err: %v", err)
	}
	if page.Total != 1 || page.Requests[0].RequestID != "sr_1" {
		t.Fatalf("unexpected title search: %+v", page)
	}

	page, _ = m.SearchRequests(ctx, "bob@example", 10, 0)
	if page.Total != 2 {
		t.Fatalf("expected signer email match on both, got %d", page.Total)
	}

	page, _ = m.SearchRequests(ctx, "no-such-thing", 10, 0)
	if page.Total != 0 {
		t.Fatalf("expected no matches, got %d", page.Total)
	}
}

func TestMemoryReminderLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	req := seedRequest(t, m, "sr_1", "NDA", "usr_1", false, memT0)

	out, entry, err := domain.RecordReminder(req, 1, domain.Actor{UserID: "system"}, memT0.Add(time.Hour))
	if err != nil {
		t.Fatalf("reminder err: %v", err)
	}
	entry.EntryID = "aud_rem"
	out.Version = req.Version + 1
	rem := domain.Reminder{ReminderID: "rem_1", RequestID: "sr_1", EscalationLevel: 1, Status: domain.ReminderPending, CreatedAt: memT0, UpdatedAt: memT0}
	if err := m.SaveRequest(ctx, out, req.Version, &entry, &rem); err != nil {
		t.Fatalf("save err: %v", err)
	}

	if err := m.SetReminderStatus(ctx, "rem_1", domain.ReminderDelivered, memT0.Add(2*time.Hour)); err != nil {
		t.Fatalf("set status err: %v", err)
	}
	got, err := m.GetReminder(ctx, "rem_1")
	if err != nil {
		t.Fatalf("get reminder err: %v", err)
	}
	if got.Status != domain.ReminderDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
}
