package domain

import (
	"errors"
	"testing"
	"time"
)

func sealedTrail(t *testing.T, n int) []AuditEntry {
	t.Helper()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	actions := []AuditAction{ActionRequestCreated, ActionSignatureCompleted, ActionSignatureCompleted, ActionRequestApproved}
	var trail []AuditEntry
	prev := ""
	for i := 0; i < n; i++ {
		e := AuditEntry{
			EntryID:   "aud_" + string(rune('a'+i)),
			RequestID: "sr_1",
			Action:    actions[i%len(actions)],
			UserID:    "usr_1",
			Details:   map[string]any{"seq": i},
			Timestamp: at.Add(time.Duration(i) * time.Minute),
		}
		sealed, err := SealEntry(e, prev)
		if err != nil {
			t.Fatalf("seal err: %v", err)
		}
		trail = append(trail, sealed)
		prev = sealed.EntryHash
	}
	return trail
}

func TestSealEntryRejectsUnknownAction(t *testing.T) {
	_, err := SealEntry(AuditEntry{Action: "document_shredded"}, "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for unknown action, got %v", err)
	}
}

func TestVerifyChainIntact(t *testing.T) {
	trail := sealedTrail(t, 4)
	if idx := VerifyChain(trail); idx != -1 {
		t.Fatalf("expected intact chain, first bad index %d", idx)
	}
	if idx := VerifyChain(nil); idx != -1 {
		t.Fatalf("empty chain must verify, got %d", idx)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	trail := sealedTrail(t, 4)
	trail[2].Details["seq"] = 99
	if idx := VerifyChain(trail); idx != 2 {
		t.Fatalf("expected tamper at index 2, got %d", idx)
	}

	trail = sealedTrail(t, 4)
	trail = append(trail[:1], trail[2:]...) // drop an entry
	if idx := VerifyChain(trail); idx != 1 {
		t.Fatalf("expected break at index 1 after deletion, got %d", idx)
	}
}

func TestAuditActionVocabularyClosed(t *testing.T) {
	for _, a := range []AuditAction{
		ActionRequestCreated, ActionSignatureCompleted, ActionSignatureRejected,
		ActionWitnessSigned, ActionRequestApproved, ActionRequestRejected,
		ActionRequestExpired, ActionReminderSent, ActionDeadlineExtended, ActionBulkAction,
	} {
		if !a.Valid() {
			t.Fatalf("expected %s to be valid", a)
		}
	}
	if AuditAction("request_deleted").Valid() {
		t.Fatal("unexpected action accepted")
	}
}
