package domain

import (
	"time"

	"signlane/pkg/canonhash"
)

type AuditAction string

// Closed vocabulary for the legal record. Anything else is rejected at the
// audit layer with a ValidationError.
const (
	ActionRequestCreated     AuditAction = "request_created"
	ActionSignatureCompleted AuditAction = "signature_completed"
	ActionSignatureRejected  AuditAction = "signature_rejected"
	ActionWitnessSigned      AuditAction = "witness_signed"
	ActionRequestApproved    AuditAction = "request_approved"
	ActionRequestRejected    AuditAction = "request_rejected"
	ActionRequestExpired     AuditAction = "request_expired"
	ActionReminderSent       AuditAction = "reminder_sent"
	ActionDeadlineExtended   AuditAction = "deadline_extended"
	ActionBulkAction         AuditAction = "bulk_action"
)

func (a AuditAction) Valid() bool {
	switch a {
	case ActionRequestCreated, ActionSignatureCompleted, ActionSignatureRejected,
		ActionWitnessSigned, ActionRequestApproved, ActionRequestRejected,
		ActionRequestExpired, ActionReminderSent, ActionDeadlineExtended,
		ActionBulkAction:
		return true
	}
	return false
}

// Actor identifies who performed an operation, for the audit trail.
type Actor struct {
	UserID    string `json:"user_id"`
	Name      string `json:"user_name,omitempty"`
	Email     string `json:"user_email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type AuditEntry struct {
	EntryID   string         `json:"entry_id"`
	RequestID string         `json:"request_id"`
	Action    AuditAction    `json:"action"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name,omitempty"`
	UserEmail string         `json:"user_email,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	EntryHash string         `json:"entry_hash"`
}

func newAuditEntry(requestID string, action AuditAction, actor Actor, at time.Time, details map[string]any) AuditEntry {
	return AuditEntry{
		RequestID: requestID,
		Action:    action,
		UserID:    actor.UserID,
		UserName:  actor.Name,
		UserEmail: actor.Email,
		Details:   details,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		Timestamp: at,
	}
}

// ChainHash derives the tamper-evidence hash for an entry given the hash of
// the previous entry ("" for the first). EntryID must already be assigned.
func ChainHash(prev string, e AuditEntry) (string, error) {
	h, _, err := canonhash.SumObject(struct {
		PrevHash  string         `json:"prev_hash"`
		EntryID   string         `json:"entry_id"`
		RequestID string         `json:"request_id"`
		Action    AuditAction    `json:"action"`
		UserID    string         `json:"user_id"`
		Details   map[string]any `json:"details"`
		Timestamp string         `json:"timestamp"`
	}{prev, e.EntryID, e.RequestID, e.Action, e.UserID, e.Details, e.Timestamp.UTC().Format(time.RFC3339Nano)})
	return h, err
}

// SealEntry assigns the chain hashes to an entry about to be appended after
// the entry carrying prevHash.
func SealEntry(e AuditEntry, prevHash string) (AuditEntry, error) {
	if !e.Action.Valid() {
		return AuditEntry{}, &ValidationError{Field: "action", Reason: "unknown audit action " + string(e.Action)}
	}
	h, err := ChainHash(prevHash, e)
	if err != nil {
		return AuditEntry{}, err
	}
	e.PrevHash = prevHash
	e.EntryHash = h
	return e, nil
}

// VerifyChain re-derives the hash chain over a creation-ordered trail.
// It returns the index of the first entry whose hash does not match, or -1
// when the chain is intact.
func VerifyChain(entries []AuditEntry) int {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return i
		}
		h, err := ChainHash(prev, e)
		if err != nil || h != e.EntryHash {
			return i
		}
		prev = e.EntryHash
	}
	return -1
}
