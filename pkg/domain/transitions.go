package domain

import (
	"strings"
	"time"
)

// CreateInput carries everything needed to open a new signature request.
type CreateInput struct {
	DocumentTitle   string
	DocumentURL     string
	Signers         []SignerInput
	DueDate         time.Time
	RequiresWitness bool
	WitnessEmail    string
	WitnessName     string
	IsUrgent        bool
	Message         string
	Metadata        map[string]any
}

type SignerInput struct {
	SignerID string
	Name     string
	Email    string
	Role     SignerRole
}

type SignInput struct {
	SignatureData string
	Method        SignatureMethod
	IPAddress     string
}

// NewRequest validates the input and returns the initial aggregate plus its
// request_created audit entry. All signers start pending.
func NewRequest(requestID string, in CreateInput, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if strings.TrimSpace(in.DocumentTitle) == "" {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "document_title", Reason: "must not be empty"}
	}
	if len(in.Signers) == 0 {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signers", Reason: "at least one signer is required"}
	}
	if !in.DueDate.After(now) {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "due_date", Reason: "must be after creation time"}
	}
	signers := make([]Signer, 0, len(in.Signers))
	for _, s := range in.Signers {
		if strings.TrimSpace(s.SignerID) == "" || strings.TrimSpace(s.Email) == "" {
			return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signers", Reason: "signer id and email must not be empty"}
		}
		role := s.Role
		if role == "" {
			role = RoleOther
		}
		if !role.Valid() {
			return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signers", Reason: "unknown role " + string(s.Role)}
		}
		signers = append(signers, Signer{
			SignerID: s.SignerID,
			Name:     s.Name,
			Email:    s.Email,
			Role:     role,
			Status:   SignerPending,
		})
	}
	var witness *Witness
	if in.RequiresWitness {
		if strings.TrimSpace(in.WitnessEmail) == "" {
			return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "witness_email", Reason: "required when requires_witness is set"}
		}
		witness = &Witness{Email: in.WitnessEmail, Name: in.WitnessName}
	}

	req := SignatureRequest{
		RequestID:       requestID,
		DocumentTitle:   in.DocumentTitle,
		DocumentURL:     in.DocumentURL,
		Status:          StatusPending,
		Signers:         signers,
		RequiresWitness: in.RequiresWitness,
		Witness:         witness,
		IsUrgent:        in.IsUrgent,
		Message:         in.Message,
		Metadata:        in.Metadata,
		CreatedBy:       actor.UserID,
		DueDate:         in.DueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	entry := newAuditEntry(requestID, ActionRequestCreated, actor, now, map[string]any{
		"document_title":   in.DocumentTitle,
		"signer_count":     len(signers),
		"requires_witness": in.RequiresWitness,
		"due_date":         in.DueDate.UTC().Format(time.RFC3339),
	})
	return req, entry, nil
}

// Sign records a signer's completed signature and recomputes the request
// status. Verification is asynchronous, so verification_status starts pending.
func Sign(req SignatureRequest, signerID string, in SignInput, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if req.Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "sign", Status: string(req.Status)}
	}
	i, ok := req.FindSigner(signerID)
	if !ok {
		return SignatureRequest{}, AuditEntry{}, &NotFoundError{Kind: "signer", ID: signerID}
	}
	if req.Signers[i].Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "sign", Status: string(req.Signers[i].Status), Reason: "signer already concluded"}
	}
	if strings.TrimSpace(in.SignatureData) == "" {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signature_data", Reason: "must not be empty"}
	}
	if !in.Method.Valid() {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signature_method", Reason: "must be draw, type or upload"}
	}

	out := req.Clone()
	from := out.Signers[i].Status
	signedAt := now
	out.Signers[i].Status = SignerSigned
	out.Signers[i].SignedAt = &signedAt
	out.Signers[i].SignatureData = in.SignatureData
	out.Signers[i].SignatureMethod = in.Method
	out.Signers[i].IPAddress = in.IPAddress
	out.Signers[i].VerificationStatus = VerificationPending
	out.Status = DeriveStatus(out.Signers, out.RequiresWitness, out.Witness)
	out.UpdatedAt = now

	entry := newAuditEntry(req.RequestID, ActionSignatureCompleted, actor, now, map[string]any{
		"signer_id":           signerID,
		"signer_status_from":  string(from),
		"signer_status_to":    string(SignerSigned),
		"signature_method":    string(in.Method),
		"request_status_from": string(req.Status),
		"request_status_to":   string(out.Status),
	})
	return out, entry, nil
}

// RejectSigner records a signer's refusal. Any single rejection voids the
// whole request.
func RejectSigner(req SignatureRequest, signerID, reason string, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if req.Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "reject", Status: string(req.Status)}
	}
	i, ok := req.FindSigner(signerID)
	if !ok {
		return SignatureRequest{}, AuditEntry{}, &NotFoundError{Kind: "signer", ID: signerID}
	}
	if req.Signers[i].Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "reject", Status: string(req.Signers[i].Status), Reason: "signer already concluded"}
	}

	out := req.Clone()
	from := out.Signers[i].Status
	out.Signers[i].Status = SignerRejected
	out.Signers[i].RejectionReason = reason
	out.Status = DeriveStatus(out.Signers, out.RequiresWitness, out.Witness)
	out.UpdatedAt = now

	entry := newAuditEntry(req.RequestID, ActionSignatureRejected, actor, now, map[string]any{
		"signer_id":           signerID,
		"signer_status_from":  string(from),
		"reason":              reason,
		"request_status_from": string(req.Status),
		"request_status_to":   string(out.Status),
	})
	return out, entry, nil
}

// MarkVerified records the external verifier's outcome for a signed signer.
// It is an annotation, not a transition: status is untouched and no audit
// entry is produced.
func MarkVerified(req SignatureRequest, signerID string, outcome VerificationStatus, now time.Time) (SignatureRequest, error) {
	i, ok := req.FindSigner(signerID)
	if !ok {
		return SignatureRequest{}, &NotFoundError{Kind: "signer", ID: signerID}
	}
	if outcome != VerificationVerified && outcome != VerificationFailed {
		return SignatureRequest{}, &ValidationError{Field: "outcome", Reason: "must be verified or failed"}
	}
	if req.Signers[i].Status != SignerSigned {
		return SignatureRequest{}, &InvalidStateError{Op: "mark_verified", Status: string(req.Signers[i].Status), Reason: "signer has not signed"}
	}
	out := req.Clone()
	out.Signers[i].VerificationStatus = outcome
	out.UpdatedAt = now
	return out, nil
}

// SignWitness records the witness co-signature gating request completion.
func SignWitness(req SignatureRequest, in SignInput, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if !req.RequiresWitness {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "sign_witness", Status: string(req.Status), Reason: "request does not require a witness"}
	}
	if req.Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "sign_witness", Status: string(req.Status)}
	}
	if req.Witness.Signed() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "sign_witness", Status: string(req.Status), Reason: "witness already signed"}
	}
	if strings.TrimSpace(in.SignatureData) == "" {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "signature_data", Reason: "must not be empty"}
	}

	out := req.Clone()
	signedAt := now
	out.Witness.SignedAt = &signedAt
	out.Witness.SignatureData = in.SignatureData
	out.Witness.IPAddress = in.IPAddress
	out.Status = DeriveStatus(out.Signers, out.RequiresWitness, out.Witness)
	out.UpdatedAt = now

	entry := newAuditEntry(req.RequestID, ActionWitnessSigned, actor, now, map[string]any{
		"witness_email":       out.Witness.Email,
		"request_status_from": string(req.Status),
		"request_status_to":   string(out.Status),
	})
	return out, entry, nil
}

// Approve is the distinct human sign-off after all signatures are collected.
// Legal only from signed.
func Approve(req SignatureRequest, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if req.Status != StatusSigned {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "approve", Status: string(req.Status), Reason: "request must be fully signed"}
	}
	out := req.Clone()
	out.Status = StatusApproved
	out.UpdatedAt = now
	entry := newAuditEntry(req.RequestID, ActionRequestApproved, actor, now, map[string]any{
		"request_status_from": string(req.Status),
		"request_status_to":   string(StatusApproved),
	})
	return out, entry, nil
}

// Reject administratively voids the whole request from any non-terminal
// state. Irreversible.
func Reject(req SignatureRequest, reason string, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if req.Terminal() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "reject", Status: string(req.Status)}
	}
	out := req.Clone()
	out.Status = StatusRejected
	out.UpdatedAt = now
	entry := newAuditEntry(req.RequestID, ActionRequestRejected, actor, now, map[string]any{
		"reason":              reason,
		"request_status_from": string(req.Status),
		"request_status_to":   string(StatusRejected),
	})
	return out, entry, nil
}

// Expire is invoked only by the deadline scheduler once now is past the due
// date. Signers still pending or in progress are expired with the request.
func Expire(req SignatureRequest, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if !req.Open() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "expire", Status: string(req.Status)}
	}
	if !now.After(req.DueDate) {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "expire", Status: string(req.Status), Reason: "due date not passed"}
	}
	out := req.Clone()
	for i := range out.Signers {
		if !out.Signers[i].Terminal() {
			out.Signers[i].Status = SignerExpired
		}
	}
	out.Status = StatusExpired
	out.UpdatedAt = now
	entry := newAuditEntry(req.RequestID, ActionRequestExpired, actor, now, map[string]any{
		"due_date":            req.DueDate.UTC().Format(time.RFC3339),
		"request_status_from": string(req.Status),
		"request_status_to":   string(StatusExpired),
	})
	return out, entry, nil
}

// ExtendDeadline moves the due date forward on an open request and resets the
// escalation counter so reminders recompute against the new date.
func ExtendDeadline(req SignatureRequest, newDue time.Time, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if !req.Open() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "extend_deadline", Status: string(req.Status)}
	}
	if !newDue.After(now) || !newDue.After(req.DueDate) {
		return SignatureRequest{}, AuditEntry{}, &ValidationError{Field: "due_date", Reason: "must be after now and the current due date"}
	}
	out := req.Clone()
	out.DueDate = newDue
	out.EscalationLevel = 0
	out.UpdatedAt = now
	entry := newAuditEntry(req.RequestID, ActionDeadlineExtended, actor, now, map[string]any{
		"due_date_from": req.DueDate.UTC().Format(time.RFC3339),
		"due_date_to":   newDue.UTC().Format(time.RFC3339),
	})
	return out, entry, nil
}

// RecordReminder bumps the escalation counter to level. The scheduler only
// calls this when level is strictly greater than the stored counter, which
// keeps re-runs at the same instant from emitting duplicates.
func RecordReminder(req SignatureRequest, level int, actor Actor, now time.Time) (SignatureRequest, AuditEntry, error) {
	if !req.Open() {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "remind", Status: string(req.Status)}
	}
	if level <= req.EscalationLevel {
		return SignatureRequest{}, AuditEntry{}, &InvalidStateError{Op: "remind", Status: string(req.Status), Reason: "escalation level already reached"}
	}
	out := req.Clone()
	out.EscalationLevel = level
	out.UpdatedAt = now
	entry := newAuditEntry(req.RequestID, ActionReminderSent, actor, now, map[string]any{
		"escalation_level": level,
		"due_date":         req.DueDate.UTC().Format(time.RFC3339),
	})
	return out, entry, nil
}
