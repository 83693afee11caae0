package domain

import "time"

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusSigned     RequestStatus = "signed"
	StatusRejected   RequestStatus = "rejected"
	StatusApproved   RequestStatus = "approved"
	StatusExpired    RequestStatus = "expired"
)

type SignerStatus string

const (
	SignerPending    SignerStatus = "pending"
	SignerInProgress SignerStatus = "in_progress"
	SignerSigned     SignerStatus = "signed"
	SignerRejected   SignerStatus = "rejected"
	SignerExpired    SignerStatus = "expired"
)

type SignerRole string

const (
	RoleClient          SignerRole = "client"
	RoleServiceProvider SignerRole = "service_provider"
	RoleEmployee        SignerRole = "employee"
	RoleHRManager       SignerRole = "hr_manager"
	RoleWitness         SignerRole = "witness"
	RoleOther           SignerRole = "other"
)

func (r SignerRole) Valid() bool {
	switch r {
	case RoleClient, RoleServiceProvider, RoleEmployee, RoleHRManager, RoleWitness, RoleOther:
		return true
	}
	return false
}

type SignatureMethod string

const (
	MethodDraw   SignatureMethod = "draw"
	MethodType   SignatureMethod = "type"
	MethodUpload SignatureMethod = "upload"
)

func (m SignatureMethod) Valid() bool {
	switch m {
	case MethodDraw, MethodType, MethodUpload:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

type Signer struct {
	SignerID           string             `json:"signer_id"`
	Name               string             `json:"name"`
	Email              string             `json:"email"`
	Role               SignerRole         `json:"role"`
	Status             SignerStatus       `json:"status"`
	SignedAt           *time.Time         `json:"signed_at,omitempty"`
	SignatureData      string             `json:"signature_data,omitempty"`
	SignatureMethod    SignatureMethod    `json:"signature_method,omitempty"`
	IPAddress          string             `json:"ip_address,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
}

// Terminal reports whether the signer can no longer act. Signed and rejected
// are absorbing per-signer states; expired is produced only by the scheduler.
func (s Signer) Terminal() bool {
	return s.Status == SignerSigned || s.Status == SignerRejected || s.Status == SignerExpired
}

type Witness struct {
	Email         string     `json:"witness_email"`
	Name          string     `json:"witness_name"`
	SignedAt      *time.Time `json:"witness_signed_at,omitempty"`
	SignatureData string     `json:"witness_signature_data,omitempty"`
	IPAddress     string     `json:"witness_ip_address,omitempty"`
}

func (w *Witness) Signed() bool { return w != nil && w.SignedAt != nil }

type SignatureRequest struct {
	RequestID       string         `json:"request_id"`
	DocumentTitle   string         `json:"document_title"`
	DocumentURL     string         `json:"document_url,omitempty"`
	Status          RequestStatus  `json:"status"`
	Signers         []Signer       `json:"signers"`
	RequiresWitness bool           `json:"requires_witness"`
	Witness         *Witness       `json:"witness,omitempty"`
	IsUrgent        bool           `json:"is_urgent"`
	Message         string         `json:"message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedBy       string         `json:"created_by"`
	DueDate         time.Time      `json:"due_date"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	EscalationLevel int            `json:"escalation_level"`
	Version         int64          `json:"version"`
}

// Terminal reports whether the request admits no further signer or witness
// mutation.
func (r SignatureRequest) Terminal() bool {
	switch r.Status {
	case StatusSigned, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Open reports whether the request is still eligible for expiry and
// reminders.
func (r SignatureRequest) Open() bool {
	return r.Status == StatusPending || r.Status == StatusInProgress
}

func (r SignatureRequest) FindSigner(signerID string) (int, bool) {
	for i := range r.Signers {
		if r.Signers[i].SignerID == signerID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so transitions never alias the caller's value.
func (r SignatureRequest) Clone() SignatureRequest {
	out := r
	out.Signers = make([]Signer, len(r.Signers))
	copy(out.Signers, r.Signers)
	if r.Witness != nil {
		w := *r.Witness
		out.Witness = &w
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// DeriveStatus computes the request-level status from the signer set and the
// witness gate. It is the single source of truth for signer-driven statuses;
// approved and expired are administrative and never derived here.
func DeriveStatus(signers []Signer, requiresWitness bool, witness *Witness) RequestStatus {
	allSigned := len(signers) > 0
	anyProgress := false
	for _, s := range signers {
		if s.Status == SignerRejected {
			return StatusRejected
		}
		if s.Status != SignerSigned {
			allSigned = false
		}
		if s.Status != SignerPending {
			anyProgress = true
		}
	}
	if allSigned && (!requiresWitness || witness.Signed()) {
		return StatusSigned
	}
	if anyProgress || (requiresWitness && witness.Signed()) {
		return StatusInProgress
	}
	return StatusPending
}
