package domain

import (
	"fmt"
	"time"
)

type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

var severityDeduction = map[IssueSeverity]int{
	SeverityCritical: 40,
	SeverityHigh:     20,
	SeverityMedium:   10,
	SeverityLow:      5,
}

type ComplianceIssue struct {
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
	SignerID string        `json:"signer_id,omitempty"`
}

type LegalRequirement struct {
	Requirement string `json:"requirement"`
	Met         bool   `json:"met"`
	Evidence    string `json:"evidence"`
}

// Compliance is derived on demand; it is a structural health metric over the
// request and its audit trail, not a legal certification.
type Compliance struct {
	IsCompliant       bool               `json:"is_compliant"`
	ComplianceScore   int                `json:"compliance_score"`
	Issues            []ComplianceIssue  `json:"issues"`
	LegalRequirements []LegalRequirement `json:"legal_requirements"`
}

// EvaluateCompliance is a read-only analysis of a request plus its audit
// trail. The trail must be in creation order.
func EvaluateCompliance(req SignatureRequest, trail []AuditEntry, now time.Time) Compliance {
	var issues []ComplianceIssue

	overdue := now.After(req.DueDate)
	signedCount := 0
	for _, s := range req.Signers {
		if s.Status == SignerSigned {
			signedCount++
			if s.VerificationStatus == VerificationFailed {
				issues = append(issues, ComplianceIssue{
					Code:     "verification_failed",
					Severity: SeverityHigh,
					Message:  fmt.Sprintf("signature by %s failed external verification", s.Email),
					SignerID: s.SignerID,
				})
			}
			continue
		}
		if overdue && s.Status != SignerRejected {
			issues = append(issues, ComplianceIssue{
				Code:     "missing_signature",
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("signer %s has not signed and the due date has passed", s.Email),
				SignerID: s.SignerID,
			})
		}
	}

	allSignersSigned := len(req.Signers) > 0 && signedCount == len(req.Signers)
	if req.RequiresWitness && !req.Witness.Signed() && allSignersSigned {
		issues = append(issues, ComplianceIssue{
			Code:     "witness_required",
			Severity: SeverityCritical,
			Message:  "all signers have signed but the required witness has not",
		})
	}

	// Defensive check against a corrupted trail: signature entries must
	// reference signers that exist on the request.
	for _, e := range trail {
		if e.Action != ActionSignatureCompleted {
			continue
		}
		id, _ := e.Details["signer_id"].(string)
		if id == "" {
			continue
		}
		if _, ok := req.FindSigner(id); !ok {
			issues = append(issues, ComplianceIssue{
				Code:     "unauthorized_signer",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("audit trail records a signature by unknown signer %s", id),
				SignerID: id,
			})
		}
	}

	if len(trail) > 0 && VerifyChain(trail) >= 0 {
		issues = append(issues, ComplianceIssue{
			Code:     "audit_chain_broken",
			Severity: SeverityCritical,
			Message:  "audit trail hash chain does not verify",
		})
	}

	score := 100
	compliant := true
	for _, is := range issues {
		score -= severityDeduction[is.Severity]
		if is.Severity == SeverityCritical {
			compliant = false
		}
	}
	if score < 0 {
		score = 0
	}

	reqs := []LegalRequirement{
		{
			Requirement: "all signing parties have executed the document",
			Met:         allSignersSigned,
			Evidence:    fmt.Sprintf("%d of %d signers signed", signedCount, len(req.Signers)),
		},
		{
			Requirement: "audit trail opens with request creation",
			Met:         len(trail) > 0 && trail[0].Action == ActionRequestCreated,
			Evidence:    fmt.Sprintf("%d audit entries", len(trail)),
		},
	}
	if req.RequiresWitness {
		evidence := "witness has not signed"
		if req.Witness.Signed() {
			evidence = "witness signed at " + req.Witness.SignedAt.UTC().Format(time.RFC3339)
		}
		reqs = append(reqs, LegalRequirement{
			Requirement: "witness co-signature",
			Met:         req.Witness.Signed(),
			Evidence:    evidence,
		})
	}

	return Compliance{
		IsCompliant:       compliant,
		ComplianceScore:   score,
		Issues:            issues,
		LegalRequirements: reqs,
	}
}
