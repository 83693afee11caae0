package domain

import "time"

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderOpened    ReminderStatus = "opened"
	ReminderClicked   ReminderStatus = "clicked"
)

func (s ReminderStatus) Valid() bool {
	switch s {
	case ReminderPending, ReminderSent, ReminderFailed, ReminderDelivered, ReminderOpened, ReminderClicked:
		return true
	}
	return false
}

// Reminder is the persisted intent handed to the external delivery
// collaborator when an escalation threshold fires. Delivery status flows back
// through the reminder record and never triggers a request transition.
type Reminder struct {
	ReminderID      string         `json:"reminder_id"`
	RequestID       string         `json:"request_id"`
	EscalationLevel int            `json:"escalation_level"`
	Recipients      []string       `json:"recipients"`
	Status          ReminderStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// PendingRecipients lists the emails of parties still expected to act.
func PendingRecipients(req SignatureRequest) []string {
	var out []string
	for _, s := range req.Signers {
		if !s.Terminal() {
			out = append(out, s.Email)
		}
	}
	if req.RequiresWitness && req.Witness != nil && !req.Witness.Signed() {
		out = append(out, req.Witness.Email)
	}
	return out
}
