package domain

import (
	"sort"
	"time"
)

// Deadline is the derived timing view of a request at a given instant.
type Deadline struct {
	DueDate         time.Time `json:"due_date"`
	IsOverdue       bool      `json:"is_overdue"`
	DaysRemaining   int       `json:"days_remaining"`
	HoursRemaining  int       `json:"hours_remaining"`
	EscalationLevel int       `json:"escalation_level"`
}

// ComputeDeadline derives the timing view. Days remaining is the ceiling of
// the interval to the due date and goes negative once overdue.
func ComputeDeadline(req SignatureRequest, now time.Time) Deadline {
	remaining := req.DueDate.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	hours := int(remaining / time.Hour)
	if remaining%time.Hour > 0 {
		hours++
	}
	return Deadline{
		DueDate:         req.DueDate,
		IsOverdue:       now.After(req.DueDate),
		DaysRemaining:   days,
		HoursRemaining:  hours,
		EscalationLevel: req.EscalationLevel,
	}
}

// EscalationPolicy lists the day marks before the due date at which a
// reminder fires. Zero means "on the due date". Urgent requests may carry a
// denser cadence.
type EscalationPolicy struct {
	ReminderDays       []int `yaml:"reminder_days"`
	UrgentReminderDays []int `yaml:"urgent_reminder_days"`
}

func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		ReminderDays:       []int{7, 3, 1, 0},
		UrgentReminderDays: []int{7, 3, 2, 1, 0},
	}
}

func (p EscalationPolicy) thresholds(urgent bool) []int {
	days := p.ReminderDays
	if urgent && len(p.UrgentReminderDays) > 0 {
		days = p.UrgentReminderDays
	}
	out := make([]int, len(days))
	copy(out, days)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// LevelAt returns how many reminder thresholds have been crossed at now.
// A threshold of d days is crossed once now reaches due_date minus d days.
// The result is a pure function of (request, now), which is what makes the
// scheduler sweep idempotent.
func (p EscalationPolicy) LevelAt(req SignatureRequest, now time.Time) int {
	level := 0
	for _, d := range p.thresholds(req.IsUrgent) {
		mark := req.DueDate.Add(-time.Duration(d) * 24 * time.Hour)
		if !now.Before(mark) {
			level++
		}
	}
	return level
}
