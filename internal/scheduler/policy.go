package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signlane/pkg/domain"
)

// LoadPolicy reads an escalation policy from a YAML file, for example:
//
//	reminder_days: [7, 3, 1, 0]
//	urgent_reminder_days: [7, 3, 2, 1, 0]
//
// An empty path returns the default policy. Missing lists fall back to the
// defaults so a partial file stays valid.
func LoadPolicy(path string) (domain.EscalationPolicy, error) {
	policy := domain.DefaultEscalationPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.EscalationPolicy{}, fmt.Errorf("scheduler: read policy %s: %w", path, err)
	}
	var loaded domain.EscalationPolicy
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return domain.EscalationPolicy{}, fmt.Errorf("scheduler: decode policy %s: %w", path, err)
	}
	if len(loaded.ReminderDays) > 0 {
		policy.ReminderDays = loaded.ReminderDays
	}
	if len(loaded.UrgentReminderDays) > 0 {
		policy.UrgentReminderDays = loaded.UrgentReminderDays
	}
	for _, d := range append(append([]int{}, policy.ReminderDays...), policy.UrgentReminderDays...) {
		if d < 0 {
			return domain.EscalationPolicy{}, fmt.Errorf("scheduler: policy %s: reminder days must be >= 0", path)
		}
	}
	return policy, nil
}
