// Package scheduler runs the periodic deadline sweep. It is the only actor
// allowed to expire requests, and it derives everything from (request, now)
// so re-running a sweep at the same instant changes nothing.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"signlane/internal/engine"
	"signlane/pkg/domain"
)

type Scheduler struct {
	engine *engine.Engine
	policy domain.EscalationPolicy
	log    *zap.Logger

	now func() time.Time
}

func New(e *engine.Engine, policy domain.EscalationPolicy, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: e, policy: policy, log: log, now: time.Now}
}

type SweepResult struct {
	Scanned   int `json:"scanned"`
	Reminders int `json:"reminders"`
	Expired   int `json:"expired"`
	Skipped   int `json:"skipped"`
}

// Sweep walks every open request once. Overdue requests are expired;
// otherwise the escalation level implied by the policy is compared to the
// stored counter and a reminder is recorded for each request that crossed a
// new threshold. Concurrent signer activity is benign: the engine re-reads
// state and refuses transitions that no longer apply, and those refusals are
// counted as skips rather than failures.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	open, err := s.engine.ListOpen(ctx)
	if err != nil {
		return res, err
	}
	now := s.now()
	for _, req := range open {
		res.Scanned++
		if now.After(req.DueDate) {
			if _, err := s.engine.Expire(ctx, req.RequestID); err != nil {
				if benign(err) {
					res.Skipped++
					continue
				}
				s.log.Error("expire failed", zap.String("request_id", req.RequestID), zap.Error(err))
				continue
			}
			res.Expired++
			continue
		}
		level := s.policy.LevelAt(req, now)
		if level <= req.EscalationLevel {
			continue
		}
		if _, err := s.engine.Escalate(ctx, req.RequestID, level); err != nil {
			if benign(err) {
				res.Skipped++
				continue
			}
			s.log.Error("escalation failed", zap.String("request_id", req.RequestID), zap.Error(err))
			continue
		}
		res.Reminders++
	}
	s.log.Info("sweep complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("reminders", res.Reminders),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// benign reports transitions lost to a concurrent writer or no longer legal
// because the request moved on since the sweep listed it.
func benign(err error) bool {
	var ise *domain.InvalidStateError
	var cc *domain.ConcurrencyConflictError
	return errors.As(err, &ise) || errors.As(err, &cc)
}
