// Package bulk applies one administrative action across many requests. Each
// request goes through the normal engine operation independently; one failure
// never aborts the remaining items.
package bulk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signlane/internal/engine"
	"signlane/pkg/domain"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRemind  Action = "remind"
	ActionExtend  Action = "extend"
)

func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionRemind, ActionExtend:
		return true
	}
	return false
}

// Params carries the action-specific arguments shared by every item.
type Params struct {
	Reason     string     `json:"reason,omitempty"`
	NewDueDate *time.Time `json:"new_due_date,omitempty"`
}

type Request struct {
	RequestIDs []string `json:"request_ids"`
	Action     Action   `json:"action"`
	Params     Params   `json:"params"`
}

type Failure struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

type Result struct {
	Success []string  `json:"success"`
	Failed  []Failure `json:"failed"`
}

type Coordinator struct {
	engine *engine.Engine
	log    *zap.Logger
}

func New(e *engine.Engine, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{engine: e, log: log}
}

// Apply runs the action over every request id in order. Malformed input fails
// the whole call; per-request refusals (unknown id, illegal transition,
// version conflict) land in Failed and processing continues. Partial success
// is the expected outcome.
func (c *Coordinator) Apply(ctx context.Context, in Request, actor domain.Actor) (Result, error) {
	if len(in.RequestIDs) == 0 {
		return Result{}, &domain.ValidationError{Field: "request_ids", Reason: "must not be empty"}
	}
	if !in.Action.Valid() {
		return Result{}, &domain.ValidationError{Field: "action", Reason: "unknown action " + string(in.Action)}
	}
	if in.Action == ActionExtend && in.Params.NewDueDate == nil {
		return Result{}, &domain.ValidationError{Field: "params.new_due_date", Reason: "required for extend"}
	}

	res := Result{Success: []string{}, Failed: []Failure{}}
	for _, id := range in.RequestIDs {
		if err := c.applyOne(ctx, id, in, actor); err != nil {
			res.Failed = append(res.Failed, Failure{RequestID: id, Error: err.Error()})
			continue
		}
		res.Success = append(res.Success, id)
	}
	c.log.Info("bulk action applied",
		zap.String("action", string(in.Action)),
		zap.Int("succeeded", len(res.Success)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

func (c *Coordinator) applyOne(ctx context.Context, id string, in Request, actor domain.Actor) error {
	switch in.Action {
	case ActionApprove:
		_, err := c.engine.Approve(ctx, id, actor)
		return err
	case ActionReject:
		_, err := c.engine.Reject(ctx, id, in.Params.Reason, actor)
		return err
	case ActionExtend:
		_, err := c.engine.ExtendDeadline(ctx, id, *in.Params.NewDueDate, actor)
		return err
	case ActionRemind:
		req, err := c.engine.Get(ctx, id)
		if err != nil {
			return err
		}
		_, err = c.engine.Escalate(ctx, id, req.EscalationLevel+1)
		return err
	}
	return &domain.ValidationError{Field: "action", Reason: "unknown action " + string(in.Action)}
}
