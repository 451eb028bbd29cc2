package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/budget-approval/internal/application/dispatcher"
	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/event"
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	store      port.RequestStore
	dispatcher dispatcher.Dispatcher
	metrics    port.WorkflowMetrics
	logger     Logger

	now   func() time.Time
	newID func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithMetrics sets the recorder for workflow outcomes
func WithMetrics(m port.WorkflowMetrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides the time source used for log timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithIDGenerator overrides how new request IDs are produced
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = newID
	}
}

// NewEngine creates a new workflow engine
func NewEngine(store port.RequestStore, opts ...EngineOption) WorkflowEngine {
	e := &engineImpl{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Submit validates the payload and stores a new request at the admin stage
func (e *engineImpl) Submit(ctx context.Context, in SubmitRequest) (*entity.BudgetRequest, error) {
	if err := in.Validate(); err != nil {
		return nil, e.fail("submit", &domainwf.TransitionError{Op: "submit", Err: err})
	}

	created := e.now()
	req := &entity.BudgetRequest{
		ID: e.newID(),
		Project: entity.ProjectRef{
			ID:       strings.TrimSpace(in.Project.ID),
			Number:   strings.TrimSpace(in.Project.Number),
			Title:    strings.TrimSpace(in.Project.Title),
			Category: in.Project.Category,
		},
		Requestor: entity.Requestor{
			Name:  strings.TrimSpace(in.Requestor.Name),
			Email: strings.TrimSpace(in.Requestor.Email),
		},
		Amount:        in.Amount,
		Purpose:       strings.TrimSpace(in.Purpose),
		Justification: strings.TrimSpace(in.Justification),
		InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
		Status:        entity.StatusPending,
		CurrentStage:  domainwf.StageAdmin,
		CreatedAt:     created,
		Version:       1,
		ApprovalLogs: []entity.ApprovalLog{{
			Role:      domainwf.RoleSubmitter,
			Action:    domainwf.ActionCreated,
			Timestamp: created,
			Actor:     strings.TrimSpace(in.Requestor.Name),
		}},
	}

	if err := e.store.Insert(ctx, req); err != nil {
		if errors.Is(err, domainwf.ErrDuplicateID) {
			err = &domainwf.TransitionError{Op: "submit", RequestID: req.ID, Err: domainwf.ErrDuplicateID}
		} else {
			err = fmt.Errorf("submit %s: %w", req.ID, err)
		}
		return nil, e.fail("submit", err)
	}

	if e.metrics != nil {
		e.metrics.ObserveSubmission(req.Project.Category)
	}
	e.logInfo("Budget request submitted",
		"request_id", req.ID,
		"project", req.Project.Number,
		"requestor", req.Requestor.Email,
		"amount", req.Amount.String(),
	)

	e.emit(ctx, event.TypeRequestSubmitted, req, map[string]interface{}{
		"actor":           req.Requestor.Name,
		"requestor_email": req.Requestor.Email,
		"project_number":  req.Project.Number,
		"category":        string(req.Project.Category),
		"amount":          req.Amount.String(),
		"stage":           req.CurrentStage.String(),
	})

	return req, nil
}

// Forward moves a request from admin to reviewer1
func (e *engineImpl) Forward(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error) {
	return e.advance(ctx, "forward", domainwf.TriggerForward, id, actor, remarks)
}

// ApproveStage1 moves a request from reviewer1 to reviewer2
func (e *engineImpl) ApproveStage1(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error) {
	return e.advance(ctx, "approve_stage1", domainwf.TriggerApproveStage1, id, actor, remarks)
}

// ApproveStage2 moves a request from reviewer2 to finalAuthority
func (e *engineImpl) ApproveStage2(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error) {
	return e.advance(ctx, "approve_stage2", domainwf.TriggerApproveStage2, id, actor, remarks)
}

// ApproveFinal completes a request as approved
func (e *engineImpl) ApproveFinal(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error) {
	return e.advance(ctx, "approve_final", domainwf.TriggerApproveFinal, id, actor, remarks)
}

// Reject completes a request as rejected. Remarks are checked before the
// request is looked up.
func (e *engineImpl) Reject(ctx context.Context, id string, expected domainwf.Stage, actor, remarks string) (*entity.BudgetRequest, error) {
	if strings.TrimSpace(remarks) == "" {
		return nil, e.fail("reject", &domainwf.TransitionError{Op: "reject", RequestID: id, Err: domainwf.ErrMissingRemarks})
	}
	return e.transition(ctx, "reject", domainwf.TriggerReject, id, expected, actor, remarks)
}

func (e *engineImpl) advance(ctx context.Context, op string, trigger domainwf.Trigger, id, actor, remarks string) (*entity.BudgetRequest, error) {
	step, ok := domainwf.StepForTrigger(trigger)
	if !ok {
		return nil, fmt.Errorf("%s: trigger %s is not part of the approval chain", op, trigger)
	}
	return e.transition(ctx, op, trigger, id, step.Stage, actor, remarks)
}

// transition applies one chain step or a rejection at the expected stage
// inside the store's atomic update.
func (e *engineImpl) transition(
	ctx context.Context,
	op string,
	trigger domainwf.Trigger,
	id string,
	expected domainwf.Stage,
	actor, remarks string,
) (*entity.BudgetRequest, error) {
	actor = strings.TrimSpace(actor)
	remarks = strings.TrimSpace(remarks)

	if actor == "" {
		return nil, e.fail(op, &domainwf.TransitionError{
			Op:        op,
			RequestID: id,
			Err:       fmt.Errorf("%w: actor is required", domainwf.ErrInvalidRequest),
		})
	}

	var entry entity.ApprovalLog

	updated, err := e.store.Update(ctx, id, func(req *entity.BudgetRequest) error {
		if !req.IsPending() {
			return &domainwf.TransitionError{Op: op, RequestID: id, Expected: expected, Actual: req.CurrentStage, Err: domainwf.ErrNotPending}
		}
		if req.CurrentStage != expected {
			return &domainwf.TransitionError{Op: op, RequestID: id, Expected: expected, Actual: req.CurrentStage, Err: domainwf.ErrStageMismatch}
		}

		machine := BuildBudgetStateMachine(req.CurrentStage)
		if err := machine.Fire(ctx, trigger); err != nil {
			if errors.Is(err, domainwf.ErrInvalidTransition) {
				return &domainwf.TransitionError{Op: op, RequestID: id, Expected: expected, Actual: req.CurrentStage, Err: domainwf.ErrStageMismatch}
			}
			return err
		}

		// Log timestamps never go backwards, even if the clock does
		at := e.now()
		if last := req.LastLogTime(); at.Before(last) {
			at = last
		}

		role, _ := domainwf.RoleAt(expected)
		entry = entity.ApprovalLog{Role: role, Timestamp: at, Actor: actor, Remarks: remarks}

		if trigger == domainwf.TriggerReject {
			entry.Action = domainwf.ActionRejected
			req.Status = entity.StatusRejected
			req.RejectedAt = &at
			req.RejectionRemarks = remarks
		} else {
			step, _ := domainwf.StepAt(expected)
			entry.Action = step.Action
			if err := req.MarkStagePassed(expected, at); err != nil {
				return err
			}
			if machine.State().IsTerminal() {
				req.Status = entity.StatusApproved
			}
		}

		req.CurrentStage = machine.State()
		req.ApprovalLogs = append(req.ApprovalLogs, entry)
		req.Version++
		return nil
	})

	if err != nil {
		var te *domainwf.TransitionError
		switch {
		case errors.As(err, &te):
		case errors.Is(err, domainwf.ErrNotFound):
			err = &domainwf.TransitionError{Op: op, RequestID: id, Err: domainwf.ErrNotFound}
		default:
			err = fmt.Errorf("%s %s: %w", op, id, err)
		}
		return nil, e.fail(op, err)
	}

	if e.metrics != nil {
		e.metrics.ObserveTransition(expected, entry.Action)
	}
	e.logInfo("Budget request transitioned",
		"request_id", id,
		"op", op,
		"from", expected.String(),
		"to", updated.CurrentStage.String(),
		"status", string(updated.Status),
		"actor", actor,
	)

	payload := map[string]interface{}{
		"actor":      actor,
		"role":       entry.Role.String(),
		"action":     entry.Action.String(),
		"from_stage": expected.String(),
		"to_stage":   updated.CurrentStage.String(),
		"status":     string(updated.Status),
		"remarks":    remarks,
	}
	e.emit(ctx, eventTypeFor(entry.Action), updated, payload)
	if !updated.IsPending() {
		e.emit(ctx, event.TypeRequestCompleted, updated, payload)
	}

	return updated, nil
}

func eventTypeFor(action domainwf.Action) event.Type {
	switch action {
	case domainwf.ActionForwarded:
		return event.TypeRequestForwarded
	case domainwf.ActionRejected:
		return event.TypeRequestRejected
	default:
		return event.TypeRequestApproved
	}
}

// emit fires events after commit so handlers never observe uncommitted state
func (e *engineImpl) emit(ctx context.Context, typ event.Type, req *entity.BudgetRequest, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	// Queued per subscriber, so each one sees a request's events in commit order
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(typ, req.ID, payload))
}

func (e *engineImpl) fail(op string, err error) error {
	if e.metrics != nil {
		e.metrics.ObserveFailure(op, err)
	}
	e.logError("Workflow command rejected", "op", op, "kind", domainwf.Kind(err), "error", err.Error())
	return err
}

func (e *engineImpl) logInfo(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *engineImpl) logError(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}
