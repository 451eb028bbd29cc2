package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Summary aggregates the request book for dashboards
type Summary struct {
	Total          int                    `json:"total"`
	Pending        int                    `json:"pending"`
	Approved       int                    `json:"approved"`
	Rejected       int                    `json:"rejected"`
	PendingByStage map[workflow.Stage]int `json:"pending_by_stage"`
	PendingAmount  decimal.Decimal        `json:"pending_amount"`
	ApprovedAmount decimal.Decimal        `json:"approved_amount"`
	RejectedAmount decimal.Decimal        `json:"rejected_amount"`
}

// QueryService answers read-only questions about budget requests. It never
// mutates the store.
type QueryService interface {
	GetByID(ctx context.Context, id string) (*entity.BudgetRequest, error)
	ListByStage(ctx context.Context, stage workflow.Stage) ([]*entity.BudgetRequest, error)
	ListByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error)
	ListAll(ctx context.Context) ([]*entity.BudgetRequest, error)
	ListCompleted(ctx context.Context) ([]*entity.BudgetRequest, error)
	StageLabel(req *entity.BudgetRequest) string
	PendingCountsByStage(ctx context.Context) (map[workflow.Stage]int, error)
	PendingAmount(ctx context.Context) (decimal.Decimal, error)
	Summary(ctx context.Context) (*Summary, error)
}

type queryServiceImpl struct {
	store  port.RequestStore
	logger Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(store port.RequestStore, logger Logger) QueryService {
	return &queryServiceImpl{
		store:  store,
		logger: logger,
	}
}

// GetByID returns the request or nil if it does not exist
func (s *queryServiceImpl) GetByID(ctx context.Context, id string) (*entity.BudgetRequest, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get request", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get request %s: %w", id, err)
	}
	return req, nil
}

// ListByStage returns pending requests waiting at a stage in creation order.
// The completed stage never has pending requests.
func (s *queryServiceImpl) ListByStage(ctx context.Context, stage workflow.Stage) ([]*entity.BudgetRequest, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", workflow.ErrInvalidStage, stage)
	}
	if stage.IsTerminal() {
		return []*entity.BudgetRequest{}, nil
	}

	requests, err := s.store.FindByStage(ctx, stage)
	if err != nil {
		s.logger.Error("Failed to list requests by stage", "stage", stage.String(), "error", err)
		return nil, fmt.Errorf("failed to list requests at %s: %w", stage, err)
	}
	return requests, nil
}

// ListByRequestor returns every request submitted by the identity
func (s *queryServiceImpl) ListByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error) {
	requests, err := s.store.FindByRequestor(ctx, email)
	if err != nil {
		s.logger.Error("Failed to list requests by requestor", "requestor", email, "error", err)
		return nil, fmt.Errorf("failed to list requests for %s: %w", email, err)
	}
	return requests, nil
}

// ListAll returns every request in creation order
func (s *queryServiceImpl) ListAll(ctx context.Context) ([]*entity.BudgetRequest, error) {
	requests, err := s.store.All(ctx)
	if err != nil {
		s.logger.Error("Failed to list requests", "error", err)
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// ListCompleted returns approved and rejected requests in creation order
func (s *queryServiceImpl) ListCompleted(ctx context.Context) ([]*entity.BudgetRequest, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	completed := make([]*entity.BudgetRequest, 0, len(all))
	for _, req := range all {
		if !req.IsPending() {
			completed = append(completed, req)
		}
	}
	return completed, nil
}

// StageLabel returns the display label for where a request stands
func (s *queryServiceImpl) StageLabel(req *entity.BudgetRequest) string {
	if req == nil {
		return ""
	}
	return req.StageLabel()
}

// PendingCountsByStage counts pending requests per stage; every pending
// stage is present in the result
func (s *queryServiceImpl) PendingCountsByStage(ctx context.Context) (map[workflow.Stage]int, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return summary.PendingByStage, nil
}

// PendingAmount sums the amounts of all pending requests
func (s *queryServiceImpl) PendingAmount(ctx context.Context) (decimal.Decimal, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.PendingAmount, nil
}

// Summary computes counts and amount totals over all requests
func (s *queryServiceImpl) Summary(ctx context.Context) (*Summary, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Total:          len(all),
		PendingByStage: make(map[workflow.Stage]int),
		PendingAmount:  decimal.Zero,
		ApprovedAmount: decimal.Zero,
		RejectedAmount: decimal.Zero,
	}
	for _, stage := range workflow.PendingStages() {
		summary.PendingByStage[stage] = 0
	}

	for _, req := range all {
		switch req.Status {
		case entity.StatusPending:
			summary.Pending++
			summary.PendingByStage[req.CurrentStage]++
			summary.PendingAmount = summary.PendingAmount.Add(req.Amount)
		case entity.StatusApproved:
			summary.Approved++
			summary.ApprovedAmount = summary.ApprovedAmount.Add(req.Amount)
		case entity.StatusRejected:
			summary.Rejected++
			summary.RejectedAmount = summary.RejectedAmount.Add(req.Amount)
		}
	}

	return summary, nil
}
