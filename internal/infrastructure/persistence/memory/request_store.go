// Package memory provides an in-memory request store for tests and
// ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

var _ port.RequestStore = (*RequestStore)(nil)

// RequestStore keeps requests in a map guarded by a single lock. Callers only
// ever see clones.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]*entity.BudgetRequest
	order    []string
}

// NewRequestStore creates an empty store
func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]*entity.BudgetRequest),
	}
}

// Insert adds a new request
func (s *RequestStore) Insert(ctx context.Context, req *entity.BudgetRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("request with an ID is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("%w: %s", workflow.ErrDuplicateID, req.ID)
	}
	s.requests[req.ID] = req.Clone()
	s.order = append(s.order, req.ID)
	return nil
}

// FindByID returns a copy of the request or nil if it does not exist
func (s *RequestStore) FindByID(ctx context.Context, id string) (*entity.BudgetRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.requests[id].Clone(), nil
}

// FindByStage returns pending requests waiting at the stage
func (s *RequestStore) FindByStage(ctx context.Context, stage workflow.Stage) ([]*entity.BudgetRequest, error) {
	return s.filter(ctx, func(r *entity.BudgetRequest) bool {
		return r.IsPending() && r.CurrentStage == stage
	})
}

// FindByRequestor returns requests submitted by the email, compared case-insensitively
func (s *RequestStore) FindByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error) {
	email = strings.TrimSpace(email)
	return s.filter(ctx, func(r *entity.BudgetRequest) bool {
		return strings.EqualFold(r.Requestor.Email, email)
	})
}

// All returns every request in insertion order
func (s *RequestStore) All(ctx context.Context) ([]*entity.BudgetRequest, error) {
	return s.filter(ctx, func(*entity.BudgetRequest) bool { return true })
}

// Update applies fn to a clone and swaps it in only when fn succeeds
func (s *RequestStore) Update(ctx context.Context, id string, fn port.MutateFunc) (*entity.BudgetRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.requests[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.ID != id {
		return nil, fmt.Errorf("update of %s attempted to change the request ID", id)
	}

	s.requests[id] = working
	return working.Clone(), nil
}

func (s *RequestStore) filter(ctx context.Context, keep func(*entity.BudgetRequest) bool) ([]*entity.BudgetRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entity.BudgetRequest, 0)
	for _, id := range s.order {
		if r := s.requests[id]; keep(r) {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}
