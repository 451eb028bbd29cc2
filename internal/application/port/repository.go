package port

import (
	"context"

	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// MutateFunc changes a private copy of a request. Returning an error discards
// the copy and leaves the stored request untouched.
type MutateFunc func(req *entity.BudgetRequest) error

// RequestStore is the authoritative holder of budget requests. Returned
// requests are copies; changes only reach the store through Update.
type RequestStore interface {
	// Insert adds a new request; fails with workflow.ErrDuplicateID if the ID exists
	Insert(ctx context.Context, req *entity.BudgetRequest) error

	// FindByID returns the request, or nil with no error when it does not exist
	FindByID(ctx context.Context, id string) (*entity.BudgetRequest, error)

	// FindByStage returns pending requests at the stage in insertion order
	FindByStage(ctx context.Context, stage workflow.Stage) ([]*entity.BudgetRequest, error)

	// FindByRequestor returns every request submitted by the identity in insertion order
	FindByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error)

	// All returns every request in insertion order
	All(ctx context.Context) ([]*entity.BudgetRequest, error)

	// Update atomically applies fn to the request with the given ID and commits
	// the result. Concurrent updates on one ID are serialized. Fails with
	// workflow.ErrNotFound for unknown IDs.
	Update(ctx context.Context, id string, fn MutateFunc) (*entity.BudgetRequest, error)
}
