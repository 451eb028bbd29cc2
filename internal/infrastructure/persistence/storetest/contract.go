// Package storetest holds behaviour checks shared by every RequestStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// NewRequest returns a pending request at the admin stage
func NewRequest(id, email string) *entity.BudgetRequest {
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	return &entity.BudgetRequest{
		ID: id,
		Project: entity.ProjectRef{
			ID:       "1",
			Number:   "GP2024001",
			Title:    "AI Research in Healthcare",
			Category: entity.CategoryRecurring,
		},
		Requestor:     entity.Requestor{Name: "Dr. John Smith", Email: email},
		Amount:        decimal.RequireFromString("250000.50"),
		Purpose:       "GPU cluster time",
		Justification: "Model training",
		InvoiceNumber: "INV-001",
		Status:        entity.StatusPending,
		CurrentStage:  workflow.StageAdmin,
		CreatedAt:     created,
		Version:       1,
		ApprovalLogs: []entity.ApprovalLog{{
			Role:      workflow.RoleSubmitter,
			Action:    workflow.ActionCreated,
			Timestamp: created,
			Actor:     "Dr. John Smith",
		}},
	}
}

// forward mimics the engine's admin step
func forward(at time.Time) port.MutateFunc {
	return func(req *entity.BudgetRequest) error {
		if req.CurrentStage != workflow.StageAdmin {
			return workflow.ErrStageMismatch
		}
		if err := req.MarkStagePassed(workflow.StageAdmin, at); err != nil {
			return err
		}
		req.CurrentStage = workflow.StageReviewer1
		req.ApprovalLogs = append(req.ApprovalLogs, entity.ApprovalLog{
			Role:      workflow.RoleAdmin,
			Action:    workflow.ActionForwarded,
			Timestamp: at,
			Actor:     "Admin User",
			Remarks:   "ok",
		})
		req.Version++
		return nil
	}
}

// RunRequestStoreTests exercises the RequestStore contract against stores
// produced by newStore. Each subtest gets a fresh store.
func RunRequestStoreTests(t *testing.T, newStore func(t *testing.T) port.RequestStore) {
	ctx := context.Background()

	t.Run("insert and find round trip", func(t *testing.T) {
		store := newStore(t)
		req := NewRequest("req-1", "pi@ifms.edu")

		require.NoError(t, store.Insert(ctx, req))

		found, err := store.FindByID(ctx, "req-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, req.ID, found.ID)
		assert.Equal(t, req.Project, found.Project)
		assert.Equal(t, req.Requestor, found.Requestor)
		assert.True(t, req.Amount.Equal(found.Amount), "amount %s != %s", found.Amount, req.Amount)
		assert.Equal(t, req.Purpose, found.Purpose)
		assert.Equal(t, req.InvoiceNumber, found.InvoiceNumber)
		assert.Equal(t, entity.StatusPending, found.Status)
		assert.Equal(t, workflow.StageAdmin, found.CurrentStage)
		assert.True(t, req.CreatedAt.Equal(found.CreatedAt))
		require.Len(t, found.ApprovalLogs, 1)
		assert.Equal(t, workflow.ActionCreated, found.ApprovalLogs[0].Action)
		assert.Nil(t, found.AdminForwardedAt)
	})

	t.Run("find unknown returns nil", func(t *testing.T) {
		store := newStore(t)

		found, err := store.FindByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, NewRequest("req-1", "pi@ifms.edu")))

		err := store.Insert(ctx, NewRequest("req-1", "other@ifms.edu"))
		assert.True(t, errors.Is(err, workflow.ErrDuplicateID), "got %v", err)

		found, _ := store.FindByID(ctx, "req-1")
		assert.Equal(t, "pi@ifms.edu", found.Requestor.Email)
	})

	t.Run("returned requests are copies", func(t *testing.T) {
		store := newStore(t)
		req := NewRequest("req-1", "pi@ifms.edu")
		require.NoError(t, store.Insert(ctx, req))

		req.Status = entity.StatusRejected
		found, _ := store.FindByID(ctx, "req-1")
		found.CurrentStage = workflow.StageCompleted
		found.ApprovalLogs[0].Actor = "tampered"

		again, _ := store.FindByID(ctx, "req-1")
		assert.Equal(t, entity.StatusPending, again.Status)
		assert.Equal(t, workflow.StageAdmin, again.CurrentStage)
		assert.Equal(t, "Dr. John Smith", again.ApprovalLogs[0].Actor)
	})

	t.Run("update commits the mutation", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, NewRequest("req-1", "pi@ifms.edu")))
		at := time.Date(2024, 3, 16, 9, 30, 0, 0, time.UTC)

		updated, err := store.Update(ctx, "req-1", forward(at))
		require.NoError(t, err)
		assert.Equal(t, workflow.StageReviewer1, updated.CurrentStage)

		found, _ := store.FindByID(ctx, "req-1")
		assert.Equal(t, workflow.StageReviewer1, found.CurrentStage)
		assert.Equal(t, int64(2), found.Version)
		require.NotNil(t, found.AdminForwardedAt)
		assert.True(t, found.AdminForwardedAt.Equal(at))
		require.Len(t, found.ApprovalLogs, 2)
		assert.Equal(t, workflow.RoleAdmin, found.ApprovalLogs[1].Role)
		assert.Equal(t, "ok", found.ApprovalLogs[1].Remarks)
		assert.True(t, found.ApprovalLogs[1].Timestamp.Equal(at))
	})

	t.Run("failed update leaves the request unchanged", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, NewRequest("req-1", "pi@ifms.edu")))
		before, _ := store.FindByID(ctx, "req-1")

		boom := errors.New("boom")
		_, err := store.Update(ctx, "req-1", func(req *entity.BudgetRequest) error {
			req.CurrentStage = workflow.StageReviewer2
			req.ApprovalLogs = nil
			return boom
		})
		assert.ErrorIs(t, err, boom)

		after, _ := store.FindByID(ctx, "req-1")
		assert.Equal(t, before.CurrentStage, after.CurrentStage)
		assert.Equal(t, before.Version, after.Version)
		assert.Len(t, after.ApprovalLogs, 1)
	})

	t.Run("update of unknown request", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Update(ctx, "missing", func(*entity.BudgetRequest) error { return nil })
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("queries keep insertion order", func(t *testing.T) {
		store := newStore(t)
		for i := 1; i <= 4; i++ {
			email := "pi@ifms.edu"
			if i%2 == 0 {
				email = "other@ifms.edu"
			}
			require.NoError(t, store.Insert(ctx, NewRequest(fmt.Sprintf("req-%d", i), email)))
		}
		_, err := store.Update(ctx, "req-2", forward(time.Now().UTC()))
		require.NoError(t, err)

		all, err := store.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"req-1", "req-2", "req-3", "req-4"}, ids(all))

		atAdmin, err := store.FindByStage(ctx, workflow.StageAdmin)
		require.NoError(t, err)
		assert.Equal(t, []string{"req-1", "req-3", "req-4"}, ids(atAdmin))

		atReviewer1, err := store.FindByStage(ctx, workflow.StageReviewer1)
		require.NoError(t, err)
		assert.Equal(t, []string{"req-2"}, ids(atReviewer1))

		mine, err := store.FindByRequestor(ctx, "PI@ifms.edu")
		require.NoError(t, err)
		assert.Equal(t, []string{"req-1", "req-3"}, ids(mine))

		none, err := store.FindByRequestor(ctx, "nobody@ifms.edu")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("stage query skips completed requests", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, NewRequest("req-1", "pi@ifms.edu")))
		_, err := store.Update(ctx, "req-1", func(req *entity.BudgetRequest) error {
			at := req.CreatedAt.Add(time.Hour)
			req.Status = entity.StatusRejected
			req.CurrentStage = workflow.StageCompleted
			req.RejectedAt = &at
			req.RejectionRemarks = "out of scope"
			req.ApprovalLogs = append(req.ApprovalLogs, entity.ApprovalLog{
				Role: workflow.RoleAdmin, Action: workflow.ActionRejected, Timestamp: at, Actor: "Admin User", Remarks: "out of scope",
			})
			req.Version++
			return nil
		})
		require.NoError(t, err)

		atAdmin, _ := store.FindByStage(ctx, workflow.StageAdmin)
		assert.Empty(t, atAdmin)
		completed, _ := store.FindByStage(ctx, workflow.StageCompleted)
		assert.Empty(t, completed)

		found, _ := store.FindByID(ctx, "req-1")
		assert.Equal(t, entity.StatusRejected, found.Status)
		assert.Equal(t, "out of scope", found.RejectionRemarks)
		require.NotNil(t, found.RejectedAt)
		assert.NoError(t, found.CheckInvariants())
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Insert(ctx, NewRequest("req-1", "pi@ifms.edu")))

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Update(ctx, "req-1", forward(time.Now().UTC())); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		found, _ := store.FindByID(ctx, "req-1")
		assert.Len(t, found.ApprovalLogs, 2)
		assert.Equal(t, int64(2), found.Version)
	})
}

func ids(requests []*entity.BudgetRequest) []string {
	out := make([]string, len(requests))
	for i, r := range requests {
		out[i] = r.ID
	}
	return out
}
