package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
	"github.com/garyjia/budget-approval/internal/infrastructure/persistence/storetest"
	"github.com/garyjia/budget-approval/migrations"
	"github.com/garyjia/budget-approval/pkg/database"
)

func newTestStore(t *testing.T) (*RequestStore, *database.DB) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "budget.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Apply(context.Background(), migrations.FS))

	return NewRequestStore(NewDB(db, logger), logger), db
}

func TestRequestStore(t *testing.T) {
	storetest.RunRequestStoreTests(t, func(t *testing.T) port.RequestStore {
		store, _ := newTestStore(t)
		return store
	})
}

func TestRequestStore_SurvivesReopen(t *testing.T) {
	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "budget.db")
	ctx := context.Background()

	db, err := database.New(database.Config{Path: path}, logger)
	require.NoError(t, err)
	require.NoError(t, database.NewMigrator(db, logger).Apply(context.Background(), migrations.FS))
	store := NewRequestStore(NewDB(db, logger), logger)
	require.NoError(t, store.Insert(ctx, storetest.NewRequest("req-1", "pi@ifms.edu")))
	require.NoError(t, db.Close())

	db, err = database.New(database.Config{Path: path}, logger)
	require.NoError(t, err)
	defer db.Close()
	store = NewRequestStore(NewDB(db, logger), logger)

	found, err := store.FindByID(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "250000.5", found.Amount.String())
	assert.Len(t, found.ApprovalLogs, 1)
}

func TestRequestStore_RejectsLogRewrite(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, storetest.NewRequest("req-1", "pi@ifms.edu")))

	_, err := store.Update(ctx, "req-1", func(req *entity.BudgetRequest) error {
		req.ApprovalLogs[0].Actor = "someone else"
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rewrite")

	_, err = store.Update(ctx, "req-1", func(req *entity.BudgetRequest) error {
		req.ApprovalLogs = nil
		return nil
	})
	require.Error(t, err)

	found, _ := store.FindByID(ctx, "req-1")
	assert.Equal(t, "Dr. John Smith", found.ApprovalLogs[0].Actor)
}

func TestRequestStore_NestedTransactionJoinsOuter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := store.Insert(txCtx, storetest.NewRequest("req-1", "pi@ifms.edu")); err != nil {
			return err
		}
		_, err := store.Update(txCtx, "req-1", func(req *entity.BudgetRequest) error {
			req.Justification = "ignored by the update statement"
			return nil
		})
		if err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	found, err := store.FindByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, found, "rolled back insert should not be visible")
}

func TestRequestStore_UpdateStageColumns(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, storetest.NewRequest("req-1", "pi@ifms.edu")))

	updated, err := store.Update(ctx, "req-1", func(req *entity.BudgetRequest) error {
		req.CurrentStage = workflow.StageReviewer1
		req.Version++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	atReviewer1, err := store.FindByStage(ctx, workflow.StageReviewer1)
	require.NoError(t, err)
	require.Len(t, atReviewer1, 1)
	assert.Equal(t, "req-1", atReviewer1[0].ID)
}

func TestRequestStore_ListsBeyondBoundVariableLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("inserts tens of thousands of rows")
	}

	store, _ := newTestStore(t)
	ctx := context.Background()

	// SQLite refuses statements with more than 32766 bound variables
	const total = 33000
	err := store.db.WithTransaction(ctx, func(txCtx context.Context) error {
		for i := 0; i < total; i++ {
			if err := store.Insert(txCtx, storetest.NewRequest(fmt.Sprintf("req-%05d", i), "pi@ifms.edu")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, total)
	assert.Equal(t, "req-00000", all[0].ID)
	assert.Equal(t, "req-32999", all[total-1].ID)
	for _, req := range all {
		require.Len(t, req.ApprovalLogs, 1, req.ID)
	}

	byRequestor, err := store.FindByRequestor(ctx, "PI@ifms.edu")
	require.NoError(t, err)
	assert.Len(t, byRequestor, total)

	atAdmin, err := store.FindByStage(ctx, workflow.StageAdmin)
	require.NoError(t, err)
	assert.Len(t, atAdmin, total)
}

func TestRequestStore_VersionConflictIsStageMismatch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, storetest.NewRequest("req-1", "pi@ifms.edu")))

	err := store.db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := store.Update(txCtx, "req-1", func(req *entity.BudgetRequest) error {
			// a competing writer bumps the version after the row was read
			_, err := store.db.conn(txCtx).ExecContext(txCtx,
				"UPDATE budget_requests SET version = version + 1 WHERE id = ?", "req-1")
			req.CurrentStage = workflow.StageReviewer1
			req.Version++
			return err
		})
		return err
	})

	require.ErrorIs(t, err, ErrVersionConflict)
	assert.ErrorIs(t, err, workflow.ErrStageMismatch)
	assert.Equal(t, "stage_mismatch", workflow.Kind(err))
}
