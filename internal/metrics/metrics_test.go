package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.ObserveSubmission(entity.CategoryRecurring)
	r.ObserveSubmission(entity.CategoryRecurring)
	r.ObserveTransition(workflow.StageAdmin, workflow.ActionForwarded)
	r.ObserveFailure("reject", workflow.ErrMissingRemarks)
	r.ObserveFailure("forward", &workflow.TransitionError{Op: "forward", Err: workflow.ErrStageMismatch})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.submissions.WithLabelValues("recurring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("forwarded", "admin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("reject", "missing_remarks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("forward", "stage_mismatch")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveTransition(workflow.StageReviewer1, workflow.ActionApproved)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `budget_workflow_transitions_total{action="approved",stage="reviewer1"} 1`)
}
