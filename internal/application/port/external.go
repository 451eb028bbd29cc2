package port

import (
	"context"
	"io"

	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// WorkflowMetrics records workflow outcomes for monitoring
type WorkflowMetrics interface {
	// ObserveSubmission counts a new request
	ObserveSubmission(category entity.ProjectCategory)

	// ObserveTransition counts a committed transition out of a stage
	ObserveTransition(from workflow.Stage, action workflow.Action)

	// ObserveFailure counts a rejected command by operation and failure kind
	ObserveFailure(op string, err error)
}

// ReportExporter renders requests into a downloadable report
type ReportExporter interface {
	Export(ctx context.Context, w io.Writer, requests []*entity.BudgetRequest) error
	ContentType() string
}
