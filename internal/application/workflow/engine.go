package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/budget-approval/internal/domain/entity"
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
	"github.com/garyjia/budget-approval/pkg/utils"
)

// WorkflowEngine is the only mutator of request workflow state. Every command
// returns the updated request or a *domainwf.TransitionError; failed commands
// leave the request unchanged.
type WorkflowEngine interface {
	// Submit creates a request at the admin stage
	Submit(ctx context.Context, req SubmitRequest) (*entity.BudgetRequest, error)

	// Forward moves a request from admin to reviewer1
	Forward(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error)

	// ApproveStage1 moves a request from reviewer1 to reviewer2
	ApproveStage1(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error)

	// ApproveStage2 moves a request from reviewer2 to finalAuthority
	ApproveStage2(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error)

	// ApproveFinal completes a request as approved
	ApproveFinal(ctx context.Context, id, actor, remarks string) (*entity.BudgetRequest, error)

	// Reject completes a request as rejected at the expected stage
	Reject(ctx context.Context, id string, expected domainwf.Stage, actor, remarks string) (*entity.BudgetRequest, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SubmitRequest is the payload of a new budget request
type SubmitRequest struct {
	Project       entity.ProjectRef
	Requestor     entity.Requestor
	Amount        decimal.Decimal
	Purpose       string
	Justification string
	InvoiceNumber string
}

// Validate checks the payload before a request is created
func (r SubmitRequest) Validate() error {
	var problems []string

	if strings.TrimSpace(r.Project.ID) == "" {
		problems = append(problems, "project id is required")
	}
	if !r.Project.Category.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown project category %q", r.Project.Category))
	}
	if strings.TrimSpace(r.Requestor.Name) == "" {
		problems = append(problems, "requestor name is required")
	}
	if email := strings.TrimSpace(r.Requestor.Email); email == "" {
		problems = append(problems, "requestor email is required")
	} else if err := utils.ValidateEmail(email); err != nil {
		problems = append(problems, err.Error())
	}
	if !r.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if strings.TrimSpace(r.Purpose) == "" {
		problems = append(problems, "purpose is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domainwf.ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}
