package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// ProjectRef links a budget request to its parent project
type ProjectRef struct {
	ID       string          `json:"id"`
	Number   string          `json:"number"`
	Title    string          `json:"title"`
	Category ProjectCategory `json:"category"`
}

// Requestor identifies the investigator who submitted the request.
// Email is the requestor identity used for lookups.
type Requestor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ApprovalLog is one immutable fact about the workflow of a request
type ApprovalLog struct {
	Role      workflow.Role   `json:"role"`
	Action    workflow.Action `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
	Actor     string          `json:"actor"`
	Remarks   string          `json:"remarks,omitempty"`
}

// BudgetRequest is the unit of work travelling through the approval chain.
// Workflow fields are only changed by the workflow engine through the store's
// update path.
type BudgetRequest struct {
	ID            string          `json:"id"`
	Project       ProjectRef      `json:"project"`
	Requestor     Requestor       `json:"requestor"`
	Amount        decimal.Decimal `json:"amount"`
	Purpose       string          `json:"purpose"`
	Justification string          `json:"justification"`
	InvoiceNumber string          `json:"invoice_number"`

	Status       Status         `json:"status"`
	CurrentStage workflow.Stage `json:"current_stage"`

	AdminForwardedAt    *time.Time `json:"admin_forwarded_at,omitempty"`
	Reviewer1ApprovedAt *time.Time `json:"reviewer1_approved_at,omitempty"`
	Reviewer2ApprovedAt *time.Time `json:"reviewer2_approved_at,omitempty"`
	FinalApprovedAt     *time.Time `json:"final_approved_at,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	RejectionRemarks    string     `json:"rejection_remarks,omitempty"`

	ApprovalLogs []ApprovalLog `json:"approval_logs"`

	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"version"`
}

// IsPending returns true while a party still has to act on the request
func (r *BudgetRequest) IsPending() bool {
	return r.Status == StatusPending
}

// Clone returns a deep copy of the request
func (r *BudgetRequest) Clone() *BudgetRequest {
	if r == nil {
		return nil
	}

	c := *r
	c.AdminForwardedAt = cloneTime(r.AdminForwardedAt)
	c.Reviewer1ApprovedAt = cloneTime(r.Reviewer1ApprovedAt)
	c.Reviewer2ApprovedAt = cloneTime(r.Reviewer2ApprovedAt)
	c.FinalApprovedAt = cloneTime(r.FinalApprovedAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.ApprovalLogs = append([]ApprovalLog(nil), r.ApprovalLogs...)
	return &c
}

// StageTimestamp returns the completion timestamp recorded for a pending stage
func (r *BudgetRequest) StageTimestamp(stage workflow.Stage) *time.Time {
	switch stage {
	case workflow.StageAdmin:
		return r.AdminForwardedAt
	case workflow.StageReviewer1:
		return r.Reviewer1ApprovedAt
	case workflow.StageReviewer2:
		return r.Reviewer2ApprovedAt
	case workflow.StageFinalAuthority:
		return r.FinalApprovedAt
	default:
		return nil
	}
}

// MarkStagePassed records the completion time of a pending stage. The
// timestamp is set once; a second call returns an error.
func (r *BudgetRequest) MarkStagePassed(stage workflow.Stage, at time.Time) error {
	var slot **time.Time
	switch stage {
	case workflow.StageAdmin:
		slot = &r.AdminForwardedAt
	case workflow.StageReviewer1:
		slot = &r.Reviewer1ApprovedAt
	case workflow.StageReviewer2:
		slot = &r.Reviewer2ApprovedAt
	case workflow.StageFinalAuthority:
		slot = &r.FinalApprovedAt
	default:
		return fmt.Errorf("%w: %s has no completion timestamp", workflow.ErrInvalidStage, stage)
	}

	if *slot != nil {
		return fmt.Errorf("stage %s already passed at %s", stage, (*slot).Format(time.RFC3339))
	}
	t := at
	*slot = &t
	return nil
}

// LastLogTime returns the timestamp of the most recent log entry
func (r *BudgetRequest) LastLogTime() time.Time {
	if len(r.ApprovalLogs) == 0 {
		return time.Time{}
	}
	return r.ApprovalLogs[len(r.ApprovalLogs)-1].Timestamp
}

// RejectedBy returns the role that rejected the request, if any
func (r *BudgetRequest) RejectedBy() (workflow.Role, bool) {
	for _, l := range r.ApprovalLogs {
		if l.Action == workflow.ActionRejected {
			return l.Role, true
		}
	}
	return "", false
}

// StageLabel returns a display label for the current position of the request.
// Rejected requests name the role that rejected them.
func (r *BudgetRequest) StageLabel() string {
	switch r.Status {
	case StatusRejected:
		if role, ok := r.RejectedBy(); ok {
			return "REJECTED BY " + role.Label()
		}
		return "REJECTED"
	case StatusApproved:
		return workflow.StageCompleted.Label()
	default:
		return r.CurrentStage.Label()
	}
}

// CheckInvariants verifies that stage, status, timestamps and logs agree
func (r *BudgetRequest) CheckInvariants() error {
	if len(r.ApprovalLogs) == 0 {
		return fmt.Errorf("request %s has no approval logs", r.ID)
	}

	first := r.ApprovalLogs[0]
	if first.Action != workflow.ActionCreated || first.Role != workflow.RoleSubmitter {
		return fmt.Errorf("request %s: first log is %s/%s, want submitter/created", r.ID, first.Role, first.Action)
	}

	if !r.Status.IsValid() || !r.CurrentStage.IsValid() {
		return fmt.Errorf("request %s: unknown status %q or stage %q", r.ID, r.Status, r.CurrentStage)
	}
	if (r.Status == StatusPending) != r.CurrentStage.IsPending() {
		return fmt.Errorf("request %s: status %s inconsistent with stage %s", r.ID, r.Status, r.CurrentStage)
	}

	for i, l := range r.ApprovalLogs {
		if i > 0 && l.Action == workflow.ActionCreated {
			return fmt.Errorf("request %s: duplicate created log at %d", r.ID, i)
		}
		if i > 0 && l.Timestamp.Before(r.ApprovalLogs[i-1].Timestamp) {
			return fmt.Errorf("request %s: log %d goes back in time", r.ID, i)
		}
	}

	// Non-created logs must mirror the stage timestamps that have been set
	var passed []workflow.Stage
	for _, stage := range workflow.PendingStages() {
		if r.StageTimestamp(stage) != nil {
			passed = append(passed, stage)
		}
	}

	rest := r.ApprovalLogs[1:]
	rejected := r.Status == StatusRejected
	want := len(passed)
	if rejected {
		want++
	}
	if len(rest) != want {
		return fmt.Errorf("request %s: %d transition logs for %d recorded stages", r.ID, len(rest), want)
	}
	for i, stage := range passed {
		step, _ := workflow.StepAt(stage)
		if rest[i].Role != step.Role || rest[i].Action != step.Action {
			return fmt.Errorf("request %s: log %d is %s/%s, want %s/%s", r.ID, i+1, rest[i].Role, rest[i].Action, step.Role, step.Action)
		}
	}

	if rejected {
		last := rest[len(rest)-1]
		if last.Action != workflow.ActionRejected || r.RejectedAt == nil || r.RejectionRemarks == "" {
			return fmt.Errorf("request %s: rejection metadata incomplete", r.ID)
		}
	} else if r.RejectedAt != nil {
		return fmt.Errorf("request %s: rejection time set on a %s request", r.ID, r.Status)
	}

	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
