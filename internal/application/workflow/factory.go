package workflow

import (
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
)

// BuildBudgetStateMachine creates a state machine configured from the approval
// chain: each pending stage advances on its own trigger and may be rejected.
func BuildBudgetStateMachine(initial domainwf.Stage) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	for _, step := range domainwf.Chain() {
		builder.Configure(step.Stage).
			Permit(step.Trigger, step.Next).
			Permit(domainwf.TriggerReject, domainwf.StageCompleted)
	}

	// COMPLETED is terminal - no outgoing transitions

	return builder.Build(initial)
}
