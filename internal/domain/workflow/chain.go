package workflow

// Step is one link of the approval chain: the party acting at Stage, how the
// action is recorded and where the request goes next.
type Step struct {
	Stage   Stage
	Role    Role
	Action  Action
	Trigger Trigger
	Next    Stage
}

// chain is the only place the approval order is defined.
var chain = []Step{
	{Stage: StageAdmin, Role: RoleAdmin, Action: ActionForwarded, Trigger: TriggerForward, Next: StageReviewer1},
	{Stage: StageReviewer1, Role: RoleReviewer1, Action: ActionApproved, Trigger: TriggerApproveStage1, Next: StageReviewer2},
	{Stage: StageReviewer2, Role: RoleReviewer2, Action: ActionApproved, Trigger: TriggerApproveStage2, Next: StageFinalAuthority},
	{Stage: StageFinalAuthority, Role: RoleFinalAuthority, Action: ActionApproved, Trigger: TriggerApproveFinal, Next: StageCompleted},
}

// Chain returns a copy of the approval chain in order
func Chain() []Step {
	return append([]Step(nil), chain...)
}

// StepForTrigger returns the chain step advanced by the trigger
func StepForTrigger(trigger Trigger) (Step, bool) {
	for _, s := range chain {
		if s.Trigger == trigger {
			return s, true
		}
	}
	return Step{}, false
}

// StepAt returns the chain step that acts at the given stage
func StepAt(stage Stage) (Step, bool) {
	for _, s := range chain {
		if s.Stage == stage {
			return s, true
		}
	}
	return Step{}, false
}

// RoleAt returns the role that acts at a pending stage
func RoleAt(stage Stage) (Role, bool) {
	s, ok := StepAt(stage)
	if !ok {
		return "", false
	}
	return s.Role, true
}
