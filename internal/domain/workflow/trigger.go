package workflow

// Trigger represents a command that can cause a stage transition
type Trigger string

const (
	TriggerForward       Trigger = "FORWARD"
	TriggerApproveStage1 Trigger = "APPROVE_STAGE1"
	TriggerApproveStage2 Trigger = "APPROVE_STAGE2"
	TriggerApproveFinal  Trigger = "APPROVE_FINAL"
	TriggerReject        Trigger = "REJECT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
