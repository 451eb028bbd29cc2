package workflow

// Stage is the position of a budget request in the approval chain: the party
// whose action is awaited.
type Stage string

const (
	StageAdmin          Stage = "admin"
	StageReviewer1      Stage = "reviewer1"
	StageReviewer2      Stage = "reviewer2"
	StageFinalAuthority Stage = "finalAuthority"
	StageCompleted      Stage = "completed"
)

var validStages = map[Stage]bool{
	StageAdmin:          true,
	StageReviewer1:      true,
	StageReviewer2:      true,
	StageFinalAuthority: true,
	StageCompleted:      true,
}

var terminalStages = map[Stage]bool{
	StageCompleted: true,
}

var stageLabels = map[Stage]string{
	StageAdmin:          "ADMIN",
	StageReviewer1:      "REVIEWER 1",
	StageReviewer2:      "REVIEWER 2",
	StageFinalAuthority: "FINAL AUTHORITY",
	StageCompleted:      "COMPLETED",
}

// IsTerminal returns true if no further transitions are allowed from the stage
func (s Stage) IsTerminal() bool {
	return terminalStages[s]
}

// IsPending returns true for the four stages where a party still has to act
func (s Stage) IsPending() bool {
	return s.IsValid() && !s.IsTerminal()
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// IsValid returns true if the stage is a known workflow stage
func (s Stage) IsValid() bool {
	return validStages[s]
}

// Label returns the human readable label of the stage
func (s Stage) Label() string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return string(s)
}

// PendingStages returns the stages that await an action, in chain order
func PendingStages() []Stage {
	return []Stage{StageAdmin, StageReviewer1, StageReviewer2, StageFinalAuthority}
}

// Role is the acting party recorded on an approval log entry.
type Role string

const (
	RoleSubmitter      Role = "submitter"
	RoleAdmin          Role = "admin"
	RoleReviewer1      Role = "reviewer1"
	RoleReviewer2      Role = "reviewer2"
	RoleFinalAuthority Role = "finalAuthority"
)

var roleLabels = map[Role]string{
	RoleSubmitter:      "SUBMITTER",
	RoleAdmin:          "ADMIN",
	RoleReviewer1:      "REVIEWER 1",
	RoleReviewer2:      "REVIEWER 2",
	RoleFinalAuthority: "FINAL AUTHORITY",
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid returns true if the role is a known workflow role
func (r Role) IsValid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the human readable label of the role
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}

// Action is what happened in an approval log entry.
type Action string

const (
	ActionCreated   Action = "created"
	ActionForwarded Action = "forwarded"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
)

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// IsValid returns true if the action is a known log action
func (a Action) IsValid() bool {
	switch a {
	case ActionCreated, ActionForwarded, ActionApproved, ActionRejected:
		return true
	default:
		return false
	}
}
