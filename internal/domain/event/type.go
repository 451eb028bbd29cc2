package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted Type = "request.submitted"
	TypeRequestForwarded Type = "request.forwarded"
	TypeRequestApproved  Type = "request.approved"
	TypeRequestRejected  Type = "request.rejected"
	TypeRequestCompleted Type = "request.completed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeRequestForwarded,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCompleted:
		return true
	default:
		return false
	}
}

// AllTypes returns every defined event type
func AllTypes() []Type {
	return []Type{
		TypeRequestSubmitted,
		TypeRequestForwarded,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCompleted,
	}
}
