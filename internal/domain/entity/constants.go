package entity

// Status is the coarse lifecycle classification of a budget request
type Status string

// Status constants for BudgetRequest
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid returns true if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// ProjectCategory classifies the parent project of a request
type ProjectCategory string

// Project category constants
const (
	CategoryRecurring    ProjectCategory = "recurring"
	CategoryNonRecurring ProjectCategory = "non-recurring"
)

// IsValid returns true if the category is known
func (c ProjectCategory) IsValid() bool {
	return c == CategoryRecurring || c == CategoryNonRecurring
}
