package service

import (
	"context"
	"fmt"

	"github.com/garyjia/budget-approval/internal/domain/event"
	"github.com/garyjia/budget-approval/internal/domain/workflow"
)

// AuditTrail writes one log line per workflow event
type AuditTrail struct {
	logger Logger
}

// NewAuditTrail creates an audit trail handler
func NewAuditTrail(logger Logger) *AuditTrail {
	return &AuditTrail{logger: logger}
}

// Handle is a dispatcher.Handler
func (a *AuditTrail) Handle(ctx context.Context, evt *event.Event) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}

	a.logger.Info(Describe(evt),
		"event_id", evt.ID,
		"event_type", evt.Type.String(),
		"request_id", evt.RequestID,
		"correlation_id", evt.CorrelationID,
		"actor", evt.GetPayloadString("actor"),
	)
	return nil
}

// Describe renders a short human readable sentence for an event
func Describe(evt *event.Event) string {
	actor := evt.GetPayloadString("actor")
	to := workflow.Stage(evt.GetPayloadString("to_stage"))

	switch evt.Type {
	case event.TypeRequestSubmitted:
		return fmt.Sprintf("%s submitted budget request %s for %s", actor, evt.RequestID, evt.GetPayloadString("amount"))
	case event.TypeRequestForwarded:
		return fmt.Sprintf("%s forwarded budget request %s to %s", actor, evt.RequestID, to.Label())
	case event.TypeRequestApproved:
		if to.IsTerminal() {
			return fmt.Sprintf("%s granted final approval for budget request %s", actor, evt.RequestID)
		}
		return fmt.Sprintf("%s approved budget request %s, now with %s", actor, evt.RequestID, to.Label())
	case event.TypeRequestRejected:
		return fmt.Sprintf("%s rejected budget request %s: %s", actor, evt.RequestID, evt.GetPayloadString("remarks"))
	case event.TypeRequestCompleted:
		return fmt.Sprintf("Budget request %s completed with status %s", evt.RequestID, evt.GetPayloadString("status"))
	default:
		return fmt.Sprintf("Budget request %s: %s", evt.RequestID, evt.Type)
	}
}
