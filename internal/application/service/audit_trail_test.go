package service

import (
	"context"
	"testing"

	"github.com/garyjia/budget-approval/internal/domain/event"
)

type recordingLogger struct {
	infos []string
}

func (r *recordingLogger) Info(msg string, keysAndValues ...interface{}) {
	r.infos = append(r.infos, msg)
}

func (r *recordingLogger) Error(msg string, keysAndValues ...interface{}) {}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		typ     event.Type
		payload map[string]interface{}
		want    string
	}{
		{"submitted", event.TypeRequestSubmitted,
			map[string]interface{}{"actor": "Dr. John Smith", "amount": "250000"},
			"Dr. John Smith submitted budget request req-1 for 250000"},
		{"forwarded", event.TypeRequestForwarded,
			map[string]interface{}{"actor": "Admin User", "to_stage": "reviewer1"},
			"Admin User forwarded budget request req-1 to REVIEWER 1"},
		{"approved mid chain", event.TypeRequestApproved,
			map[string]interface{}{"actor": "R1", "to_stage": "reviewer2"},
			"R1 approved budget request req-1, now with REVIEWER 2"},
		{"final approval", event.TypeRequestApproved,
			map[string]interface{}{"actor": "FA", "to_stage": "completed"},
			"FA granted final approval for budget request req-1"},
		{"rejected", event.TypeRequestRejected,
			map[string]interface{}{"actor": "R2", "remarks": "over budget"},
			"R2 rejected budget request req-1: over budget"},
		{"completed", event.TypeRequestCompleted,
			map[string]interface{}{"status": "approved"},
			"Budget request req-1 completed with status approved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := event.NewEvent(tt.typ, "req-1", tt.payload)
			if got := Describe(evt); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuditTrail_Handle(t *testing.T) {
	logger := &recordingLogger{}
	trail := NewAuditTrail(logger)

	evt := event.NewEvent(event.TypeRequestForwarded, "req-1", map[string]interface{}{"actor": "Admin User", "to_stage": "reviewer1"})
	if err := trail.Handle(context.Background(), evt); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(logger.infos) != 1 || logger.infos[0] != "Admin User forwarded budget request req-1 to REVIEWER 1" {
		t.Errorf("logged %v", logger.infos)
	}

	if err := trail.Handle(context.Background(), nil); err == nil {
		t.Error("Handle(nil) should fail")
	}
}
