package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/budget-approval/internal/application/dispatcher"
	"github.com/garyjia/budget-approval/internal/application/port"
	"github.com/garyjia/budget-approval/internal/domain/entity"
	"github.com/garyjia/budget-approval/internal/domain/event"
	domainwf "github.com/garyjia/budget-approval/internal/domain/workflow"
)

// Mock implementations

type mockStore struct {
	mu        sync.Mutex
	requests  map[string]*entity.BudgetRequest
	order     []string
	updateErr error
}

func newMockStore() *mockStore {
	return &mockStore{requests: make(map[string]*entity.BudgetRequest)}
}

func (m *mockStore) Insert(ctx context.Context, req *entity.BudgetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.ID]; exists {
		return domainwf.ErrDuplicateID
	}
	m.requests[req.ID] = req.Clone()
	m.order = append(m.order, req.ID)
	return nil
}

func (m *mockStore) FindByID(ctx context.Context, id string) (*entity.BudgetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id].Clone(), nil
}

func (m *mockStore) FindByStage(ctx context.Context, stage domainwf.Stage) ([]*entity.BudgetRequest, error) {
	return nil, nil
}

func (m *mockStore) FindByRequestor(ctx context.Context, email string) ([]*entity.BudgetRequest, error) {
	return nil, nil
}

func (m *mockStore) All(ctx context.Context) ([]*entity.BudgetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entity.BudgetRequest, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.requests[id].Clone())
	}
	return result, nil
}

func (m *mockStore) Update(ctx context.Context, id string, fn port.MutateFunc) (*entity.BudgetRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	current, exists := m.requests[id]
	if !exists {
		return nil, domainwf.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	m.requests[id] = working
	return working.Clone(), nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, name string, handler dispatcher.Handler) {}
func (m *mockDispatcher) SubscribeAll(name string, handler dispatcher.Handler)                  {}
func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string)                         {}
func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo            { return nil }
func (m *mockDispatcher) Close() error                                                          { return nil }

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = m.Dispatch(ctx, evt)
}

func (m *mockDispatcher) Types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]event.Type, len(m.events))
	for i, evt := range m.events {
		types[i] = evt.Type
	}
	return types
}

type mockMetrics struct {
	mu          sync.Mutex
	submissions int
	transitions []string
	failures    []string
}

func (m *mockMetrics) ObserveSubmission(category entity.ProjectCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions++
}

func (m *mockMetrics) ObserveTransition(from domainwf.Stage, action domainwf.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, fmt.Sprintf("%s/%s", from, action))
}

func (m *mockMetrics) ObserveFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, fmt.Sprintf("%s/%s", op, domainwf.Kind(err)))
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// stepClock returns a clock that advances one minute per call
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(time.Minute)
		return t
	}
}

func validSubmission() SubmitRequest {
	return SubmitRequest{
		Project: entity.ProjectRef{
			ID:       "1",
			Number:   "GP2024001",
			Title:    "AI Research in Healthcare",
			Category: entity.CategoryRecurring,
		},
		Requestor:     entity.Requestor{Name: "Dr. John Smith", Email: "pi@ifms.edu"},
		Amount:        decimal.NewFromInt(250000),
		Purpose:       "GPU cluster time",
		Justification: "Model training for the second project phase",
		InvoiceNumber: "INV-001",
	}
}

type fixture struct {
	engine     WorkflowEngine
	store      *mockStore
	dispatcher *mockDispatcher
	metrics    *mockMetrics
}

func newFixture(opts ...EngineOption) *fixture {
	f := &fixture{
		store:      newMockStore(),
		dispatcher: &mockDispatcher{},
		metrics:    &mockMetrics{},
	}
	base := []EngineOption{
		WithDispatcher(f.dispatcher),
		WithMetrics(f.metrics),
		WithLogger(&mockLogger{}),
		WithClock(stepClock(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))),
	}
	f.engine = NewEngine(f.store, append(base, opts...)...)
	return f
}

func (f *fixture) submit(t *testing.T) *entity.BudgetRequest {
	t.Helper()
	req, err := f.engine.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return req
}

// advanceTo moves a fresh request forward until it sits at the target stage
func (f *fixture) advanceTo(t *testing.T, id string, target domainwf.Stage) {
	t.Helper()
	ctx := context.Background()
	for _, step := range domainwf.Chain() {
		if step.Stage == target {
			return
		}
		var err error
		switch step.Trigger {
		case domainwf.TriggerForward:
			_, err = f.engine.Forward(ctx, id, "Admin User", "")
		case domainwf.TriggerApproveStage1:
			_, err = f.engine.ApproveStage1(ctx, id, "Reviewer One", "")
		case domainwf.TriggerApproveStage2:
			_, err = f.engine.ApproveStage2(ctx, id, "Reviewer Two", "")
		case domainwf.TriggerApproveFinal:
			_, err = f.engine.ApproveFinal(ctx, id, "Final Authority", "")
		}
		if err != nil {
			t.Fatalf("advance through %s: %v", step.Stage, err)
		}
	}
}

func assertKind(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
	var te *domainwf.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("error %v is not a *TransitionError", err)
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(WithIDGenerator(func() string { return "req-1" }))

	req := f.submit(t)

	if req.ID != "req-1" {
		t.Errorf("ID = %q, want req-1", req.ID)
	}
	if req.Status != entity.StatusPending || req.CurrentStage != domainwf.StageAdmin {
		t.Errorf("new request is %s at %s, want pending at admin", req.Status, req.CurrentStage)
	}
	if len(req.ApprovalLogs) != 1 {
		t.Fatalf("new request has %d logs, want 1", len(req.ApprovalLogs))
	}
	first := req.ApprovalLogs[0]
	if first.Role != domainwf.RoleSubmitter || first.Action != domainwf.ActionCreated || first.Actor != "Dr. John Smith" {
		t.Errorf("first log = %+v", first)
	}
	if !first.Timestamp.Equal(req.CreatedAt) {
		t.Errorf("created log at %v, request created at %v", first.Timestamp, req.CreatedAt)
	}
	for _, stage := range domainwf.PendingStages() {
		if req.StageTimestamp(stage) != nil {
			t.Errorf("stage %s timestamp set on a new request", stage)
		}
	}
	if err := req.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() error = %v", err)
	}

	stored, _ := f.store.FindByID(context.Background(), "req-1")
	if !reflect.DeepEqual(stored, req) {
		t.Errorf("stored request differs from returned request")
	}

	if got := f.dispatcher.Types(); len(got) != 1 || got[0] != event.TypeRequestSubmitted {
		t.Errorf("events = %v, want [request.submitted]", got)
	}
	if f.metrics.submissions != 1 {
		t.Errorf("submissions = %d, want 1", f.metrics.submissions)
	}
}

func TestSubmit_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"zero amount", func(r *SubmitRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *SubmitRequest) { r.Amount = decimal.NewFromInt(-5) }},
		{"missing project", func(r *SubmitRequest) { r.Project.ID = " " }},
		{"unknown category", func(r *SubmitRequest) { r.Project.Category = "one-off" }},
		{"missing requestor name", func(r *SubmitRequest) { r.Requestor.Name = "" }},
		{"missing requestor email", func(r *SubmitRequest) { r.Requestor.Email = "" }},
		{"malformed requestor email", func(r *SubmitRequest) { r.Requestor.Email = "pi-at-ifms" }},
		{"missing purpose", func(r *SubmitRequest) { r.Purpose = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			in := validSubmission()
			tt.mutate(&in)

			req, err := f.engine.Submit(context.Background(), in)
			if req != nil {
				t.Error("Submit() should not return a request on failure")
			}
			assertKind(t, err, domainwf.ErrInvalidRequest)

			all, _ := f.store.All(context.Background())
			if len(all) != 0 {
				t.Errorf("store holds %d requests, want 0", len(all))
			}
			if len(f.dispatcher.Types()) != 0 {
				t.Error("failed submission should not emit events")
			}
		})
	}
}

func TestSubmit_DuplicateID(t *testing.T) {
	f := newFixture(WithIDGenerator(func() string { return "fixed" }))
	f.submit(t)

	_, err := f.engine.Submit(context.Background(), validSubmission())
	assertKind(t, err, domainwf.ErrDuplicateID)

	if len(f.metrics.failures) != 1 || f.metrics.failures[0] != "submit/duplicate_id" {
		t.Errorf("failures = %v", f.metrics.failures)
	}
}

func TestFullApprovalChain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := f.submit(t)

	steps := []struct {
		name      string
		run       func() (*entity.BudgetRequest, error)
		wantStage domainwf.Stage
		wantRole  domainwf.Role
		wantAct   domainwf.Action
	}{
		{"forward", func() (*entity.BudgetRequest, error) { return f.engine.Forward(ctx, req.ID, "Admin User", "documents verified") },
			domainwf.StageReviewer1, domainwf.RoleAdmin, domainwf.ActionForwarded},
		{"approve stage 1", func() (*entity.BudgetRequest, error) { return f.engine.ApproveStage1(ctx, req.ID, "Reviewer One", "") },
			domainwf.StageReviewer2, domainwf.RoleReviewer1, domainwf.ActionApproved},
		{"approve stage 2", func() (*entity.BudgetRequest, error) { return f.engine.ApproveStage2(ctx, req.ID, "Reviewer Two", "") },
			domainwf.StageFinalAuthority, domainwf.RoleReviewer2, domainwf.ActionApproved},
		{"approve final", func() (*entity.BudgetRequest, error) { return f.engine.ApproveFinal(ctx, req.ID, "Final Authority", "granted") },
			domainwf.StageCompleted, domainwf.RoleFinalAuthority, domainwf.ActionApproved},
	}

	var current *entity.BudgetRequest
	for i, step := range steps {
		var err error
		current, err = step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if current.CurrentStage != step.wantStage {
			t.Errorf("%s: stage = %s, want %s", step.name, current.CurrentStage, step.wantStage)
		}
		if len(current.ApprovalLogs) != i+2 {
			t.Fatalf("%s: %d logs, want %d", step.name, len(current.ApprovalLogs), i+2)
		}
		last := current.ApprovalLogs[len(current.ApprovalLogs)-1]
		if last.Role != step.wantRole || last.Action != step.wantAct {
			t.Errorf("%s: log = %s/%s, want %s/%s", step.name, last.Role, last.Action, step.wantRole, step.wantAct)
		}
		if err := current.CheckInvariants(); err != nil {
			t.Errorf("%s: CheckInvariants() error = %v", step.name, err)
		}
	}

	if current.Status != entity.StatusApproved {
		t.Errorf("status = %s, want approved", current.Status)
	}
	if current.RejectedAt != nil || current.RejectionRemarks != "" {
		t.Error("approved request carries rejection data")
	}
	for _, stage := range domainwf.PendingStages() {
		if current.StageTimestamp(stage) == nil {
			t.Errorf("stage %s timestamp not set", stage)
		}
	}
	if current.ApprovalLogs[1].Remarks != "documents verified" {
		t.Errorf("forward remarks = %q", current.ApprovalLogs[1].Remarks)
	}
	if !current.Amount.Equal(decimal.NewFromInt(250000)) {
		t.Errorf("amount changed to %s", current.Amount)
	}
	if current.Version != 5 {
		t.Errorf("version = %d, want 5", current.Version)
	}

	wantEvents := []event.Type{
		event.TypeRequestSubmitted,
		event.TypeRequestForwarded,
		event.TypeRequestApproved,
		event.TypeRequestApproved,
		event.TypeRequestApproved,
		event.TypeRequestCompleted,
	}
	if got := f.dispatcher.Types(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events = %v, want %v", got, wantEvents)
	}

	wantTransitions := []string{"admin/forwarded", "reviewer1/approved", "reviewer2/approved", "finalAuthority/approved"}
	if !reflect.DeepEqual(f.metrics.transitions, wantTransitions) {
		t.Errorf("transitions = %v, want %v", f.metrics.transitions, wantTransitions)
	}
}

func TestForwardThenRejectAtReviewer1(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req := f.submit(t)
	if req.CurrentStage != domainwf.StageAdmin || req.Status != entity.StatusPending || len(req.ApprovalLogs) != 1 {
		t.Fatalf("submitted request = %s/%s with %d logs", req.CurrentStage, req.Status, len(req.ApprovalLogs))
	}

	forwarded, err := f.engine.Forward(ctx, req.ID, "Admin User", "")
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if forwarded.CurrentStage != domainwf.StageReviewer1 || forwarded.AdminForwardedAt == nil || len(forwarded.ApprovalLogs) != 2 {
		t.Fatalf("forwarded request = %s, forwarded at %v, %d logs", forwarded.CurrentStage, forwarded.AdminForwardedAt, len(forwarded.ApprovalLogs))
	}

	rejected, err := f.engine.Reject(ctx, req.ID, domainwf.StageReviewer1, "R1", "insufficient justification")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if rejected.Status != entity.StatusRejected || rejected.CurrentStage != domainwf.StageCompleted {
		t.Errorf("rejected request = %s/%s", rejected.CurrentStage, rejected.Status)
	}
	if rejected.RejectionRemarks != "insufficient justification" {
		t.Errorf("RejectionRemarks = %q", rejected.RejectionRemarks)
	}
	if len(rejected.ApprovalLogs) != 3 {
		t.Fatalf("%d logs, want 3", len(rejected.ApprovalLogs))
	}
	last := rejected.ApprovalLogs[2]
	if last.Action != domainwf.ActionRejected || last.Role != domainwf.RoleReviewer1 || last.Actor != "R1" {
		t.Errorf("last log = %+v", last)
	}
}

func TestReject_AtEachStage(t *testing.T) {
	for _, stage := range domainwf.PendingStages() {
		t.Run(stage.String(), func(t *testing.T) {
			f := newFixture()
			req := f.submit(t)
			f.advanceTo(t, req.ID, stage)

			rejected, err := f.engine.Reject(context.Background(), req.ID, stage, "Someone", "insufficient justification")
			if err != nil {
				t.Fatalf("Reject() error = %v", err)
			}

			if rejected.Status != entity.StatusRejected || rejected.CurrentStage != domainwf.StageCompleted {
				t.Errorf("rejected request is %s at %s", rejected.Status, rejected.CurrentStage)
			}
			if rejected.RejectedAt == nil || rejected.RejectionRemarks != "insufficient justification" {
				t.Error("rejection data not recorded")
			}
			if rejected.StageTimestamp(stage) != nil {
				t.Errorf("rejected stage %s got a completion timestamp", stage)
			}

			wantRole, _ := domainwf.RoleAt(stage)
			last := rejected.ApprovalLogs[len(rejected.ApprovalLogs)-1]
			if last.Role != wantRole || last.Action != domainwf.ActionRejected || last.Remarks != "insufficient justification" {
				t.Errorf("last log = %+v", last)
			}
			if got := rejected.StageLabel(); got != "REJECTED BY "+wantRole.Label() {
				t.Errorf("StageLabel() = %q", got)
			}
			if err := rejected.CheckInvariants(); err != nil {
				t.Errorf("CheckInvariants() error = %v", err)
			}

			types := f.dispatcher.Types()
			if len(types) < 2 || types[len(types)-2] != event.TypeRequestRejected || types[len(types)-1] != event.TypeRequestCompleted {
				t.Errorf("events = %v, want trailing rejected, completed", types)
			}
		})
	}
}

func TestReject_MissingRemarksCheckedFirst(t *testing.T) {
	f := newFixture()
	req := f.submit(t)

	tests := []struct {
		name     string
		id       string
		expected domainwf.Stage
		remarks  string
	}{
		{"empty remarks", req.ID, domainwf.StageAdmin, ""},
		{"blank remarks", req.ID, domainwf.StageAdmin, "   \t"},
		{"unknown request", "does-not-exist", domainwf.StageAdmin, ""},
		{"wrong stage", req.ID, domainwf.StageReviewer2, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reject(context.Background(), tt.id, tt.expected, "Admin User", tt.remarks)
			assertKind(t, err, domainwf.ErrMissingRemarks)
		})
	}

	stored, _ := f.store.FindByID(context.Background(), req.ID)
	if !reflect.DeepEqual(stored, req) {
		t.Error("failed rejections changed the request")
	}
}

func TestCommands_NotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	commands := map[string]func() (*entity.BudgetRequest, error){
		"forward":        func() (*entity.BudgetRequest, error) { return f.engine.Forward(ctx, "missing", "a", "") },
		"approve_stage1": func() (*entity.BudgetRequest, error) { return f.engine.ApproveStage1(ctx, "missing", "a", "") },
		"approve_stage2": func() (*entity.BudgetRequest, error) { return f.engine.ApproveStage2(ctx, "missing", "a", "") },
		"approve_final":  func() (*entity.BudgetRequest, error) { return f.engine.ApproveFinal(ctx, "missing", "a", "") },
		"reject": func() (*entity.BudgetRequest, error) {
			return f.engine.Reject(ctx, "missing", domainwf.StageAdmin, "a", "no")
		},
	}

	for name, run := range commands {
		t.Run(name, func(t *testing.T) {
			req, err := run()
			if req != nil {
				t.Error("failed command should not return a request")
			}
			assertKind(t, err, domainwf.ErrNotFound)
		})
	}
}

func TestCommands_StageMismatchLeavesRequestUnchanged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := f.submit(t)
	f.advanceTo(t, req.ID, domainwf.StageReviewer1)

	before, _ := f.store.FindByID(ctx, req.ID)
	eventsBefore := len(f.dispatcher.Types())

	attempts := []struct {
		name string
		run  func() (*entity.BudgetRequest, error)
	}{
		{"forward again", func() (*entity.BudgetRequest, error) { return f.engine.Forward(ctx, req.ID, "Admin User", "") }},
		{"skip to stage 2", func() (*entity.BudgetRequest, error) { return f.engine.ApproveStage2(ctx, req.ID, "Reviewer Two", "") }},
		{"skip to final", func() (*entity.BudgetRequest, error) { return f.engine.ApproveFinal(ctx, req.ID, "Final Authority", "") }},
		{"reject at admin", func() (*entity.BudgetRequest, error) {
			return f.engine.Reject(ctx, req.ID, domainwf.StageAdmin, "Admin User", "late")
		}},
		{"reject at completed", func() (*entity.BudgetRequest, error) {
			return f.engine.Reject(ctx, req.ID, domainwf.StageCompleted, "Admin User", "late")
		}},
	}

	for _, tt := range attempts {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.run()
			assertKind(t, err, domainwf.ErrStageMismatch)

			var te *domainwf.TransitionError
			errors.As(err, &te)
			if te.Actual != domainwf.StageReviewer1 {
				t.Errorf("Actual = %s, want reviewer1", te.Actual)
			}
		})
	}

	after, _ := f.store.FindByID(ctx, req.ID)
	if !reflect.DeepEqual(before, after) {
		t.Error("failed commands changed the request")
	}
	if len(f.dispatcher.Types()) != eventsBefore {
		t.Error("failed commands emitted events")
	}
}

func TestCommands_NotPendingAfterCompletion(t *testing.T) {
	ctx := context.Background()

	setups := map[string]func(t *testing.T, f *fixture, id string){
		"approved": func(t *testing.T, f *fixture, id string) {
			f.advanceTo(t, id, domainwf.StageCompleted)
		},
		"rejected": func(t *testing.T, f *fixture, id string) {
			if _, err := f.engine.Reject(ctx, id, domainwf.StageAdmin, "Admin User", "out of scope"); err != nil {
				t.Fatalf("Reject() error = %v", err)
			}
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			req := f.submit(t)
			setup(t, f, req.ID)
			before, _ := f.store.FindByID(ctx, req.ID)

			for _, stage := range domainwf.PendingStages() {
				_, err := f.engine.Reject(ctx, req.ID, stage, "Someone", "again")
				assertKind(t, err, domainwf.ErrNotPending)
			}
			_, err := f.engine.Forward(ctx, req.ID, "Admin User", "")
			assertKind(t, err, domainwf.ErrNotPending)
			_, err = f.engine.ApproveFinal(ctx, req.ID, "Final Authority", "")
			assertKind(t, err, domainwf.ErrNotPending)

			after, _ := f.store.FindByID(ctx, req.ID)
			if !reflect.DeepEqual(before, after) {
				t.Error("commands on a completed request changed it")
			}
		})
	}
}

func TestCommands_BlankActor(t *testing.T) {
	f := newFixture()
	req := f.submit(t)

	_, err := f.engine.Forward(context.Background(), req.ID, "  ", "")
	assertKind(t, err, domainwf.ErrInvalidRequest)

	stored, _ := f.store.FindByID(context.Background(), req.ID)
	if stored.CurrentStage != domainwf.StageAdmin {
		t.Errorf("stage = %s, want admin", stored.CurrentStage)
	}
}

func TestCommands_StoreFailure(t *testing.T) {
	f := newFixture()
	req := f.submit(t)
	f.store.updateErr = errors.New("disk full")

	_, err := f.engine.Forward(context.Background(), req.ID, "Admin User", "")
	if err == nil {
		t.Fatal("Forward() should fail when the store fails")
	}
	if domainwf.Kind(err) != "internal" {
		t.Errorf("Kind() = %q, want internal", domainwf.Kind(err))
	}
	if len(f.metrics.failures) != 1 || f.metrics.failures[0] != "forward/internal" {
		t.Errorf("failures = %v", f.metrics.failures)
	}
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(-2 * time.Hour)}
	var mu sync.Mutex
	calls := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := times[calls%len(times)]
		calls++
		return t
	}

	f := newFixture(WithClock(clock))
	req := f.submit(t)
	f.advanceTo(t, req.ID, domainwf.StageReviewer2)

	stored, _ := f.store.FindByID(context.Background(), req.ID)
	for i := 1; i < len(stored.ApprovalLogs); i++ {
		if stored.ApprovalLogs[i].Timestamp.Before(stored.ApprovalLogs[i-1].Timestamp) {
			t.Errorf("log %d goes back in time", i)
		}
	}
	if err := stored.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() error = %v", err)
	}
}

func TestConcurrentForward(t *testing.T) {
	f := newFixture()
	req := f.submit(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.engine.Forward(context.Background(), req.ID, fmt.Sprintf("admin-%d", n), "")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, domainwf.ErrStageMismatch):
			t.Errorf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d forwards succeeded, want exactly 1", succeeded)
	}

	stored, _ := f.store.FindByID(context.Background(), req.ID)
	if len(stored.ApprovalLogs) != 2 {
		t.Errorf("%d logs, want 2", len(stored.ApprovalLogs))
	}
}

func TestBuildBudgetStateMachine(t *testing.T) {
	for _, step := range domainwf.Chain() {
		machine := BuildBudgetStateMachine(step.Stage)
		want := []domainwf.Trigger{step.Trigger, domainwf.TriggerReject}
		if got := machine.PermittedTriggers(); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: PermittedTriggers() = %v, want %v", step.Stage, got, want)
		}
	}

	completed := BuildBudgetStateMachine(domainwf.StageCompleted)
	if len(completed.PermittedTriggers()) != 0 {
		t.Error("completed stage should permit nothing")
	}
}

func TestEvents_DeliveredInCommandOrder(t *testing.T) {
	want := []event.Type{
		event.TypeRequestSubmitted,
		event.TypeRequestForwarded,
		event.TypeRequestRejected,
		event.TypeRequestCompleted,
	}

	for run := 0; run < 50; run++ {
		d := dispatcher.NewDispatcher()
		var mu sync.Mutex
		var got []event.Type
		d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, evt.Type)
			return nil
		})

		f := newFixture(WithDispatcher(d))
		req := f.submit(t)
		ctx := context.Background()
		if _, err := f.engine.Forward(ctx, req.ID, "Admin User", ""); err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
		if _, err := f.engine.Reject(ctx, req.ID, domainwf.StageReviewer1, "Reviewer One", "Insufficient justification"); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}

		if err := d.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: events = %v, want %v", run, got, want)
		}
	}
}

func TestCommands_StoreConflictIsStageMismatch(t *testing.T) {
	f := newFixture()
	req := f.submit(t)
	f.store.updateErr = fmt.Errorf("%w: request was modified concurrently", domainwf.ErrStageMismatch)

	_, err := f.engine.Forward(context.Background(), req.ID, "Admin User", "")
	if got := domainwf.Kind(err); got != "stage_mismatch" {
		t.Errorf("Kind() = %q, want stage_mismatch", got)
	}
}
