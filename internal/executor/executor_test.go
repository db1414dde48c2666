package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
	"github.com/mvalko/scrape-orchestrator/internal/policy"
	"github.com/mvalko/scrape-orchestrator/internal/profile"
	"github.com/mvalko/scrape-orchestrator/internal/progress"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

type stubBackend struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, target string) orchestrator.Outcome
}

func (b *stubBackend) Attempt(ctx context.Context, target string) orchestrator.Outcome {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.fn(ctx, target)
}

func (b *stubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func succeeding(cost float64) *stubBackend {
	return &stubBackend{fn: func(context.Context, string) orchestrator.Outcome {
		return orchestrator.Outcome{Success: true, Cost: cost, Duration: 10 * time.Millisecond}
	}}
}

func failing(cost float64) *stubBackend {
	return &stubBackend{fn: func(context.Context, string) orchestrator.Outcome {
		return orchestrator.Outcome{Success: false, Cost: cost, Duration: 10 * time.Millisecond, Err: errors.New("blocked")}
	}}
}

type stubResolver map[orchestrator.BackendID]orchestrator.Backend

func (r stubResolver) Resolve(id orchestrator.BackendID) (orchestrator.Backend, error) {
	b, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownBackend, id)
	}
	return b, nil
}

type rateStub struct {
	deny map[orchestrator.BackendID]bool
}

func (r *rateStub) Allow(id orchestrator.BackendID) bool {
	return !r.deny[id]
}

type budgetEvent struct {
	op       string
	reserved float64
	actual   float64
}

// budgetStub records the Reserve/Commit/Rollback sequence so tests can assert
// the check-then-charge protocol, not just the end state.
type budgetStub struct {
	mu     sync.Mutex
	allow  func(cost float64) bool
	events []budgetEvent
}

func newBudgetStub() *budgetStub {
	return &budgetStub{allow: func(float64) bool { return true }}
}

func (b *budgetStub) Reserve(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.allow(cost) {
		return false
	}
	b.events = append(b.events, budgetEvent{op: "reserve", reserved: cost})
	return true
}

func (b *budgetStub) Commit(reserved, actual float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, budgetEvent{op: "commit", reserved: reserved, actual: actual})
}

func (b *budgetStub) Rollback(reserved float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, budgetEvent{op: "rollback", reserved: reserved})
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Stage
	}
	return out
}

type fixture struct {
	exec     *Executor
	profiles *profile.Store
	budget   *budgetStub
	rate     *rateStub
	clock    *fakeClock
	emitter  *recordingEmitter
}

func newFixture(t *testing.T, backends map[orchestrator.BackendID]orchestrator.Backend, costs map[orchestrator.BackendID]float64) *fixture {
	t.Helper()

	clock := newFakeClock()
	profiles := profile.New(clock)
	// Registration in cost order keeps the untried chain deterministic.
	for _, id := range orderedIDs(costs) {
		if err := profiles.Register(id, costs[id], 1); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		profiles: profiles,
		budget:   newBudgetStub(),
		rate:     &rateStub{deny: map[orchestrator.BackendID]bool{}},
		clock:    clock,
		emitter:  &recordingEmitter{},
	}
	f.exec = New(
		profiles,
		stubResolver(backends),
		f.rate,
		f.budget,
		policy.New(policy.DefaultOptions()),
		clock,
		Config{},
		f.emitter,
		nil,
	)
	return f
}

func orderedIDs(costs map[orchestrator.BackendID]float64) []orchestrator.BackendID {
	out := make([]orchestrator.BackendID, 0, len(costs))
	for id := range costs {
		out = append(out, id)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if costs[out[j]] < costs[out[i]] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func newJob(target string) *orchestrator.Job {
	return &orchestrator.Job{ID: "job-1", Target: target}
}

func TestExecuteFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded || res.Backend != "api" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(res.Attempts))
	}
	if res.TotalCost != 0.01 {
		t.Fatalf("expected total cost 0.01, got %v", res.TotalCost)
	}

	p, err := f.profiles.Get("api")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalAttempts != 1 || p.TotalSuccesses != 1 {
		t.Fatalf("profile counters not updated: %+v", p)
	}
}

func TestExecuteFallsBackOnFailure(t *testing.T) {
	t.Parallel()

	api := failing(0.01)
	dom := succeeding(0.05)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded || res.Backend != "dom" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}
	if res.Attempts[0].Backend != "api" || res.Attempts[0].Success {
		t.Fatalf("first attempt should be the failed api call: %+v", res.Attempts[0])
	}
	// Both attempts are charged; failure is not free.
	want := 0.01 + 0.05
	diff := res.TotalCost - want
	if diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected total cost %v, got %v", want, res.TotalCost)
	}

	p, err := f.profiles.Get("api")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalAttempts != 1 || p.TotalSuccesses != 0 {
		t.Fatalf("failed attempt not recorded against api: %+v", p)
	}
}

func TestExecuteStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	dom := succeeding(0.05)
	headless := succeeding(0.50)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom, "headless": headless},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05, "headless": 0.50},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded {
		t.Fatalf("unexpected state %s", res.State)
	}
	if dom.Calls() != 0 || headless.Calls() != 0 {
		t.Fatalf("later candidates must not run after a success: dom=%d headless=%d", dom.Calls(), headless.Calls())
	}
}

func TestExecuteAllBackendsFail(t *testing.T) {
	t.Parallel()

	api := failing(0.01)
	dom := failing(0.05)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateExhaustedBackends {
		t.Fatalf("expected exhausted state, got %s", res.State)
	}
	if res.Reason != orchestrator.ReasonAllBackendsFailed {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}
}

func TestExecuteBudgetDeniedEverywhere(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)
	f.budget.allow = func(float64) bool { return false }

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateExhaustedBudget {
		t.Fatalf("expected budget exhaustion, got %s", res.State)
	}
	if res.Reason != orchestrator.ReasonBudgetExceeded {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	// A denied candidate is a non-attempt: nothing runs, nothing is charged.
	if api.Calls() != 0 {
		t.Fatalf("denied backend must not be invoked, got %d calls", api.Calls())
	}
	if len(res.Attempts) != 0 || res.TotalCost != 0 {
		t.Fatalf("denial must not produce attempts or cost: %+v", res)
	}
	p, err := f.profiles.Get("api")
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalAttempts != 0 {
		t.Fatalf("denial must not touch profile stats: %+v", p)
	}
}

// Budget exhaustion anywhere in the chain outranks backend failures: the
// operator remedy is different.
func TestExecuteBudgetDenialOutranksFailures(t *testing.T) {
	t.Parallel()

	api := failing(0.01)
	headless := succeeding(0.50)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "headless": headless},
		map[orchestrator.BackendID]float64{"api": 0.01, "headless": 0.50},
	)
	f.budget.allow = func(cost float64) bool { return cost < 0.1 }

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateExhaustedBudget {
		t.Fatalf("expected budget exhaustion, got %s (reason %q)", res.State, res.Reason)
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("the affordable attempt should still have run, got %d", len(res.Attempts))
	}
	if headless.Calls() != 0 {
		t.Fatal("unaffordable backend must not be invoked")
	}
}

func TestExecuteRateDeniedEverywhere(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)
	f.rate.deny["api"] = true

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateExhaustedBackends {
		t.Fatalf("expected exhausted state, got %s", res.State)
	}
	if res.Reason != orchestrator.ReasonNoAdmission {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
	if api.Calls() != 0 {
		t.Fatal("rate-denied backend must not be invoked")
	}
	if len(f.budget.events) != 0 {
		t.Fatalf("rate denial must happen before any budget charge: %+v", f.budget.events)
	}
}

func TestExecuteRateDeniedSkipsToNextCandidate(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	dom := succeeding(0.05)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05},
	)
	f.rate.deny["api"] = true

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded || res.Backend != "dom" {
		t.Fatalf("expected fallback to dom, got %+v", res)
	}
	if api.Calls() != 0 {
		t.Fatal("rate-denied backend must not be invoked")
	}
}

func TestExecuteCommitsActualCost(t *testing.T) {
	t.Parallel()

	// The collaborator reports an actual cost below the reserved unit cost.
	api := &stubBackend{fn: func(context.Context, string) orchestrator.Outcome {
		return orchestrator.Outcome{Success: true, Cost: 0.007, Duration: time.Millisecond}
	}}
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCost != 0.007 {
		t.Fatalf("expected actual cost 0.007, got %v", res.TotalCost)
	}
	want := []budgetEvent{
		{op: "reserve", reserved: 0.01},
		{op: "commit", reserved: 0.01, actual: 0.007},
	}
	if len(f.budget.events) != len(want) {
		t.Fatalf("unexpected budget events: %+v", f.budget.events)
	}
	for i, ev := range want {
		if f.budget.events[i] != ev {
			t.Fatalf("event %d: expected %+v, got %+v", i, ev, f.budget.events[i])
		}
	}
}

func TestExecutePanickingBackendChargedAsFailure(t *testing.T) {
	t.Parallel()

	api := &stubBackend{fn: func(context.Context, string) orchestrator.Outcome {
		panic("collaborator exploded")
	}}
	dom := succeeding(0.05)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05},
	)

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded || res.Backend != "dom" {
		t.Fatalf("expected fallback past the panicking backend, got %+v", res)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected the panic to count as an attempt, got %d", len(res.Attempts))
	}
	if res.Attempts[0].Success || res.Attempts[0].Cost != 0.01 {
		t.Fatalf("panic should be charged at unit cost: %+v", res.Attempts[0])
	}
}

func TestExecuteNoBackends(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	exec := New(
		profile.New(clock),
		stubResolver{},
		&rateStub{deny: map[orchestrator.BackendID]bool{}},
		newBudgetStub(),
		policy.New(policy.DefaultOptions()),
		clock,
		Config{},
		nil,
		nil,
	)

	_, err := exec.Execute(context.Background(), newJob("https://example.com/a"))
	if !errors.Is(err, orchestrator.ErrNoBackends) {
		t.Fatalf("expected ErrNoBackends, got %v", err)
	}
}

func TestExecuteUnresolvableBackend(t *testing.T) {
	t.Parallel()

	// Profile registered, collaborator missing: a configuration error, not a
	// job outcome.
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)

	_, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if !errors.Is(err, orchestrator.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestExecuteCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	api := succeeding(0.01)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api},
		map[orchestrator.BackendID]float64{"api": 0.01},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.exec.Execute(ctx, newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateExhaustedBackends || res.Reason != orchestrator.ReasonCanceled {
		t.Fatalf("expected canceled terminal state, got %+v", res)
	}
	if api.Calls() != 0 {
		t.Fatal("no attempt may be issued after cancellation")
	}
}

// The executor narrates the chain as progress events: job start, one event
// per attempt or gate denial, and the terminal state.
func TestExecuteEmitsProgressEvents(t *testing.T) {
	t.Parallel()

	api := failing(0.01)
	dom := succeeding(0.05)
	headless := succeeding(0.50)
	f := newFixture(t,
		map[orchestrator.BackendID]orchestrator.Backend{"api": api, "dom": dom, "headless": headless},
		map[orchestrator.BackendID]float64{"api": 0.01, "dom": 0.05, "headless": 0.50},
	)
	f.rate.deny["api"] = true

	res, err := f.exec.Execute(context.Background(), newJob("https://example.com/a"))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != orchestrator.StateSucceeded || res.Backend != "dom" {
		t.Fatalf("unexpected result: %+v", res)
	}

	want := []progress.Stage{
		progress.StageJobStart,
		progress.StageGateDenied,
		progress.StageAttemptDone,
		progress.StageJobDone,
	}
	got := f.emitter.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	denial := f.emitter.events[1]
	if denial.Backend != "api" || denial.Gate != progress.GateRate {
		t.Fatalf("unexpected denial event: %+v", denial)
	}
	attempt := f.emitter.events[2]
	if attempt.Backend != "dom" || !attempt.Success || attempt.Cost != 0.05 {
		t.Fatalf("unexpected attempt event: %+v", attempt)
	}
	terminal := f.emitter.events[3]
	if terminal.State != orchestrator.StateSucceeded || terminal.Cost != 0.05 {
		t.Fatalf("unexpected terminal event: %+v", terminal)
	}
	for _, evt := range f.emitter.events {
		if err := evt.Validate(); err != nil {
			t.Fatalf("emitted invalid event %+v: %v", evt, err)
		}
	}
}
