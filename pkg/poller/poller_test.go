package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

// manualTimer queues callbacks until the test fires them.
type manualTimer struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (m *manualTimer) After(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.pending = append(m.pending, fn)
	idx := len(m.pending) - 1
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.pending[idx] == nil {
			return false
		}
		m.pending[idx] = nil
		return true
	}
}

// fireAll runs queued callbacks, including ones they schedule, until none
// remain.
func (m *manualTimer) fireAll() {
	for i := 0; ; i++ {
		m.mu.Lock()
		if i >= len(m.pending) {
			m.mu.Unlock()
			return
		}
		fn := m.pending[i]
		m.pending[i] = nil
		m.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}

type scriptedTask struct {
	name     string
	policy   mediaproviders.PollPolicy
	statuses []mediaproviders.TaskStatus
	errs     []error
	polls    int
}

func (s *scriptedTask) Name() string                        { return s.name }
func (s *scriptedTask) Model() string                       { return "ray-2" }
func (s *scriptedTask) Mode() mediaproviders.CompletionMode { return mediaproviders.Asynchronous }
func (s *scriptedTask) PollPolicy() mediaproviders.PollPolicy {
	return s.policy
}

func (s *scriptedTask) Submit(context.Context, mediaproviders.Request) (mediaproviders.Submission, error) {
	return mediaproviders.Submission{TaskHandle: "h"}, nil
}

func (s *scriptedTask) Poll(context.Context, string) (mediaproviders.TaskStatus, error) {
	i := s.polls
	s.polls++
	if i < len(s.errs) && s.errs[i] != nil {
		return mediaproviders.TaskStatus{}, s.errs[i]
	}
	if i < len(s.statuses) {
		return s.statuses[i], nil
	}
	return mediaproviders.TaskStatus{State: mediaproviders.TaskProcessing}, nil
}

var testPolicy = mediaproviders.PollPolicy{Grace: 45 * time.Second, Interval: 30 * time.Second, MaxAttempts: 10}

func processing() mediaproviders.TaskStatus {
	return mediaproviders.TaskStatus{State: mediaproviders.TaskProcessing}
}

func TestCompletesOnThirdPollAfterGrace(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "luma", policy: testPolicy, statuses: []mediaproviders.TaskStatus{
		processing(),
		processing(),
		{State: mediaproviders.TaskCompleted, URL: "https://luma/v.mp4"},
	}}

	var outcomes []Outcome
	if err := p.Register(context.Background(), Task{Key: "post-1", Handle: "gen-1", Adapter: adapter}, func(o Outcome) {
		outcomes = append(outcomes, o)
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !p.Active("gen-1") {
		t.Fatalf("task should be active")
	}
	if adapter.polls != 0 {
		t.Fatalf("no poll may happen before the grace delay")
	}

	timer.fireAll()

	if adapter.polls != 3 {
		t.Fatalf("polls = %d, want 3", adapter.polls)
	}
	want := []time.Duration{45 * time.Second, 30 * time.Second, 30 * time.Second}
	if len(timer.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", timer.delays, want)
	}
	for i := range want {
		if timer.delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", timer.delays, want)
		}
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	out := outcomes[0]
	if out.Err != nil || out.Status.State != mediaproviders.TaskCompleted || out.Status.URL != "https://luma/v.mp4" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Key != "post-1" || out.Handle != "gen-1" || out.Attempts != 3 || out.Provider != "luma" {
		t.Fatalf("outcome identity = %+v", out)
	}
	if p.Active("gen-1") {
		t.Fatalf("task should no longer be active")
	}
}

func TestExhaustionYieldsTimeoutCarryingHandle(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "runway", policy: mediaproviders.PollPolicy{Grace: time.Minute, Interval: 40 * time.Second, MaxAttempts: 8}}

	var got Outcome
	if err := p.Register(context.Background(), Task{Key: "post-2", Handle: "task-2", Adapter: adapter}, func(o Outcome) { got = o }); err != nil {
		t.Fatalf("register: %v", err)
	}
	timer.fireAll()

	if adapter.polls != 8 {
		t.Fatalf("polls = %d, want 8", adapter.polls)
	}
	if !got.TimedOut() || !errors.Is(got.Err, ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %+v", got)
	}
	var te *TimeoutError
	if !errors.As(got.Err, &te) || te.Handle != "task-2" || te.Attempts != 8 {
		t.Fatalf("timeout error = %+v", te)
	}
	if got.Handle != "task-2" {
		t.Fatalf("handle = %q", got.Handle)
	}
}

func TestFailedTaskStopsPolling(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "luma", policy: testPolicy, statuses: []mediaproviders.TaskStatus{
		{State: mediaproviders.TaskFailed, FailureReason: "moderation"},
	}}

	var got Outcome
	p.Register(context.Background(), Task{Key: "post-3", Handle: "gen-3", Adapter: adapter}, func(o Outcome) { got = o })
	timer.fireAll()

	if adapter.polls != 1 {
		t.Fatalf("polls = %d, want 1", adapter.polls)
	}
	if got.Err != nil || got.Status.State != mediaproviders.TaskFailed || got.Status.FailureReason != "moderation" {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestPollErrorsSpendAttempts(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{
		name:   "luma",
		policy: mediaproviders.PollPolicy{Grace: time.Second, Interval: time.Second, MaxAttempts: 3},
		errs:   []error{errors.New("dial tcp: timeout"), nil},
		statuses: []mediaproviders.TaskStatus{
			{},
			{State: mediaproviders.TaskCompleted, URL: "https://luma/v.mp4"},
		},
	}

	var got Outcome
	p.Register(context.Background(), Task{Key: "post-4", Handle: "gen-4", Adapter: adapter}, func(o Outcome) { got = o })
	timer.fireAll()

	if got.Attempts != 2 || got.Status.State != mediaproviders.TaskCompleted {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestCompletedWithoutURLIsFailure(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "luma", policy: testPolicy, statuses: []mediaproviders.TaskStatus{
		{State: mediaproviders.TaskCompleted},
	}}

	var got Outcome
	p.Register(context.Background(), Task{Key: "post-5", Handle: "gen-5", Adapter: adapter}, func(o Outcome) { got = o })
	timer.fireAll()

	if got.Status.State != mediaproviders.TaskFailed {
		t.Fatalf("outcome = %+v", got)
	}
}

func TestDuplicateRegistrationAndCancel(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "luma", policy: testPolicy}

	called := false
	task := Task{Key: "post-6", Handle: "gen-6", Adapter: adapter}
	if err := p.Register(context.Background(), task, func(Outcome) { called = true }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Register(context.Background(), task, nil); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if !p.Cancel("gen-6") {
		t.Fatalf("cancel should report an active task")
	}
	timer.fireAll()
	if adapter.polls != 0 || called {
		t.Fatalf("cancelled task must not poll or report")
	}
	if p.Len() != 0 {
		t.Fatalf("len = %d", p.Len())
	}
}

func TestPolicyOverride(t *testing.T) {
	timer := &manualTimer{}
	p := New(timer, zerolog.Nop())
	adapter := &scriptedTask{name: "luma", policy: testPolicy}

	var got Outcome
	override := mediaproviders.PollPolicy{Grace: 2 * time.Second, Interval: time.Second, MaxAttempts: 2}
	p.Register(context.Background(), Task{Key: "k", Handle: "gen-7", Adapter: adapter, Policy: override}, func(o Outcome) { got = o })
	timer.fireAll()

	if adapter.polls != 2 || !got.TimedOut() {
		t.Fatalf("polls = %d outcome = %+v", adapter.polls, got)
	}
	if timer.delays[0] != 2*time.Second {
		t.Fatalf("grace = %v", timer.delays[0])
	}
}
