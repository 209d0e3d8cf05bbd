package chat

import (
	"context"
	"sync"
	"time"
)

// manualScheduler queues tasks until the test fires them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, delay: d, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Fire runs the oldest live task. It reports false when nothing is pending.
func (s *manualScheduler) Fire() bool {
	s.mu.Lock()
	var next *manualTimer
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

// FireAll drains the queue, including tasks scheduled by fired tasks.
func (s *manualScheduler) FireAll() int {
	n := 0
	for s.Fire() {
		n++
	}
	return n
}

func (s *manualScheduler) Live() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*manualTimer
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	return live
}

func (s *manualScheduler) All() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*manualTimer(nil), s.tasks...)
}

// recordingSubmitter counts submissions and answers with a fixed result.
type recordingSubmitter struct {
	mu     sync.Mutex
	calls  []Submission
	result Result
	block  chan struct{}
}

func (r *recordingSubmitter) Submit(ctx context.Context, s Submission) Result {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	block := r.block
	res := r.result
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Failed(0, ctx.Err())
		}
	}
	return res
}

func (r *recordingSubmitter) Calls() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Submission(nil), r.calls...)
}

func newInstantController(sub Submitter) *Controller {
	return NewController(Config{
		Submitter: sub,
		Motion:    ReducedMotion(true),
	}, nil)
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
