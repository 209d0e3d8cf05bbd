package chat

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewControllerGreetsOnce(t *testing.T) {
	t.Parallel()

	c := newInstantController(&recordingSubmitter{})
	defer c.Dispose()

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, Message{Sender: SenderBot, Text: DefaultScript().Greeting}, snap.Messages[0])
	assert.Equal(t, PhaseAskName, snap.Phase)
	assert.Equal(t, SubmissionNone, snap.SubmissionStatus)
	assert.False(t, snap.IsBotTyping)

	// Reading state never re-seeds the greeting.
	_ = c.Snapshot()
	assert.Len(t, c.Snapshot().Messages, 1)
}

func TestSubmitIgnoresBlankInput(t *testing.T) {
	t.Parallel()

	c := newInstantController(&recordingSubmitter{})
	defer c.Dispose()

	before := c.Snapshot()
	for _, in := range []string{"", " ", "\t\n", "   \r\n  "} {
		assert.False(t, c.Submit(in), "blank input %q must be rejected", in)
	}
	after := c.Snapshot()

	assert.Equal(t, before, after)
	assert.Equal(t, Fields{}, c.Fields())
}

func TestSubmitCapturesName(t *testing.T) {
	t.Parallel()

	c := newInstantController(&recordingSubmitter{})
	defer c.Dispose()

	require.True(t, c.Submit("  Ada  "))

	snap := c.Snapshot()
	assert.Equal(t, PhaseAwaitingQuestion, snap.Phase)
	assert.Equal(t, "Ada", c.Fields().Name)

	var userMsgs []Message
	for _, m := range snap.Messages {
		if m.Sender == SenderUser {
			userMsgs = append(userMsgs, m)
		}
	}
	require.Len(t, userMsgs, 1)
	assert.Equal(t, "Ada", userMsgs[0].Text)
	assert.Equal(t, SenderUser, snap.Messages[1].Sender)
	assert.Contains(t, snap.Messages[2].Text, "Nice to meet you, Ada!")
}

func TestCapabilityQueryStaysOpen(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"What can you do?", "WHAT CAN YOU DO", "so... what can you do for me"} {
		q := q
		t.Run(q, func(t *testing.T) {
			t.Parallel()

			c := newInstantController(&recordingSubmitter{})
			defer c.Dispose()

			c.Submit("Ada")
			before := len(c.Snapshot().Messages)
			c.Submit(q)

			snap := c.Snapshot()
			assert.Equal(t, PhaseAwaitingQuestion, snap.Phase)
			added := snap.Messages[before:]
			require.Equal(t, SenderUser, added[0].Sender)
			require.Greater(t, len(added), 1)
			assert.Equal(t, SenderBot, added[1].Sender)
			assert.Contains(t, added[1].Text, "full-stack")
		})
	}
}

func TestCapabilityQueryCanRepeat(t *testing.T) {
	t.Parallel()

	c := newInstantController(&recordingSubmitter{})
	defer c.Dispose()

	c.Submit("Ada")
	c.Submit("what can you do?")
	c.Submit("And what can you do with Go?")
	assert.Equal(t, PhaseAwaitingQuestion, c.Snapshot().Phase)

	c.Submit("I need a portfolio site")
	assert.Equal(t, PhaseAskEmail, c.Snapshot().Phase)
}

func TestGenericQuestionRequestsEmail(t *testing.T) {
	t.Parallel()

	c := newInstantController(&recordingSubmitter{})
	defer c.Dispose()

	c.Submit("Ada")
	c.Submit("Can you help me plan a backend migration?")

	snap := c.Snapshot()
	assert.Equal(t, PhaseAskEmail, snap.Phase)
	assert.Equal(t, "email", snap.InputType())
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, SenderBot, last.Sender)
	assert.Contains(t, strings.ToLower(last.Text), "email")
}

func TestEmailValidationRoundTrip(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{result: Succeeded(200)}
	c := newInstantController(sub)
	defer c.Dispose()

	c.Submit("Ada")
	c.Submit("Can you help me plan a backend migration?")

	before := len(c.Snapshot().Messages)
	c.Submit("not-an-email")
	snap := c.Snapshot()
	assert.Equal(t, PhaseAskEmail, snap.Phase)
	require.Len(t, snap.Messages, before+2)
	assert.Equal(t, Message{Sender: SenderUser, Text: "not-an-email"}, snap.Messages[before])
	assert.Equal(t, DefaultScript().InvalidEmail, snap.Messages[before+1].Text)
	assert.Empty(t, c.Fields().Email)
	assert.Empty(t, sub.Calls())

	logBeforeEmail := snap.Messages
	c.Submit("ada@example.com")

	assert.Equal(t, PhaseCompleted, c.Snapshot().Phase)
	assert.Equal(t, "ada@example.com", c.Fields().Email)

	require.Eventually(t, func() bool {
		return c.Snapshot().SubmissionStatus == SubmissionSuccess
	}, time.Second, 5*time.Millisecond)

	calls := sub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Ada", calls[0].Name)
	assert.Equal(t, "ada@example.com", calls[0].Email)

	var want []string
	for _, m := range logBeforeEmail {
		want = append(want, m.Sender.Label()+": "+m.Text)
	}
	want = append(want, "You: ada@example.com")
	assert.Equal(t, strings.Join(want, "\n"), calls[0].Transcript)
	assert.True(t, strings.HasPrefix(calls[0].Transcript, "Bot: "+DefaultScript().Greeting))
}

func TestCompletedIgnoresInput(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{result: Succeeded(200)}
	c := newInstantController(sub)
	defer c.Dispose()

	c.Submit("Ada")
	c.Submit("Tell me about your projects")
	c.Submit("ada@example.com")
	require.Eventually(t, func() bool {
		return c.Snapshot().SubmissionStatus != SubmissionNone
	}, time.Second, 5*time.Millisecond)

	before := c.Snapshot()
	assert.False(t, c.Submit("hello again"))
	assert.False(t, c.Submit("ada@example.com"))
	after := c.Snapshot()

	assert.Equal(t, before, after)
	assert.Len(t, sub.Calls(), 1)
	assert.False(t, after.InputVisible())
	assert.False(t, after.InputEnabled())
}

func TestSubmissionOutcomeAppendsOneMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     Result
		wantStatus SubmissionStatus
		wantText   string
	}{
		{"ok", Succeeded(200), SubmissionSuccess, DefaultScript().SubmitSuccess},
		{"non-ok status", Failed(422, errors.New("unprocessable")), SubmissionError, DefaultScript().SubmitFailure},
		{"transport error", Failed(0, errors.New("connection refused")), SubmissionError, DefaultScript().SubmitFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			release := make(chan struct{})
			sub := &recordingSubmitter{result: tt.result, block: release}
			c := newInstantController(sub)
			defer c.Dispose()

			c.Submit("Ada")
			c.Submit("Need help with a data pipeline")
			c.Submit("ada@example.com")

			before := len(c.Snapshot().Messages)
			close(release)

			require.Eventually(t, func() bool {
				return c.Snapshot().SubmissionStatus == tt.wantStatus
			}, time.Second, 5*time.Millisecond)

			snap := c.Snapshot()
			require.Len(t, snap.Messages, before+1)
			assert.Equal(t, Message{Sender: SenderBot, Text: tt.wantText}, snap.Messages[before])
		})
	}
}

func TestTypingDelayOrdersMessages(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	c := NewController(Config{
		Submitter: &recordingSubmitter{},
		Scheduler: sched,
	}, nil)
	defer c.Dispose()

	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.True(t, snap.IsBotTyping)
	live := sched.Live()
	require.Len(t, live, 1)
	assert.Equal(t, DefaultTypingDelay, live[0].delay)

	// Input is disabled while the bot types.
	assert.False(t, c.Submit("Ada"), "input while typing must be rejected")
	assert.Empty(t, c.Snapshot().Messages)

	require.True(t, sched.Fire())
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.False(t, snap.IsBotTyping)
	assert.True(t, snap.InputEnabled())

	assert.True(t, c.Submit("Ada"))
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, SenderUser, snap.Messages[1].Sender)
	assert.True(t, snap.IsBotTyping)

	require.True(t, sched.Fire())
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, SenderBot, snap.Messages[2].Sender)

	// Two replies from one event arrive one delay apart, in order.
	c.Submit("what can you do?")
	require.True(t, sched.Fire())
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 5)
	assert.True(t, snap.IsBotTyping)
	require.True(t, sched.Fire())
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 6)
	assert.Equal(t, DefaultScript().CapabilityReplies, texts(snap.Messages[4:6]))
	assert.False(t, snap.IsBotTyping)
	assert.False(t, sched.Fire())
}

func TestReducedMotionReadOnEachEmission(t *testing.T) {
	t.Parallel()

	var reduced atomic.Bool
	sched := &manualScheduler{}
	c := NewController(Config{
		Submitter: &recordingSubmitter{},
		Scheduler: sched,
		Motion:    MotionFunc(reduced.Load),
	}, nil)
	defer c.Dispose()

	require.True(t, sched.Fire())
	c.Submit("Ada")
	require.True(t, sched.Fire())

	c.Submit("what can you do")
	assert.True(t, c.Snapshot().IsBotTyping)

	// Switching preference mid-queue flushes the rest on the next delivery.
	reduced.Store(true)
	require.True(t, sched.Fire())
	snap := c.Snapshot()
	assert.False(t, snap.IsBotTyping)
	assert.Len(t, snap.Messages, 6)

	c.Submit("Help with my startup")
	snap = c.Snapshot()
	assert.Equal(t, PhaseAskEmail, snap.Phase)
	assert.False(t, snap.IsBotTyping)
	assert.Empty(t, sched.Live())
}

func TestDisposeCancelsTypingTimer(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	c := NewController(Config{
		Submitter: &recordingSubmitter{},
		Scheduler: sched,
	}, nil)

	require.Len(t, sched.Live(), 1)
	c.Dispose()
	assert.True(t, c.Disposed())
	assert.Empty(t, sched.Live())

	// A timer that already slipped past Stop must not mutate state.
	sched.All()[0].f()
	assert.Empty(t, c.Snapshot().Messages)

	c.Submit("Ada")
	assert.Empty(t, c.Snapshot().Messages)
	c.Dispose()
}

func TestDisposeDropsLateSubmissionResult(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{result: Succeeded(200), block: make(chan struct{})}
	c := newInstantController(sub)

	c.Submit("Ada")
	c.Submit("Freelance question")
	c.Submit("ada@example.com")
	require.Eventually(t, func() bool { return len(sub.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	before := c.Snapshot()
	c.Dispose()

	after := c.Snapshot()
	assert.Equal(t, SubmissionNone, after.SubmissionStatus)
	assert.Equal(t, before.Messages, after.Messages)
}

func TestObserverAndMessageHook(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var snaps []Snapshot
	var msgs []Message

	c := NewController(Config{
		Submitter: &recordingSubmitter{},
		Motion:    ReducedMotion(true),
		Observer: func(s Snapshot) {
			mu.Lock()
			snaps = append(snaps, s)
			mu.Unlock()
		},
		OnMessage: func(m Message) {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		},
	}, nil)
	defer c.Dispose()

	c.Submit("Ada")
	c.Submit("   ")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 2)
	assert.Equal(t, PhaseAskName, snaps[0].Phase)
	assert.Equal(t, PhaseAwaitingQuestion, snaps[1].Phase)
	assert.Equal(t, c.Snapshot().Messages, msgs)
}

func TestCustomTypingDelay(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	c := NewController(Config{
		Submitter:   &recordingSubmitter{},
		Scheduler:   sched,
		TypingDelay: 50 * time.Millisecond,
	}, nil)
	defer c.Dispose()

	live := sched.Live()
	require.Len(t, live, 1)
	assert.Equal(t, 50*time.Millisecond, live[0].delay)
}
