package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultTypingDelay is how long the bot "types" before each message.
const DefaultTypingDelay = 600 * time.Millisecond

// Config wires a Controller to its collaborators. Only Submitter is required.
type Config struct {
	Submitter   Submitter
	Script      Script
	Motion      MotionPreference
	Scheduler   Scheduler
	TypingDelay time.Duration

	// Observer receives a snapshot after every state change. It runs with
	// the controller locked and must not block or call back into it.
	Observer func(Snapshot)
	// OnMessage receives every appended message, under the same rules as Observer.
	OnMessage func(Message)
}

type transition func(c *Controller, input string) Phase

// transitions is keyed by the current phase. PhaseCompleted has no entry.
var transitions = map[Phase]transition{
	PhaseAskName:          (*Controller).takeName,
	PhaseAwaitingQuestion: (*Controller).takeQuestion,
	PhaseAskEmail:         (*Controller).takeEmail,
}

// Controller drives one conversation. All methods are safe for concurrent
// use; events are applied one at a time.
type Controller struct {
	mu sync.Mutex

	script      Script
	motion      MotionPreference
	scheduler   Scheduler
	submitter   Submitter
	typingDelay time.Duration
	observer    func(Snapshot)
	onMessage   func(Message)
	log         *slog.Logger

	phase    Phase
	messages []Message
	fields   Fields
	status   SubmissionStatus
	typing   bool

	pending   []string
	timer     Timer
	submitted bool
	disposed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a conversation in PhaseAskName and emits the greeting.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Script.Greeting == "" {
		cfg.Script = DefaultScript()
	}
	if cfg.Motion == nil {
		cfg.Motion = ReducedMotion(false)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clockScheduler{}
	}
	if cfg.TypingDelay <= 0 {
		cfg.TypingDelay = DefaultTypingDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		script:      cfg.Script,
		motion:      cfg.Motion,
		scheduler:   cfg.Scheduler,
		submitter:   cfg.Submitter,
		typingDelay: cfg.TypingDelay,
		observer:    cfg.Observer,
		onMessage:   cfg.OnMessage,
		log:         logger,
		phase:       PhaseAskName,
		status:      SubmissionNone,
		ctx:         ctx,
		cancel:      cancel,
	}

	c.mu.Lock()
	c.sayLocked(c.script.Greeting)
	c.notifyLocked()
	c.mu.Unlock()

	return c
}

// Submit feeds one line of visitor input into the state machine and
// reports whether it was accepted. Blank input, input while the bot is
// typing, and input after completion are ignored.
func (c *Controller) Submit(text string) bool {
	value := strings.TrimSpace(text)
	if value == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.typing {
		return false
	}
	step, ok := transitions[c.phase]
	if !ok {
		return false
	}

	c.appendLocked(Message{Sender: SenderUser, Text: value})
	next := step(c, value)
	if next != c.phase {
		c.log.Debug("Conversation phase changed", "from", c.phase, "to", next)
	}
	c.phase = next
	c.notifyLocked()
	return true
}

func (c *Controller) takeName(name string) Phase {
	c.fields.Name = name
	c.sayLocked(c.script.GreetName(name))
	return PhaseAwaitingQuestion
}

func (c *Controller) takeQuestion(question string) Phase {
	if c.script.IsCapabilityQuery(question) {
		for _, reply := range c.script.CapabilityReplies {
			c.sayLocked(reply)
		}
		return PhaseAwaitingQuestion
	}
	for _, reply := range c.script.EmailRequest {
		c.sayLocked(reply)
	}
	return PhaseAskEmail
}

func (c *Controller) takeEmail(email string) Phase {
	if !ValidEmail(email) {
		c.sayLocked(c.script.InvalidEmail)
		return PhaseAskEmail
	}
	c.fields.Email = email
	submission := Submission{
		Name:       c.fields.Name,
		Email:      c.fields.Email,
		Transcript: Transcript(c.messages),
	}
	c.sayLocked(c.script.ThankYou)
	c.submitLocked(submission)
	return PhaseCompleted
}

// sayLocked emits a bot message, either immediately or after the typing
// delay. Queued messages keep their order.
func (c *Controller) sayLocked(text string) {
	if len(c.pending) == 0 && c.motion.PrefersReducedMotion() {
		c.appendLocked(Message{Sender: SenderBot, Text: text})
		return
	}
	c.pending = append(c.pending, text)
	if c.timer == nil {
		c.scheduleLocked()
	}
}

func (c *Controller) scheduleLocked() {
	c.typing = true
	c.timer = c.scheduler.AfterFunc(c.typingDelay, c.deliver)
}

// deliver runs when the typing delay elapses.
func (c *Controller) deliver() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	c.timer = nil
	c.typing = false

	if len(c.pending) > 0 {
		text := c.pending[0]
		c.pending = c.pending[1:]
		c.appendLocked(Message{Sender: SenderBot, Text: text})
	}
	for len(c.pending) > 0 && c.motion.PrefersReducedMotion() {
		c.appendLocked(Message{Sender: SenderBot, Text: c.pending[0]})
		c.pending = c.pending[1:]
	}
	if len(c.pending) > 0 {
		c.scheduleLocked()
	}
	c.notifyLocked()
}

func (c *Controller) submitLocked(s Submission) {
	if c.submitted || c.submitter == nil {
		if c.submitter == nil {
			c.log.Warn("No submitter configured, conversation will not be delivered")
		}
		return
	}
	c.submitted = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(c.submitter.Submit(c.ctx, s))
	}()
}

func (c *Controller) finish(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed || c.status != SubmissionNone {
		return
	}

	switch res.Outcome {
	case OutcomeSuccess:
		c.status = SubmissionSuccess
		c.sayLocked(c.script.SubmitSuccess)
	default:
		c.status = SubmissionError
		c.log.Warn("Contact submission failed", "status_code", res.StatusCode, "error", res.Err)
		c.sayLocked(c.script.SubmitFailure)
	}
	c.notifyLocked()
}

func (c *Controller) appendLocked(m Message) {
	c.messages = append(c.messages, m)
	if c.onMessage != nil {
		c.onMessage(m)
	}
}

func (c *Controller) notifyLocked() {
	if c.observer != nil {
		c.observer(c.snapshotLocked())
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		Phase:            c.phase,
		Messages:         msgs,
		IsBotTyping:      c.typing,
		SubmissionStatus: c.status,
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Fields returns the values collected so far.
func (c *Controller) Fields() Fields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Dispose cancels the pending typing timer and any in-flight submission.
// Nothing mutates the conversation afterwards.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.typing = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// Disposed reports whether Dispose has been called.
func (c *Controller) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
