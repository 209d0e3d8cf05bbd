// Package session keeps live contact conversations for visitors and fans
// their state out to connected clients.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mihretab/portfolio/internal/chat"
	"github.com/mihretab/portfolio/internal/domain"
	"github.com/mihretab/portfolio/internal/store"
)

var (
	// ErrClosed is returned by Open once the hub has shut down.
	ErrClosed = errors.New("session: hub closed")
	// ErrTooManyConversations is returned by Open when mounting another
	// conversation would exceed a configured cap.
	ErrTooManyConversations = errors.New("session: too many conversations")
)

const (
	recordQueueSize = 256
	recordTimeout   = 5 * time.Second
)

// Options configures the conversations a Hub creates.
type Options struct {
	Script               chat.Script
	Submitter            chat.Submitter
	TypingDelay          time.Duration
	ReducedMotionDefault bool
	Scheduler            chat.Scheduler
	// Repo, when set, receives conversation outcomes and engagement.
	Repo store.Repository
	// ConversationLog receives every message. Nil discards.
	ConversationLog ConversationLogger
	// MaxConversations caps mounted conversations across all visitors.
	// Zero means no cap.
	MaxConversations int
	// MaxConversationsPerVisitor caps the tabs one visitor can mount.
	// Zero means no cap.
	MaxConversationsPerVisitor int
}

// State is the wire form of a conversation snapshot.
type State struct {
	ConversationID string `json:"conversation_id"`
	chat.Snapshot
	InputType    string `json:"input_type"`
	InputEnabled bool   `json:"input_enabled"`
	InputVisible bool   `json:"input_visible"`
	Engaged      bool   `json:"engaged"`
}

func newState(id string, s chat.Snapshot, engaged bool) State {
	return State{
		ConversationID: id,
		Snapshot:       s,
		InputType:      s.InputType(),
		InputEnabled:   s.InputEnabled(),
		InputVisible:   s.InputVisible(),
		Engaged:        engaged,
	}
}

// Conversation is one mounted controller bound to a visitor tab.
type Conversation struct {
	ID        string
	VisitorID string
	SessionID string
	CreatedAt time.Time

	ctrl       *chat.Controller
	reduced    atomic.Bool
	engaged    atomic.Bool
	lastActive atomic.Int64

	// Only touched from the controller observer, which is serialized.
	recorded       bool
	recordedPhase  chat.Phase
	recordedStatus chat.SubmissionStatus

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
	last    State
	closed  bool
}

// Submit forwards visitor input to the controller. It reports whether the
// input was accepted.
func (c *Conversation) Submit(text string) bool {
	c.touch()
	return c.ctrl.Submit(text)
}

// State returns the current wire state.
func (c *Conversation) State() State {
	return newState(c.ID, c.ctrl.Snapshot(), c.engaged.Load())
}

// SetReducedMotion updates the motion preference. It applies from the next
// bot message on.
func (c *Conversation) SetReducedMotion(reduced bool) {
	c.touch()
	c.reduced.Store(reduced)
}

// ReducedMotion reports the current motion preference.
func (c *Conversation) ReducedMotion() bool {
	return c.reduced.Load()
}

// Engaged reports whether the visitor has sent at least one message.
func (c *Conversation) Engaged() bool {
	return c.engaged.Load()
}

// IdleFor returns the time since the last visitor activity.
func (c *Conversation) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActive.Load()))
}

// Subscribe returns a channel that receives the current state and every
// later change. Slow readers only see the latest state. The channel is
// closed when the conversation is closed or cancel is called.
func (c *Conversation) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	offer(ch, c.last)
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Conversation) subscribers() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *Conversation) publish(s State) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.last = s
	for _, ch := range c.subs {
		offer(ch, s)
	}
}

func (c *Conversation) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// offer replaces any unread state in ch with s.
func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (c *Conversation) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

type recordJob struct {
	rec           *domain.ConversationRecord
	engageVisitor string
}

// Hub owns every live conversation, keyed by visitor and tab session.
type Hub struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	convs  map[string]map[string]*Conversation
	count  int
	closed bool

	recMu     sync.RWMutex
	recClosed bool
	records   chan recordJob
	recWG     sync.WaitGroup
}

// NewHub creates a hub and starts its record writer when a repository is
// configured.
func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ConversationLog == nil {
		opts.ConversationLog = noopConversationLogger{}
	}
	h := &Hub{
		opts:  opts,
		log:   logger,
		convs: make(map[string]map[string]*Conversation),
	}
	if opts.Repo != nil {
		h.records = make(chan recordJob, recordQueueSize)
		h.recWG.Add(1)
		go h.recordLoop()
	}
	return h
}

// Open returns the conversation for the visitor tab, mounting a new one if
// none exists. prefersReduced turns reduced motion on; it never turns it off.
func (h *Hub) Open(visitorID, sessionID string, prefersReduced bool) (*Conversation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	if conv, ok := h.convs[visitorID][sessionID]; ok {
		if prefersReduced {
			conv.reduced.Store(true)
		}
		conv.touch()
		return conv, nil
	}

	if limit := h.opts.MaxConversations; limit > 0 && h.count >= limit {
		h.log.Warn("Conversation cap reached", "visitor_id", visitorID, "mounted", h.count)
		return nil, ErrTooManyConversations
	}
	if limit := h.opts.MaxConversationsPerVisitor; limit > 0 && len(h.convs[visitorID]) >= limit {
		h.log.Warn("Visitor conversation cap reached", "visitor_id", visitorID, "mounted", len(h.convs[visitorID]))
		return nil, ErrTooManyConversations
	}

	conv := &Conversation{
		ID:        uuid.NewString(),
		VisitorID: visitorID,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		subs:      make(map[int]chan State),
	}
	conv.reduced.Store(h.opts.ReducedMotionDefault || prefersReduced)
	conv.touch()

	conv.ctrl = chat.NewController(chat.Config{
		Submitter:   h.opts.Submitter,
		Script:      h.opts.Script,
		Motion:      chat.MotionFunc(conv.reduced.Load),
		Scheduler:   h.opts.Scheduler,
		TypingDelay: h.opts.TypingDelay,
		Observer:    func(s chat.Snapshot) { h.observe(conv, s) },
		OnMessage:   func(m chat.Message) { h.onMessage(conv, m) },
	}, h.log.With("conversation_id", conv.ID))

	if _, exists := h.convs[visitorID]; !exists {
		h.convs[visitorID] = make(map[string]*Conversation)
	}
	h.convs[visitorID][sessionID] = conv
	h.count++

	h.log.Info("Conversation opened",
		"visitor_id", visitorID,
		"session_id", sessionID,
		"conversation_id", conv.ID,
		"reduced_motion", conv.reduced.Load())
	return conv, nil
}

// Get returns the conversation for the visitor tab, if mounted.
func (h *Hub) Get(visitorID, sessionID string) (*Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv, ok := h.convs[visitorID][sessionID]
	return conv, ok
}

// Len returns the number of mounted conversations.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Close unmounts one conversation. It reports whether one was mounted.
func (h *Hub) Close(visitorID, sessionID string) bool {
	h.mu.Lock()
	conv, ok := h.convs[visitorID][sessionID]
	if ok {
		h.removeLocked(conv)
	}
	h.mu.Unlock()

	if ok {
		h.dispose(conv, "closed")
	}
	return ok
}

// CloseVisitor unmounts every conversation of a visitor.
func (h *Hub) CloseVisitor(visitorID string) int {
	h.mu.Lock()
	var convs []*Conversation
	for _, conv := range h.convs[visitorID] {
		convs = append(convs, conv)
	}
	delete(h.convs, visitorID)
	h.count -= len(convs)
	h.mu.Unlock()

	for _, conv := range convs {
		h.dispose(conv, "visitor closed")
	}
	return len(convs)
}

// Sweep unmounts conversations idle for longer than ttl that have no
// connected subscribers.
func (h *Hub) Sweep(now time.Time, ttl time.Duration) int {
	h.mu.Lock()
	var idle []*Conversation
	for _, sessions := range h.convs {
		for _, conv := range sessions {
			if conv.IdleFor(now) > ttl && conv.subscribers() == 0 {
				idle = append(idle, conv)
			}
		}
	}
	for _, conv := range idle {
		h.removeLocked(conv)
	}
	h.mu.Unlock()

	for _, conv := range idle {
		h.dispose(conv, "idle")
	}
	return len(idle)
}

// CloseAll unmounts every conversation, refuses new ones and flushes
// pending records.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	var convs []*Conversation
	for _, sessions := range h.convs {
		for _, conv := range sessions {
			convs = append(convs, conv)
		}
	}
	h.convs = make(map[string]map[string]*Conversation)
	h.count = 0
	h.mu.Unlock()

	for _, conv := range convs {
		h.dispose(conv, "shutdown")
	}

	h.recMu.Lock()
	if !h.recClosed && h.records != nil {
		h.recClosed = true
		close(h.records)
	}
	h.recMu.Unlock()
	h.recWG.Wait()
}

func (h *Hub) removeLocked(conv *Conversation) {
	sessions := h.convs[conv.VisitorID]
	if current, ok := sessions[conv.SessionID]; ok && current == conv {
		delete(sessions, conv.SessionID)
		h.count--
		if len(sessions) == 0 {
			delete(h.convs, conv.VisitorID)
		}
	}
}

func (h *Hub) dispose(conv *Conversation, reason string) {
	conv.ctrl.Dispose()
	conv.closeSubscribers()
	h.enqueue(recordJob{rec: recordFor(conv, conv.ctrl.Snapshot())})
	h.opts.ConversationLog.Log(ConversationLogEvent{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		VisitorID:      conv.VisitorID,
		SessionID:      conv.SessionID,
		ConversationID: conv.ID,
		Channel:        "chat",
		Direction:      "outbound",
		EventType:      EventConversationClosed,
		Meta:           map[string]any{"reason": reason},
	})
	h.log.Info("Conversation closed",
		"visitor_id", conv.VisitorID,
		"session_id", conv.SessionID,
		"conversation_id", conv.ID,
		"reason", reason)
}

// observe runs under the controller lock.
func (h *Hub) observe(conv *Conversation, s chat.Snapshot) {
	conv.publish(newState(conv.ID, s, conv.engaged.Load()))

	if conv.recorded && conv.recordedPhase == s.Phase && conv.recordedStatus == s.SubmissionStatus {
		return
	}
	if conv.recorded && conv.recordedStatus != s.SubmissionStatus {
		h.opts.ConversationLog.Log(ConversationLogEvent{
			Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
			VisitorID:      conv.VisitorID,
			SessionID:      conv.SessionID,
			ConversationID: conv.ID,
			Channel:        "relay",
			Direction:      "outbound",
			EventType:      "submission_" + string(s.SubmissionStatus),
		})
	}
	conv.recorded = true
	conv.recordedPhase = s.Phase
	conv.recordedStatus = s.SubmissionStatus
	h.enqueue(recordJob{rec: recordFor(conv, s)})
}

// onMessage runs under the controller lock.
func (h *Hub) onMessage(conv *Conversation, m chat.Message) {
	direction, eventType := "outbound", "chat_bot_message"
	if m.Sender == chat.SenderUser {
		direction, eventType = "inbound", "chat_user_message"
		if conv.engaged.CompareAndSwap(false, true) {
			h.enqueue(recordJob{engageVisitor: conv.VisitorID})
		}
	}
	h.opts.ConversationLog.Log(ConversationLogEvent{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		VisitorID:      conv.VisitorID,
		SessionID:      conv.SessionID,
		ConversationID: conv.ID,
		Channel:        "chat",
		Direction:      direction,
		EventType:      eventType,
		ContentRaw:     m.Text,
	})
}

func recordFor(conv *Conversation, s chat.Snapshot) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		ConversationID:   conv.ID,
		VisitorID:        conv.VisitorID,
		SessionID:        conv.SessionID,
		Phase:            s.Phase.String(),
		SubmissionStatus: string(s.SubmissionStatus),
		MessageCount:     len(s.Messages),
		CreatedAt:        conv.CreatedAt,
		UpdatedAt:        time.Now(),
	}
}

func (h *Hub) enqueue(job recordJob) {
	h.recMu.RLock()
	defer h.recMu.RUnlock()
	if h.records == nil || h.recClosed {
		return
	}
	select {
	case h.records <- job:
	default:
		h.log.Warn("Conversation record queue full, dropping update")
	}
}

func (h *Hub) recordLoop() {
	defer h.recWG.Done()
	for job := range h.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if job.rec != nil {
			if err := h.opts.Repo.RecordConversation(ctx, job.rec); err != nil {
				h.log.Warn("Failed to record conversation",
					"conversation_id", job.rec.ConversationID,
					"error", err)
			}
		}
		if job.engageVisitor != "" {
			if err := h.opts.Repo.MarkEngaged(ctx, job.engageVisitor); err != nil {
				h.log.Warn("Failed to mark visitor engaged",
					"visitor_id", job.engageVisitor,
					"error", err)
			}
		}
		cancel()
	}
}

// ReducedMotionFromRequest reads the reduced motion client hint, or a
// reduced_motion query parameter for clients that cannot send it.
func ReducedMotionFromRequest(r *http.Request) bool {
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Sec-CH-Prefers-Reduced-Motion")), "reduce") {
		return true
	}
	switch strings.ToLower(r.URL.Query().Get("reduced_motion")) {
	case "1", "true", "reduce":
		return true
	}
	return false
}
