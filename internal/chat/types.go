// Package chat implements the conversational contact form: a four-phase
// dialogue that collects a visitor's name, question and email address and
// relays the transcript through a Submitter.
package chat

import "fmt"

// Phase is the dialogue cursor. Phases only move forward.
type Phase int

const (
	// PhaseAskName waits for the visitor's name.
	PhaseAskName Phase = iota
	// PhaseAwaitingQuestion waits for a free-form question.
	PhaseAwaitingQuestion
	// PhaseAskEmail waits for a valid email address.
	PhaseAskEmail
	// PhaseCompleted is terminal; input is ignored.
	PhaseCompleted
)

var phaseNames = [...]string{
	PhaseAskName:          "ask_name",
	PhaseAwaitingQuestion: "awaiting_question",
	PhaseAskEmail:         "ask_email",
	PhaseCompleted:        "completed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(phaseNames) {
		return nil, fmt.Errorf("unknown phase %d", int(p))
	}
	return []byte(phaseNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts a phase name back to a Phase.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return PhaseAskName, fmt.Errorf("unknown phase %q", s)
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderBot  Sender = "bot"
	SenderUser Sender = "user"
)

// Label is the transcript prefix for the sender.
func (s Sender) Label() string {
	if s == SenderBot {
		return "Bot"
	}
	return "You"
}

// Message is one immutable entry in the conversation log.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Fields holds the values collected from the visitor.
type Fields struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SubmissionStatus is the result of the single outbound submission.
type SubmissionStatus string

const (
	SubmissionNone    SubmissionStatus = "none"
	SubmissionSuccess SubmissionStatus = "success"
	SubmissionError   SubmissionStatus = "error"
)

// Snapshot is a read-only copy of the conversation state.
type Snapshot struct {
	Phase            Phase            `json:"phase"`
	Messages         []Message        `json:"messages"`
	IsBotTyping      bool             `json:"is_bot_typing"`
	SubmissionStatus SubmissionStatus `json:"submission_status"`
}

// InputType is the input control type the rendering layer should use.
func (s Snapshot) InputType() string {
	if s.Phase == PhaseAskEmail {
		return "email"
	}
	return "text"
}

// InputEnabled reports whether the input control accepts text right now.
func (s Snapshot) InputEnabled() bool {
	return s.InputVisible() && !s.IsBotTyping
}

// InputVisible reports whether the input control should be shown at all.
func (s Snapshot) InputVisible() bool {
	return s.Phase != PhaseCompleted
}
