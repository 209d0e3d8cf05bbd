package chat

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// emailPattern mirrors the browser-side check used by the contact widget.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Script holds everything the bot says.
type Script struct {
	Greeting           string   `yaml:"greeting"`
	NameReply          string   `yaml:"name_reply"` // {{name}} is replaced with the visitor's name
	CapabilityPatterns []string `yaml:"capability_patterns"`
	CapabilityReplies  []string `yaml:"capability_replies"`
	EmailRequest       []string `yaml:"email_request"`
	InvalidEmail       string   `yaml:"invalid_email"`
	ThankYou           string   `yaml:"thank_you"`
	SubmitSuccess      string   `yaml:"submit_success"`
	SubmitFailure      string   `yaml:"submit_failure"`
}

// DefaultScript returns the wording used on the portfolio site.
func DefaultScript() Script {
	return Script{
		Greeting:  "Hi, welcome! What's your name?",
		NameReply: "Nice to meet you, {{name}}! I'm here to help. Try asking me what I can do or tell me more about your project.",
		CapabilityPatterns: []string{
			"what can you do",
			"what do you do",
			"what are your skills",
		},
		CapabilityReplies: []string{
			"I build full-stack apps with React, Spring Boot, MySQL and more. I'm experienced in API development, microservices and cloud deployments.",
			"If you have a specific question or project in mind, feel free to ask!",
		},
		EmailRequest: []string{
			"That's a great question. I'll get back to you by email with a full answer.",
			"Could you please provide your email so I can follow up?",
		},
		InvalidEmail:  "Hmm, that email doesn't look valid. Could you try again?",
		ThankYou:      "Thanks! I'll reach out to you soon.",
		SubmitSuccess: "Your message has been sent! I'll get back to you soon.",
		SubmitFailure: "Oops! Something went wrong. Please try again later.",
	}
}

// LoadScript reads a YAML script file and layers it over DefaultScript.
// Fields missing from the file keep their default wording.
func LoadScript(path string) (Script, error) {
	script := DefaultScript()
	if path == "" {
		return script, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return script, fmt.Errorf("read bot script: %w", err)
	}

	var override Script
	if err := yaml.Unmarshal(data, &override); err != nil {
		return script, fmt.Errorf("parse bot script %s: %w", path, err)
	}

	script.merge(override)
	if err := script.Validate(); err != nil {
		return script, fmt.Errorf("bot script %s: %w", path, err)
	}
	return script, nil
}

func (s *Script) merge(o Script) {
	setString := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setList := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}

	setString(&s.Greeting, o.Greeting)
	setString(&s.NameReply, o.NameReply)
	setList(&s.CapabilityPatterns, o.CapabilityPatterns)
	setList(&s.CapabilityReplies, o.CapabilityReplies)
	setList(&s.EmailRequest, o.EmailRequest)
	setString(&s.InvalidEmail, o.InvalidEmail)
	setString(&s.ThankYou, o.ThankYou)
	setString(&s.SubmitSuccess, o.SubmitSuccess)
	setString(&s.SubmitFailure, o.SubmitFailure)
}

// Validate checks that every step of the dialogue has something to say.
func (s Script) Validate() error {
	switch {
	case s.Greeting == "":
		return fmt.Errorf("greeting cannot be empty")
	case s.NameReply == "":
		return fmt.Errorf("name_reply cannot be empty")
	case len(s.CapabilityReplies) == 0:
		return fmt.Errorf("capability_replies cannot be empty")
	case len(s.EmailRequest) == 0:
		return fmt.Errorf("email_request cannot be empty")
	case s.InvalidEmail == "" || s.ThankYou == "":
		return fmt.Errorf("invalid_email and thank_you cannot be empty")
	case s.SubmitSuccess == "" || s.SubmitFailure == "":
		return fmt.Errorf("submit_success and submit_failure cannot be empty")
	}
	return nil
}

// GreetName renders the reply sent after the visitor gives their name.
func (s Script) GreetName(name string) string {
	return strings.ReplaceAll(s.NameReply, "{{name}}", name)
}

// IsCapabilityQuery reports whether text asks what the developer can do.
func (s Script) IsCapabilityQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range s.CapabilityPatterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Transcript renders messages as "Bot: ..." / "You: ..." lines in log order.
func Transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Sender.Label())
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}
