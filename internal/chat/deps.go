package chat

import (
	"context"
	"time"
)

// MotionPreference reports whether the visitor asked for reduced motion.
// When it does, bot messages skip the typing delay.
type MotionPreference interface {
	PrefersReducedMotion() bool
}

// ReducedMotion is a fixed MotionPreference.
type ReducedMotion bool

// PrefersReducedMotion implements MotionPreference.
func (r ReducedMotion) PrefersReducedMotion() bool { return bool(r) }

// MotionFunc adapts a function to MotionPreference.
type MotionFunc func() bool

// PrefersReducedMotion implements MotionPreference.
func (f MotionFunc) PrefersReducedMotion() bool { return f() }

// Timer is a scheduled task that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Submission is the payload relayed once the email is captured.
type Submission struct {
	Name       string
	Email      string
	Transcript string
}

// Outcome distinguishes the two results of a submission.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
)

// Result is what a Submitter reports back. Err and StatusCode are
// informational; the controller only looks at Outcome.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Succeeded builds a success result.
func Succeeded(statusCode int) Result {
	return Result{Outcome: OutcomeSuccess, StatusCode: statusCode}
}

// Failed builds an error result.
func Failed(statusCode int, err error) Result {
	return Result{Outcome: OutcomeError, StatusCode: statusCode, Err: err}
}

// Submitter delivers a finished conversation. It is called at most once
// per controller and must honour ctx cancellation.
type Submitter interface {
	Submit(ctx context.Context, s Submission) Result
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, s Submission) Result

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, s Submission) Result { return f(ctx, s) }
