// Package provider defines the conversational-AI capability surface the
// thread manager runs against, plus the error taxonomy the rest of the
// system keys retry decisions on. The concrete implementation talks to
// the OpenAI Assistants API; tests substitute a fake.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the provider-side state of one run over a thread.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Active reports whether the run still occupies the thread: no message
// may be appended while a run is in one of these states.
func (s RunStatus) Active() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return true
	}
	return false
}

// Terminal reports whether the run has finished for good.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// Run is the provider view of one execution over a thread.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // populated when Status == RunRequiresAction
}

// ToolCall is a structured side-effecting action the run requests.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolOutput is the result of one tool call, fed back into the run.
type ToolOutput struct {
	CallID string
	Output string
}

// Message is a thread message.
type Message struct {
	ID        string
	Role      string
	Text      string
	CreatedAt time.Time
}

// ThreadClient is the remote conversational-AI capability surface.
// All calls may fail transiently; callers classify with IsTransient.
type ThreadClient interface {
	CreateThread(ctx context.Context) (threadID string, err error)
	AppendMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
	DeleteMessage(ctx context.Context, threadID, messageID string) error
}

// Summarizer produces free-form analyses of conversation transcripts
// (takeover summaries, interaction-quality reviews).
type Summarizer interface {
	Summarize(ctx context.Context, instruction, transcript string) (string, error)
}

// TransientError marks a provider failure worth a bounded retry:
// rate limits, run conflicts, 5xx responses, network timeouts.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrRunActive is returned when a thread already has an unfinished run.
var ErrRunActive = errors.New("provider: a run is already active on this thread")
