package tools

// Result is the unified return type from tool execution.
type Result struct {
	// ForRun is the text submitted back to the AI run.
	ForRun string
	// IsError marks the invocation as failed; the text still goes back
	// to the run so it can react.
	IsError bool
}

// NewResult returns a successful result.
func NewResult(forRun string) *Result {
	return &Result{ForRun: forRun}
}

// ErrorResult returns a failed result carrying an error description.
func ErrorResult(message string) *Result {
	return &Result{ForRun: message, IsError: true}
}
