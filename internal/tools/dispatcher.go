package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/DavidFlores79/wadesk/internal/provider"
)

// Dispatcher executes the tool calls requested by one AI run and
// assembles the outputs submitted back as a batch. Each invocation is
// independent: one failure never blocks the others, and every call
// produces an output (an error description on failure) so the run can
// always resume.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over a registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Execute runs all calls and returns their outputs in call order.
// allFailed is true when not a single invocation succeeded, letting the
// caller fail the run gracefully instead of hanging it.
func (d *Dispatcher) Execute(ctx context.Context, calls []provider.ToolCall) (outputs []provider.ToolOutput, allFailed bool) {
	if len(calls) == 0 {
		return nil, false
	}

	// Single call: no goroutine overhead.
	if len(calls) == 1 {
		result := d.executeOne(ctx, calls[0])
		return []provider.ToolOutput{{CallID: calls[0].ID, Output: result.ForRun}}, result.IsError
	}

	// Multiple calls: parallel execution, results collected then ordered
	// by original index for deterministic submission.
	type indexed struct {
		idx    int
		output provider.ToolOutput
		failed bool
	}

	resultCh := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call provider.ToolCall) {
			defer wg.Done()
			result := d.executeOne(ctx, call)
			resultCh <- indexed{
				idx:    idx,
				output: provider.ToolOutput{CallID: call.ID, Output: result.ForRun},
				failed: result.IsError,
			}
		}(i, call)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexed, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	allFailed = true
	outputs = make([]provider.ToolOutput, 0, len(collected))
	for _, r := range collected {
		outputs = append(outputs, r.output)
		if !r.failed {
			allFailed = false
		}
	}
	return outputs, allFailed
}

func (d *Dispatcher) executeOne(ctx context.Context, call provider.ToolCall) *Result {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		slog.Warn("dispatch: unknown tool requested", "tool", call.Name)
		return ErrorResult(fmt.Sprintf("unknown tool %q", call.Name))
	}

	var args map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := validateArgs(tool, args); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	slog.Info("dispatch: tool call", "tool", call.Name, "call_id", call.ID)
	result := tool.Execute(ctx, args)
	if result == nil {
		return ErrorResult(fmt.Sprintf("tool %s returned no result", call.Name))
	}
	if result.IsError {
		slog.Warn("dispatch: tool error", "tool", call.Name, "error", result.ForRun)
	}
	return result
}
