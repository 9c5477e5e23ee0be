package tools

import (
	"context"
	"fmt"
)

// PriorityEscalator raises a customer's conversation priority and
// suggests an agent takeover. Implemented by the lifecycle machine.
type PriorityEscalator interface {
	EscalateByCustomer(ctx context.Context, customerID, reason string) error
}

// EscalateTool lets the assistant flag a conversation for human attention.
type EscalateTool struct {
	escalator PriorityEscalator
}

func NewEscalateTool(escalator PriorityEscalator) *EscalateTool {
	return &EscalateTool{escalator: escalator}
}

func (t *EscalateTool) Name() string { return "escalate_priority" }

func (t *EscalateTool) Description() string {
	return "Raise the priority of the customer's conversation and suggest a human agent takes over."
}

func (t *EscalateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"customer_id": map[string]interface{}{
				"type":        "string",
				"description": "Customer identifier (phone number).",
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the conversation needs human attention.",
			},
		},
		"required": []string{"customer_id", "reason"},
	}
}

func (t *EscalateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	customerID := argString(args, "customer_id")
	reason := argString(args, "reason")

	if err := t.escalator.EscalateByCustomer(ctx, customerID, reason); err != nil {
		return ErrorResult(fmt.Sprintf("escalate: %v", err))
	}
	return NewResult("conversation escalated; an agent has been notified")
}
