package tools

import (
	"context"
	"fmt"
)

// OrderLookupFunc resolves an order reference to a human-readable
// status line. Wired to whatever order system the deployment has.
type OrderLookupFunc func(ctx context.Context, orderRef string) (string, error)

// OrderStatusTool answers "where is my order" questions.
type OrderStatusTool struct {
	lookup OrderLookupFunc
}

func NewOrderStatusTool(lookup OrderLookupFunc) *OrderStatusTool {
	return &OrderStatusTool{lookup: lookup}
}

func (t *OrderStatusTool) Name() string { return "order_status" }

func (t *OrderStatusTool) Description() string {
	return "Look up the current status of a customer's order by its reference."
}

func (t *OrderStatusTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"order_ref": map[string]interface{}{
				"type":        "string",
				"description": "Order reference the customer provided.",
			},
		},
		"required": []string{"order_ref"},
	}
}

func (t *OrderStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	ref := argString(args, "order_ref")

	status, err := t.lookup(ctx, ref)
	if err != nil {
		return ErrorResult(fmt.Sprintf("order lookup failed for %s: %v", ref, err))
	}
	return NewResult(status)
}
