package tools

import (
	"context"
	"fmt"

	"github.com/DavidFlores79/wadesk/internal/store"
)

// CreateTicketTool opens a support ticket on the customer's behalf.
type CreateTicketTool struct {
	tickets store.TicketStore
}

func NewCreateTicketTool(tickets store.TicketStore) *CreateTicketTool {
	return &CreateTicketTool{tickets: tickets}
}

func (t *CreateTicketTool) Name() string { return "create_ticket" }

func (t *CreateTicketTool) Description() string {
	return "Open a support ticket for the customer. Returns the ticket identifier to quote back to them."
}

func (t *CreateTicketTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"customer_id": map[string]interface{}{
				"type":        "string",
				"description": "Customer identifier (phone number).",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Short summary of the issue.",
			},
			"detail": map[string]interface{}{
				"type":        "string",
				"description": "Full issue description.",
			},
		},
		"required": []string{"customer_id", "subject"},
	}
}

func (t *CreateTicketTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	ticket := &store.Ticket{
		CustomerID: argString(args, "customer_id"),
		Subject:    argString(args, "subject"),
		Detail:     argString(args, "detail"),
	}
	if err := t.tickets.Create(ctx, ticket); err != nil {
		return ErrorResult(fmt.Sprintf("create ticket: %v", err))
	}
	return NewResult(fmt.Sprintf("ticket created: %s", ticket.ID))
}

func argString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
