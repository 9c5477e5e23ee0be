package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements ThreadClient and Summarizer against the
// OpenAI Assistants API.
type OpenAIClient struct {
	client      *openai.Client
	assistantID string
	model       string
}

// NewOpenAIClient builds the client. The API key must be present; a
// missing key is a fatal configuration error caught at startup, never
// during per-message processing.
func NewOpenAIClient(apiKey, assistantID, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		assistantID: assistantID,
		model:       model,
	}, nil
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classify("create thread", err)
	}
	return thread.ID, nil
}

func (c *OpenAIClient) AppendMessage(ctx context.Context, threadID, text string) error {
	_, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return classify("append message", err)
	}
	return nil
}

func (c *OpenAIClient) StartRun(ctx context.Context, threadID string) (*Run, error) {
	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return nil, classify("start run", err)
	}
	return convertRun(threadID, run), nil
}

func (c *OpenAIClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := c.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, classify("poll run", err)
	}
	return convertRun(threadID, run), nil
}

func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	toolOutputs := make([]openai.ToolOutput, 0, len(outputs))
	for _, out := range outputs {
		toolOutputs = append(toolOutputs, openai.ToolOutput{
			ToolCallID: out.CallID,
			Output:     out.Output,
		})
	}

	run, err := c.client.SubmitToolOutputs(ctx, threadID, runID, openai.SubmitToolOutputsRequest{
		ToolOutputs: toolOutputs,
	})
	if err != nil {
		return nil, classify("submit tool outputs", err)
	}
	return convertRun(threadID, run), nil
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	order := "desc"
	list, err := c.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, classify("list messages", err)
	}

	out := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		out = append(out, Message{
			ID:        m.ID,
			Role:      m.Role,
			Text:      messageText(m),
			CreatedAt: time.Unix(int64(m.CreatedAt), 0),
		})
	}
	return out, nil
}

func (c *OpenAIClient) DeleteMessage(ctx context.Context, threadID, messageID string) error {
	if _, err := c.client.DeleteMessage(ctx, threadID, messageID); err != nil {
		return classify("delete message", err)
	}
	return nil
}

// Summarize runs a one-shot chat completion, used for takeover
// summaries and interaction-quality analyses.
func (c *OpenAIClient) Summarize(ctx context.Context, instruction, transcript string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", classify("summarize", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func convertRun(threadID string, run openai.Run) *Run {
	out := &Run{
		ID:       run.ID,
		ThreadID: threadID,
		Status:   RunStatus(run.Status),
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}

func messageText(m openai.Message) string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Text != nil {
			sb.WriteString(part.Text.Value)
		}
	}
	return sb.String()
}

// classify wraps retryable provider failures in TransientError so
// callers can apply bounded retries; everything else passes through.
func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 409,
			apiErr.HTTPStatusCode == 429,
			apiErr.HTTPStatusCode >= 500:
			return &TransientError{Op: op, Err: err}
		case apiErr.HTTPStatusCode == 400 && strings.Contains(apiErr.Message, "while a run"):
			// Appending to a thread with an active run; resolves once the
			// run finishes, so it is worth the bounded retry.
			return &TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}

	return fmt.Errorf("%s: %w", op, err)
}
