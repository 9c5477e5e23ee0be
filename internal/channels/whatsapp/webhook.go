package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/DavidFlores79/wadesk/internal/bus"
)

// webhookPayload mirrors the Cloud API webhook envelope. Only the
// fields the gateway consumes are declared.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Contacts         []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// DecodeWebhook parses a Cloud API webhook POST body into inbound
// messages. Status-only notifications (delivery receipts) decode to an
// empty slice, not an error. Non-text message types are passed through
// with a placeholder body so the assistant can respond sensibly.
func DecodeWebhook(body []byte) ([]bus.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", payload.Object)
	}

	var messages []bus.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				content := msg.Text.Body
				if msg.Type != "text" || content == "" {
					content = "[" + msg.Type + " message]"
				}
				ts, _ := strconv.ParseInt(msg.Timestamp, 10, 64)

				inbound := bus.InboundMessage{
					Channel:   "whatsapp",
					MessageID: msg.ID,
					SenderID:  msg.From,
					Content:   content,
					Type:      msg.Type,
					Timestamp: ts,
				}
				if name := names[msg.From]; name != "" {
					inbound.Metadata = map[string]string{"user_name": name}
				}
				messages = append(messages, inbound)
			}
		}
	}
	return messages, nil
}

// VerifyChallenge implements the Cloud API subscription handshake:
// given the hub.* query params, it returns the challenge to echo back,
// or ok=false when the mode or token does not match.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" || token != verifyToken {
		return "", false
	}
	return challenge, true
}
