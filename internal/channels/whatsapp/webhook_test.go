package whatsapp

import (
	"testing"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550783881", "phone_number_id": "106540352242922"},
        "contacts": [{"profile": {"name": "Maria Lopez"}, "wa_id": "521555123456"}],
        "messages": [{
          "from": "521555123456",
          "id": "wamid.HBgLNTIxNTU1MTIzNDU2FQIAEhgg",
          "timestamp": "1724766123",
          "type": "text",
          "text": {"body": "hola, tengo un problema con mi pedido"}
        }]
      }
    }]
  }]
}`

const statusOnlyPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "statuses": [{"id": "wamid.X", "status": "delivered"}]
      }
    }]
  }]
}`

func TestDecodeWebhookTextMessage(t *testing.T) {
	messages, err := DecodeWebhook([]byte(samplePayload))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}

	msg := messages[0]
	if msg.Channel != "whatsapp" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.SenderID != "521555123456" {
		t.Errorf("sender = %q", msg.SenderID)
	}
	if msg.MessageID != "wamid.HBgLNTIxNTU1MTIzNDU2FQIAEhgg" {
		t.Errorf("message id = %q", msg.MessageID)
	}
	if msg.Content != "hola, tengo un problema con mi pedido" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Timestamp != 1724766123 {
		t.Errorf("timestamp = %d", msg.Timestamp)
	}
	if msg.Metadata["user_name"] != "Maria Lopez" {
		t.Errorf("user_name = %q", msg.Metadata["user_name"])
	}
}

func TestDecodeWebhookStatusOnly(t *testing.T) {
	messages, err := DecodeWebhook([]byte(statusOnlyPayload))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("status notification should yield no messages, got %d", len(messages))
	}
}

func TestDecodeWebhookNonText(t *testing.T) {
	payload := `{
	  "object": "whatsapp_business_account",
	  "entry": [{"changes": [{"field": "messages", "value": {
	    "messages": [{"from": "1555", "id": "wamid.A", "timestamp": "1", "type": "image"}]
	  }}]}]
	}`
	messages, err := DecodeWebhook([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeWebhook: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d", len(messages))
	}
	if messages[0].Content != "[image message]" {
		t.Errorf("content = %q", messages[0].Content)
	}
	if messages[0].Type != "image" {
		t.Errorf("type = %q", messages[0].Type)
	}
}

func TestDecodeWebhookRejectsForeignObject(t *testing.T) {
	if _, err := DecodeWebhook([]byte(`{"object": "page", "entry": []}`)); err == nil {
		t.Fatal("expected error for non-whatsapp object")
	}
	if _, err := DecodeWebhook([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestVerifyChallenge(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		token     string
		verify    string
		wantOK    bool
	}{
		{"valid", "subscribe", "secret", "secret", true},
		{"wrong token", "subscribe", "nope", "secret", false},
		{"wrong mode", "unsubscribe", "secret", "secret", false},
		{"unconfigured", "subscribe", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, ok := VerifyChallenge(tt.mode, tt.token, "12345", tt.verify)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && challenge != "12345" {
				t.Fatalf("challenge = %q", challenge)
			}
		})
	}
}
