// Package whatsapp implements the WhatsApp Business Cloud API channel:
// outbound text sends through the Graph API and inbound webhook payload
// decoding for the gateway.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/channels"
	"github.com/DavidFlores79/wadesk/internal/config"
)

const defaultAPIBase = "https://graph.facebook.com/v19.0"

// Channel sends messages through the WhatsApp Cloud API. Inbound
// messages arrive via the gateway webhook, not here, so Start only
// flips the running flag.
type Channel struct {
	*channels.BaseChannel
	config  config.WhatsAppConfig
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a WhatsApp channel from config.
func New(cfg config.WhatsAppConfig) (*Channel, error) {
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone_number_id is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token is required (set WADESK_WA_TOKEN)")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	perSec := cfg.SendRatePerSec
	if perSec <= 0 {
		perSec = 10
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp"),
		config:      cfg,
		apiBase:     apiBase,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(perSec), int(perSec)),
	}, nil
}

// Start marks the channel running. The Cloud API is stateless HTTP.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting whatsapp channel", "phone_number_id", c.config.PhoneNumberID)
	c.SetRunning(true)
	return nil
}

// Stop marks the channel stopped.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")
	c.SetRunning(false)
	return nil
}

// sendRequest is the Cloud API /messages body for a text send.
type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// Send delivers an outbound text message. The limiter smooths bursts
// from batch flushes so the Cloud API does not throttle us.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.To == "" {
		return fmt.Errorf("whatsapp send: empty recipient")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp send rate wait: %w", err)
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "text",
		Text:             sendText{Body: msg.Content},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, string(detail))
	}

	slog.Debug("whatsapp message sent",
		"to", msg.To,
		"preview", channels.Truncate(msg.Content, 50),
	)
	return nil
}
