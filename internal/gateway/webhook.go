package gateway

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DavidFlores79/wadesk/internal/channels/whatsapp"
)

const maxWebhookBody = 1 << 20 // Cloud API payloads are small

// handleWebhookVerify answers the Cloud API subscription handshake.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifyChallenge(
		q.Get("hub.mode"),
		q.Get("hub.verify_token"),
		q.Get("hub.challenge"),
		s.cfg.WhatsApp.VerifyToken,
	)
	if !ok {
		slog.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// handleWebhookEvent accepts inbound Cloud API notifications. It always
// acks fast: the payload is decoded and queued on the bus, and all real
// work (dedup, batching, AI) happens downstream. A non-200 would make
// Meta retry and eventually disable the webhook.
func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	messages, err := whatsapp.DecodeWebhook(body)
	if err != nil {
		// Malformed or foreign payload. Ack anyway so Meta stops retrying.
		slog.Warn("undecodable webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range messages {
		if !s.rateLimiter.Allow(msg.SenderID) {
			slog.Warn("inbound message rate limited", "sender", msg.SenderID)
			continue
		}
		s.router.PublishInbound(msg)
	}

	w.WriteHeader(http.StatusOK)
}
