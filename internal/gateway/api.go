package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/lifecycle"
	"github.com/DavidFlores79/wadesk/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type conversationResponse struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	Status        string    `json:"status"`
	AssignedAgent string    `json:"assigned_agent,omitempty"`
	Priority      string    `json:"priority"`
	AIEnabled     bool      `json:"ai_enabled"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type assignmentResponse struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agent_id"`
	AssignedAt    time.Time  `json:"assigned_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleaseReason string     `json:"release_reason,omitempty"`
	DurationSec   float64    `json:"duration_sec,omitempty"`
	Analysis      string     `json:"analysis,omitempty"`
}

func toConversationResponse(conv *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:            conv.ID.String(),
		CustomerID:    conv.CustomerID,
		Status:        string(conv.Status),
		AssignedAgent: conv.AssignedAgent,
		Priority:      conv.Priority,
		AIEnabled:     conv.AIEnabled,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

// writeLifecycleError maps domain errors onto HTTP statuses: guard
// rejections are 409, missing conversations 404, concurrent-update
// losses 409, everything else 500.
func writeLifecycleError(w http.ResponseWriter, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, errorResponse{Error: te.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found"})
	case errors.Is(err, store.ErrStaleStatus):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conversation changed concurrently, retry"})
	default:
		slog.Error("lifecycle action failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func pathConversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	conv, err := s.stores.Conversations.Get(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	records, err := s.stores.Assignments.ListForConversation(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(records))
	for _, rec := range records {
		resp := assignmentResponse{
			ID:            rec.ID.String(),
			AgentID:       rec.AgentID,
			AssignedAt:    rec.AssignedAt,
			ReleaseReason: rec.ReleaseReason,
			DurationSec:   rec.Duration.Seconds(),
			Analysis:      rec.Analysis,
		}
		if !rec.ReleasedAt.IsZero() {
			released := rec.ReleasedAt
			resp.ReleasedAt = &released
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "agent_id is required"})
		return
	}

	result, err := s.machine.Assign(r.Context(), id, req.AgentID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Conversation conversationResponse `json:"conversation"`
		Summary      string               `json:"summary,omitempty"`
	}{toConversationResponse(result.Conversation), result.Summary})
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	conv, err := s.machine.Wait(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	conv, err := s.machine.Release(r.Context(), id, req.Reason)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	conv, err := s.machine.Resolve(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	conv, err := s.machine.Close(r.Context(), id, req.Force)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathConversationID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	conv, err := s.machine.Reopen(r.Context(), id, req.Reason)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

// handleSendMessage lets an assigned human agent reply to a customer
// through the same outbound path the assistant uses.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" || req.Content == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "to and content are required"})
		return
	}
	s.router.PublishOutbound(bus.OutboundMessage{
		Channel: "whatsapp",
		To:      req.To,
		Content: req.Content,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
