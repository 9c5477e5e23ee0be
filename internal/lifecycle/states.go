package lifecycle

import (
	"fmt"

	"github.com/DavidFlores79/wadesk/internal/store"
)

// Action is an operator- or system-initiated lifecycle operation.
type Action string

const (
	ActionAssign  Action = "assign"
	ActionWait    Action = "wait"
	ActionRelease Action = "release"
	ActionResolve Action = "resolve"
	ActionClose   Action = "close"
	ActionReopen  Action = "reopen"
)

// Effect is a side effect the machine runs after a transition commits.
type Effect int

const (
	// EffectCloseAssignment closes the open assignment record.
	EffectCloseAssignment Effect = iota
	// EffectOpenAssignment creates a new assignment record for the actor.
	EffectOpenAssignment
	// EffectTakeoverSummary generates a conversation summary for the
	// incoming agent, synchronously, before the assign call returns.
	EffectTakeoverSummary
	// EffectReleaseAnalysis runs the post-release quality analysis in the
	// background and attaches it to the closed assignment record.
	EffectReleaseAnalysis
	// EffectNotifyCustomer sends the resolution confirmation message.
	// The sweep later closes resolved conversations that stay quiet.
	EffectNotifyCustomer
)

// Transition is the planned outcome of applying an Action to a
// conversation in a given state.
type Transition struct {
	To      store.Status
	Update  store.StatusUpdate
	Effects []Effect
}

// TransitionError reports an action rejected by the state machine guards.
type TransitionError struct {
	Action Action
	From   store.Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot %s conversation in status %q: %s", e.Action, e.From, e.Reason)
}

func reject(action Action, from store.Status, reason string) error {
	return &TransitionError{Action: action, From: from, Reason: reason}
}

// plan validates an action against the current conversation state and
// returns the transition to apply. It never touches storage.
func plan(action Action, conv *store.Conversation, agentID string, force bool) (Transition, error) {
	from := conv.Status

	switch action {
	case ActionAssign:
		if agentID == "" {
			return Transition{}, reject(action, from, "agent id required")
		}
		switch from {
		case store.StatusOpen, store.StatusWaiting:
			return Transition{
				To: store.StatusAssigned,
				Update: store.StatusUpdate{
					From:          from,
					To:            store.StatusAssigned,
					AssignedAgent: agentID,
					AIEnabled:     false,
				},
				Effects: []Effect{EffectOpenAssignment, EffectTakeoverSummary},
			}, nil
		case store.StatusAssigned:
			if conv.AssignedAgent == agentID {
				return Transition{}, reject(action, from, "already assigned to this agent")
			}
			// Transfer: close the previous agent's record first.
			return Transition{
				To: store.StatusAssigned,
				Update: store.StatusUpdate{
					From:          from,
					To:            store.StatusAssigned,
					AssignedAgent: agentID,
					AIEnabled:     false,
				},
				Effects: []Effect{EffectCloseAssignment, EffectOpenAssignment, EffectTakeoverSummary},
			}, nil
		default:
			return Transition{}, reject(action, from, "conversation is not active")
		}

	case ActionWait:
		if from != store.StatusAssigned {
			return Transition{}, reject(action, from, "only assigned conversations can wait on the customer")
		}
		// The agent keeps ownership; the AI stays paused. The sweep
		// resolves the conversation if the customer never comes back.
		return Transition{
			To: store.StatusWaiting,
			Update: store.StatusUpdate{
				From:          from,
				To:            store.StatusWaiting,
				AssignedAgent: conv.AssignedAgent,
			},
		}, nil

	case ActionRelease:
		switch from {
		case store.StatusAssigned, store.StatusWaiting:
			return Transition{
				To: store.StatusOpen,
				Update: store.StatusUpdate{
					From:      from,
					To:        store.StatusOpen,
					AIEnabled: true,
				},
				Effects: []Effect{EffectCloseAssignment, EffectReleaseAnalysis},
			}, nil
		default:
			return Transition{}, reject(action, from, "no agent to release")
		}

	case ActionResolve:
		switch from {
		case store.StatusOpen, store.StatusAssigned, store.StatusWaiting:
			effects := []Effect{EffectNotifyCustomer}
			if conv.AssignedAgent != "" {
				effects = append([]Effect{EffectCloseAssignment}, effects...)
			}
			return Transition{
				To: store.StatusResolved,
				Update: store.StatusUpdate{
					From: from,
					To:   store.StatusResolved,
				},
				Effects: effects,
			}, nil
		default:
			return Transition{}, reject(action, from, "conversation already finished")
		}

	case ActionClose:
		if from == store.StatusClosed {
			return Transition{}, reject(action, from, "already closed")
		}
		if from != store.StatusResolved && !force {
			return Transition{}, reject(action, from, "only resolved conversations close without force")
		}
		var effects []Effect
		if conv.AssignedAgent != "" {
			effects = append(effects, EffectCloseAssignment)
		}
		return Transition{
			To: store.StatusClosed,
			Update: store.StatusUpdate{
				From: from,
				To:   store.StatusClosed,
			},
			Effects: effects,
		}, nil

	case ActionReopen:
		if from != store.StatusClosed {
			return Transition{}, reject(action, from, "only closed conversations reopen")
		}
		return Transition{
			To: store.StatusOpen,
			Update: store.StatusUpdate{
				From:      from,
				To:        store.StatusOpen,
				AIEnabled: true,
			},
		}, nil

	default:
		return Transition{}, reject(action, from, "unknown action")
	}
}
