// Package hangout implements the invitation and acknowledgement relay between
// two users: the state machine, persistence of both sides, and notification
// of the peer.
package hangout

import (
	"github.com/observer/hangouts/internal/domain"
)

// Transition computes the next states for both sides of a hangout.
// senderState is the sender's record about the target, targetState the
// target's record about the sender. An empty state means no record exists.
func Transition(action domain.HangoutAction, senderState, targetState domain.HangoutState) (domain.HangoutState, domain.HangoutState, error) {
	if !action.Valid() {
		return "", "", domain.ErrInvalidAction
	}

	switch action {
	case domain.ActionBlock:
		if senderState == domain.StateBlocked {
			return "", "", domain.ErrInvalidTransition
		}
		// A target that already blocked the sender keeps its own block.
		if targetState == domain.StateBlocked {
			return domain.StateBlocked, domain.StateBlocked, nil
		}
		return domain.StateBlocked, domain.StateBlocker, nil

	case domain.ActionUnblock:
		if senderState != domain.StateBlocked {
			return "", "", domain.ErrInvalidTransition
		}
		if targetState == domain.StateBlocked {
			return domain.StateBlocker, domain.StateBlocked, nil
		}
		return domain.StateUnblocked, domain.StateUnblocker, nil
	}

	if senderState == domain.StateBlocked {
		return "", "", domain.ErrInvalidTransition
	}
	if senderState == domain.StateBlocker || targetState == domain.StateBlocked {
		return "", "", domain.ErrBlocked
	}

	switch action {
	case domain.ActionInvite:
		switch senderState {
		case "", domain.StateInvited, domain.StateDeclined, domain.StateDecliner,
			domain.StateUnblocked, domain.StateUnblocker:
			return domain.StateInvited, domain.StateInviter, nil
		}

	case domain.ActionAccept:
		if senderState == domain.StateInviter {
			return domain.StateAccepted, domain.StateAccepter, nil
		}

	case domain.ActionDecline:
		if senderState == domain.StateInviter {
			return domain.StateDeclined, domain.StateDecliner, nil
		}

	case domain.ActionMessage:
		if senderState.IsConnected() {
			return domain.StateMessaged, domain.StateMessanger, nil
		}
	}

	return "", "", domain.ErrInvalidTransition
}
