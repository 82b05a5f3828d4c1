package domain

import (
	"strings"
	"time"
)

// HangoutState is one side's view of a relationship with another user.
// The "-ED" states are recorded on the side that acted, the "-ER" states on
// the side that was acted upon.
type HangoutState string

const (
	StateInvited   HangoutState = "INVITED"
	StateInviter   HangoutState = "INVITER"
	StateAccepted  HangoutState = "ACCEPTED"
	StateAccepter  HangoutState = "ACCEPTER"
	StateDeclined  HangoutState = "DECLINED"
	StateDecliner  HangoutState = "DECLINER"
	StateBlocked   HangoutState = "BLOCKED"
	StateBlocker   HangoutState = "BLOCKER"
	StateUnblocked HangoutState = "UNBLOCKED"
	StateUnblocker HangoutState = "UNBLOCKER"
	StateMessaged  HangoutState = "MESSAGED"
	StateMessanger HangoutState = "MESSANGER"
)

// HangoutAction is a command a user issues against another user.
type HangoutAction string

const (
	ActionInvite  HangoutAction = "INVITE"
	ActionAccept  HangoutAction = "ACCEPT"
	ActionDecline HangoutAction = "DECLINE"
	ActionBlock   HangoutAction = "BLOCK"
	ActionUnblock HangoutAction = "UNBLOCK"
	ActionMessage HangoutAction = "MESSAGE"
)

// Actions lists every action in the order clients usually present them.
var Actions = []HangoutAction{
	ActionInvite, ActionAccept, ActionDecline, ActionBlock, ActionUnblock, ActionMessage,
}

// ParseAction accepts any letter case ("invite", "INVITE").
func ParseAction(s string) (HangoutAction, error) {
	a := HangoutAction(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", ErrInvalidAction
	}
	return a, nil
}

func (a HangoutAction) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// IsConnected reports whether the state belongs to an accepted hangout.
func (s HangoutState) IsConnected() bool {
	switch s {
	case StateAccepted, StateAccepter, StateMessaged, StateMessanger:
		return true
	}
	return false
}

// HangoutMessage is the latest message exchanged in a hangout
type HangoutMessage struct {
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Hangout is the owner's record of a relationship with another user.
// The owner is implied by the list the record lives in.
type Hangout struct {
	Username  string          `json:"username" bson:"username"`
	Email     string          `json:"email,omitempty" bson:"email,omitempty"`
	State     HangoutState    `json:"state" bson:"state"`
	Message   *HangoutMessage `json:"message,omitempty" bson:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp" bson:"timestamp"`
}
