package offer

import "strconv"

type State uint8

//goland:noinspection GoUnusedConst
const (
	// InvalidState - Invalid
	InvalidState State = 1
	// ActiveState - This trade offer has been sent, neither party has acted on it yet.
	ActiveState State = 2
	// AcceptedState - The trade offer was accepted by the recipient and items were exchanged.
	AcceptedState State = 3
	// CounteredState - The recipient made a counter-offer
	CounteredState State = 4
	// ExpiredState - The trade offer was not accepted before the expiration date
	ExpiredState State = 5
	// CanceledState - The sender cancelled the offer
	CanceledState State = 6
	// DeclinedState - The recipient declined the offer
	DeclinedState State = 7
	// InvalidItemsState - Some of the items in the offer are no longer available (indicated by the missing
	// flag in the output)
	InvalidItemsState State = 8
	// NeedsConfirmationState - The offer hasn't been sent yet and is awaiting email/mobile confirmation. The
	// offer is only visible to the sender.
	NeedsConfirmationState State = 9
	// CanceledBySecondFactorState - Either party canceled the offer via email/mobile. The offer is visible to
	// both parties, even if the sender canceled it before it was sent.
	CanceledBySecondFactorState State = 10
	// InEscrowState - The trade has been placed on hold. The items involved in the trade have all been removed
	// from both parties' inventories and will be automatically delivered in the future.
	InEscrowState State = 11
	// UnknownState is never sent by steam. It marks a tracked offer that disappeared from a full listing
	// before reaching a terminal state.
	UnknownState State = 255
)

var stateNames = map[State]string{
	InvalidState:                "Invalid",
	ActiveState:                 "Active",
	AcceptedState:               "Accepted",
	CounteredState:              "Countered",
	ExpiredState:                "Expired",
	CanceledState:               "Canceled",
	DeclinedState:               "Declined",
	InvalidItemsState:           "InvalidItems",
	NeedsConfirmationState:      "NeedsConfirmation",
	CanceledBySecondFactorState: "CanceledBySecondFactor",
	InEscrowState:               "InEscrow",
	UnknownState:                "Unknown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// IsTerminal reports whether nothing can happen to the offer anymore.
func (s State) IsTerminal() bool {
	switch s {
	case AcceptedState, ExpiredState, CanceledState, DeclinedState, InvalidItemsState,
		CanceledBySecondFactorState, UnknownState:
		return true
	default:
		return false
	}
}

func (s State) rank() int {
	switch {
	case s == InvalidState:
		return 0
	case s == ActiveState, s == NeedsConfirmationState:
		return 1
	case s == CounteredState, s == InEscrowState:
		return 2
	default:
		return 3
	}
}

// CanTransition reports whether an offer may move from one state to another. States only move forward:
// Active and NeedsConfirmation may swap while the offer is pending, an escrowed or countered offer can still
// settle, and a settled offer never changes again. The one exception is UnknownState, which may be
// corrected by the real terminal state if the offer shows up again.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if from == UnknownState {
		return to.IsTerminal()
	}
	if from.IsTerminal() {
		return false
	}
	return to.rank() >= from.rank()
}
