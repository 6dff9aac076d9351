package offer

import (
	"cmp"
	"maps"
	"slices"
)

const (
	// settled ids are trimmed back to settledKeep once there are more than settledLimit of them
	settledLimit = 2500
	settledKeep  = 2000
)

// Retained is everything the differ remembers between passes. Offers holds tracked offers, including
// offers that became terminal during the last pass. Settled remembers the final state of pruned offers, so a
// settled offer that shows up in a later listing does not produce another event.
type Retained struct {
	Offers  map[uint64]TradeOffer
	Settled map[uint64]State
}

// States returns the last known state of every remembered offer.
func (r Retained) States() map[uint64]State {
	states := make(map[uint64]State, len(r.Offers)+len(r.Settled))
	for id, state := range r.Settled {
		states[id] = state
	}
	for id, o := range r.Offers {
		states[id] = o.State
	}
	return states
}

// Change is emitted whenever an offer is seen for the first time or its state moves. Previous is nil
// exactly once per offer: the first time it is observed.
type Change struct {
	Offer    TradeOffer
	Previous *State
}

// Rejection records a listed state that would have moved an offer backwards. The retained state is kept.
type Rejection struct {
	Offer TradeOffer
	Known State
}

type Reconciliation struct {
	Retained Retained
	// Changes are ordered by ascending offer id and hold each id at most once.
	Changes  []Change
	Rejected []Rejection
}

// Reconcile diffs a snapshot of offers against the retained state. previous is not modified.
//
// Offers that were already terminal in previous have had their pass and are moved to Settled. Within the
// snapshot the last entry for an id wins. On a full update, every tracked non-terminal offer missing from
// the snapshot moves to UnknownState. On a partial update, missing offers are left alone.
func Reconcile(previous Retained, snapshot []TradeOffer, fullUpdate bool) Reconciliation {
	next := Retained{
		Offers:  make(map[uint64]TradeOffer, len(previous.Offers)),
		Settled: make(map[uint64]State, len(previous.Settled)),
	}
	maps.Copy(next.Settled, previous.Settled)
	for id, o := range previous.Offers {
		if o.State.IsTerminal() {
			next.Settled[id] = o.State
			continue
		}
		next.Offers[id] = o
	}

	listed := make(map[uint64]TradeOffer, len(snapshot))
	for _, o := range snapshot {
		listed[o.ID] = o
	}

	var result Reconciliation
	for _, id := range slices.Sorted(maps.Keys(listed)) {
		o := listed[id]

		known, tracked := next.Offers[id]
		if !tracked {
			settled, ok := next.Settled[id]
			if !ok {
				next.Offers[id] = o
				result.Changes = append(result.Changes, Change{Offer: o})
				continue
			}
			known = TradeOffer{ID: id, State: settled}
		}

		if known.State == o.State {
			if tracked {
				next.Offers[id] = o
			}
			continue
		}
		if !CanTransition(known.State, o.State) {
			result.Rejected = append(result.Rejected, Rejection{Offer: o, Known: known.State})
			continue
		}

		delete(next.Settled, id)
		next.Offers[id] = o
		previousState := known.State
		result.Changes = append(result.Changes, Change{Offer: o, Previous: &previousState})
	}

	if fullUpdate {
		for id, o := range next.Offers {
			if _, ok := listed[id]; ok || o.State.IsTerminal() {
				continue
			}

			previousState := o.State
			o.State = UnknownState
			next.Offers[id] = o
			result.Changes = append(result.Changes, Change{Offer: o, Previous: &previousState})
		}
		slices.SortFunc(result.Changes, func(a, b Change) int {
			return cmp.Compare(a.Offer.ID, b.Offer.ID)
		})
	}

	trimSettled(next.Settled)
	result.Retained = next
	return result
}

// trimSettled keeps the newest settled ids. Offer ids only grow, so the highest ids are the newest.
func trimSettled(settled map[uint64]State) {
	if len(settled) <= settledLimit {
		return
	}

	ids := slices.Sorted(maps.Keys(settled))
	for _, id := range ids[:len(ids)-settledKeep] {
		delete(settled, id)
	}
}
