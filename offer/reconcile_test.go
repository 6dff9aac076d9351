package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOffer(id uint64, state State) TradeOffer {
	return TradeOffer{
		ID:          id,
		State:       state,
		ItemsToGive: []Asset{{AppID: 440, ContextID: 2, AssetID: id, ClassID: 1, Amount: 1}},
	}
}

func statePtr(s State) *State {
	return &s
}

func TestReconcileLifecycle(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState)}, true)
	require.Len(t, first.Changes, 1)
	assert.Equal(t, uint64(1), first.Changes[0].Offer.ID)
	assert.Nil(t, first.Changes[0].Previous)

	second := Reconcile(first.Retained, []TradeOffer{testOffer(1, AcceptedState)}, true)
	require.Len(t, second.Changes, 1)
	assert.Equal(t, statePtr(ActiveState), second.Changes[0].Previous)
	assert.Equal(t, AcceptedState, second.Changes[0].Offer.State)
	assert.Contains(t, second.Retained.Offers, uint64(1))

	third := Reconcile(second.Retained, nil, true)
	assert.Empty(t, third.Changes)
	assert.NotContains(t, third.Retained.Offers, uint64(1))
	assert.Equal(t, AcceptedState, third.Retained.Settled[1])

	// a settled offer listed again stays quiet
	fourth := Reconcile(third.Retained, []TradeOffer{testOffer(1, AcceptedState)}, true)
	assert.Empty(t, fourth.Changes)
	assert.Empty(t, fourth.Rejected)
}

func TestReconcileOrdersChangesById(t *testing.T) {
	snapshot := []TradeOffer{testOffer(30, ActiveState), testOffer(10, ActiveState), testOffer(20, ActiveState)}
	result := Reconcile(Retained{}, snapshot, false)

	require.Len(t, result.Changes, 3)
	for i, id := range []uint64{10, 20, 30} {
		assert.Equal(t, id, result.Changes[i].Offer.ID)
	}
}

func TestReconcileDuplicateIdLastWins(t *testing.T) {
	snapshot := []TradeOffer{testOffer(1, ActiveState), testOffer(1, DeclinedState)}
	result := Reconcile(Retained{}, snapshot, true)

	require.Len(t, result.Changes, 1)
	assert.Equal(t, DeclinedState, result.Changes[0].Offer.State)
	assert.Nil(t, result.Changes[0].Previous)
}

func TestReconcileFullUpdateMarksMissingOffersUnknown(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState), testOffer(2, ActiveState)}, true)

	result := Reconcile(first.Retained, nil, true)
	require.Len(t, result.Changes, 2)
	for _, change := range result.Changes {
		assert.Equal(t, UnknownState, change.Offer.State)
		assert.Equal(t, statePtr(ActiveState), change.Previous)
	}

	next := Reconcile(result.Retained, nil, true)
	assert.Empty(t, next.Changes)
	assert.Empty(t, next.Retained.Offers)
	assert.Len(t, next.Retained.Settled, 2)
}

func TestReconcileUnknownCanBeCorrected(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState)}, true)
	lost := Reconcile(first.Retained, nil, true)

	found := Reconcile(lost.Retained, []TradeOffer{testOffer(1, AcceptedState)}, false)
	require.Len(t, found.Changes, 1)
	assert.Equal(t, statePtr(UnknownState), found.Changes[0].Previous)

	back := Reconcile(found.Retained, []TradeOffer{testOffer(1, ActiveState)}, false)
	assert.Empty(t, back.Changes)
	require.Len(t, back.Rejected, 1)
	assert.Equal(t, AcceptedState, back.Rejected[0].Known)
}

func TestReconcilePartialUpdateKeepsMissingOffers(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState), testOffer(2, ActiveState)}, true)

	result := Reconcile(first.Retained, []TradeOffer{testOffer(2, DeclinedState)}, false)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, uint64(2), result.Changes[0].Offer.ID)
	assert.Equal(t, ActiveState, result.Retained.Offers[1].State)
}

func TestReconcileRejectsBackwardTransitions(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, InEscrowState)}, true)

	result := Reconcile(first.Retained, []TradeOffer{testOffer(1, ActiveState)}, true)
	assert.Empty(t, result.Changes)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, InEscrowState, result.Retained.Offers[1].State)
}

func TestReconcileConfirmationHop(t *testing.T) {
	retained := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState)}, true).Retained

	var previous []State
	for _, state := range []State{NeedsConfirmationState, AcceptedState} {
		result := Reconcile(retained, []TradeOffer{testOffer(1, state)}, true)
		require.Len(t, result.Changes, 1)
		previous = append(previous, *result.Changes[0].Previous)
		retained = result.Retained
	}
	assert.Equal(t, []State{ActiveState, NeedsConfirmationState}, previous)
}

func TestReconcileDoesNotModifyPrevious(t *testing.T) {
	first := Reconcile(Retained{}, []TradeOffer{testOffer(1, ActiveState)}, true)
	before := first.Retained.States()

	Reconcile(first.Retained, []TradeOffer{testOffer(1, AcceptedState), testOffer(2, ActiveState)}, true)
	assert.Equal(t, before, first.Retained.States())
}

func TestReconcileFirstObservationIsNilExactlyOnce(t *testing.T) {
	snapshots := [][]TradeOffer{
		{testOffer(1, ActiveState)},
		{testOffer(1, ActiveState), testOffer(2, NeedsConfirmationState)},
		{testOffer(1, CounteredState), testOffer(2, ActiveState)},
		{testOffer(2, AcceptedState)},
		{testOffer(1, CounteredState), testOffer(2, AcceptedState)},
		nil,
		{testOffer(2, AcceptedState)},
	}

	firstSeen := make(map[uint64]int)
	var retained Retained
	for i, snapshot := range snapshots {
		result := Reconcile(retained, snapshot, i%2 == 0)
		for _, change := range result.Changes {
			if change.Previous == nil {
				firstSeen[change.Offer.ID]++
			}
		}
		retained = result.Retained
	}
	assert.Equal(t, map[uint64]int{1: 1, 2: 1}, firstSeen)
}

func TestReconcileConverges(t *testing.T) {
	snapshots := [][]TradeOffer{
		{testOffer(1, ActiveState), testOffer(2, ActiveState)},
		{testOffer(1, NeedsConfirmationState), testOffer(2, ActiveState), testOffer(3, ActiveState)},
		{testOffer(1, AcceptedState), testOffer(2, InEscrowState), testOffer(3, ActiveState)},
		{testOffer(1, AcceptedState), testOffer(2, AcceptedState), testOffer(3, DeclinedState)},
	}

	var stepwise Retained
	net := make(map[uint64]TradeOffer)
	for _, snapshot := range snapshots {
		stepwise = Reconcile(stepwise, snapshot, true).Retained
		for _, o := range snapshot {
			net[o.ID] = o
		}
	}

	var netSnapshot []TradeOffer
	for _, o := range net {
		netSnapshot = append(netSnapshot, o)
	}
	once := Reconcile(Retained{}, netSnapshot, true).Retained

	assert.Equal(t, once.States(), stepwise.States())
}

func TestReconcileEmptyFullUpdateClearsActiveOffers(t *testing.T) {
	retained := Reconcile(Retained{}, []TradeOffer{
		testOffer(1, ActiveState),
		testOffer(2, DeclinedState),
	}, true).Retained

	result := Reconcile(retained, []TradeOffer{}, true)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, uint64(1), result.Changes[0].Offer.ID)

	for _, o := range result.Retained.Offers {
		assert.True(t, o.State.IsTerminal())
	}
}

func TestTrimSettledKeepsNewest(t *testing.T) {
	settled := make(map[uint64]State)
	for id := uint64(1); id <= settledLimit+1; id++ {
		settled[id] = AcceptedState
	}

	trimSettled(settled)
	assert.Len(t, settled, settledKeep)
	assert.NotContains(t, settled, uint64(1))
	assert.Contains(t, settled, uint64(settledLimit+1))
}
