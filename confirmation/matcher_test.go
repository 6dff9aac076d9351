package confirmation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSurface struct {
	mock.Mock
}

func (m *mockSurface) Pending(ctx context.Context) ([]Pending, error) {
	args := m.Called(ctx)
	pending, _ := args.Get(0).([]Pending)
	return pending, args.Error(1)
}

func (m *mockSurface) Respond(ctx context.Context, confirmation Pending, op Operation) (Outcome, error) {
	args := m.Called(ctx, confirmation, op)
	return args.Get(0).(Outcome), args.Error(1)
}

var errFlaky = api.NewError(api.TransientKind, "mobileconf ajaxop", errors.New("connection reset"))

func newTestMatcher(surface Surface, attempts int) (*Matcher, *[]time.Duration) {
	m := NewMatcher(MatcherOptions{
		Surface: surface,
		Retry:   RetryPolicy{Attempts: attempts, MinBackoff: time.Second, MaxBackoff: 4 * time.Second},
	})
	var waits []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return m, &waits
}

func trackedOffer(id uint64, state offer.State) map[uint64]offer.TradeOffer {
	return map[uint64]offer.TradeOffer{id: {ID: id, State: state}}
}

func tradeConfirmation(id, offerID uint64) Pending {
	return Pending{ID: id, Nonce: "nonce", CreatorID: offerID, Kind: TradeKind}
}

func TestMatch(t *testing.T) {
	tracked := map[uint64]offer.TradeOffer{
		1: {ID: 1, State: offer.NeedsConfirmationState},
		2: {ID: 2, State: offer.ActiveState},
	}
	pending := []Pending{
		tradeConfirmation(10, 1),
		tradeConfirmation(11, 2),
		tradeConfirmation(12, 3),
		{ID: 13, CreatorID: 1, Kind: MarketListingKind},
	}

	matched, unmatched := Match(pending, tracked)
	require.Len(t, matched, 1)
	assert.Equal(t, uint64(10), matched[0].Confirmation.ID)
	assert.Equal(t, uint64(1), matched[0].Offer.ID)
	assert.Len(t, unmatched, 3)
}

func TestReconcileRetriesTransientFailures(t *testing.T) {
	surface := &mockSurface{}
	p := tradeConfirmation(10, 1)
	surface.On("Respond", mock.Anything, p, Allow).Return(Outcome(0), errFlaky).Twice()
	surface.On("Respond", mock.Anything, p, Allow).Return(Confirmed, nil).Once()

	m, waits := newTestMatcher(surface, 5)
	report, err := m.Reconcile(context.Background(), []Pending{p}, trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	action := report.Actions[0]
	assert.True(t, action.Succeeded())
	assert.Equal(t, 3, action.Attempts)
	assert.Equal(t, offer.AcceptedState, action.ResultingState)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	surface.AssertNumberOfCalls(t, "Respond", 3)
}

func TestReconcileGivesUpAtAttemptCeiling(t *testing.T) {
	surface := &mockSurface{}
	p := tradeConfirmation(10, 1)
	surface.On("Respond", mock.Anything, p, Allow).Return(Outcome(0), errFlaky)

	m, waits := newTestMatcher(surface, 3)
	report, err := m.Reconcile(context.Background(), []Pending{p}, trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	action := report.Actions[0]
	assert.False(t, action.Succeeded())
	assert.True(t, api.IsTransient(action.Err))
	assert.Zero(t, action.ResultingState)
	assert.Len(t, *waits, 2)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	surface.AssertNumberOfCalls(t, "Respond", 3)
}

func TestReconcileTreatsAlreadyConfirmedAsSuccess(t *testing.T) {
	surface := &mockSurface{}
	p := tradeConfirmation(10, 1)
	surface.On("Respond", mock.Anything, p, Allow).Return(AlreadyConfirmed, nil).Once()

	m, _ := newTestMatcher(surface, 3)
	report, err := m.Reconcile(context.Background(), []Pending{p}, trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.True(t, report.Actions[0].Succeeded())
	assert.Equal(t, AlreadyConfirmed, report.Actions[0].Outcome)
	assert.Equal(t, offer.AcceptedState, report.Actions[0].ResultingState)
}

func TestReconcileDoesNotRetryRejections(t *testing.T) {
	surface := &mockSurface{}
	p := tradeConfirmation(10, 1)
	rejected := api.NewError(api.RejectedKind, "mobileconf ajaxop", errors.New("invalid confirmation"))
	surface.On("Respond", mock.Anything, p, Allow).Return(Outcome(0), rejected).Once()

	m, waits := newTestMatcher(surface, 5)
	report, err := m.Reconcile(context.Background(), []Pending{p}, trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.ErrorIs(t, report.Actions[0].Err, rejected)
	assert.Empty(t, *waits)
	surface.AssertNumberOfCalls(t, "Respond", 1)
}

func TestReconcileStopsOnFatalError(t *testing.T) {
	surface := &mockSurface{}
	fatal := api.NewError(api.FatalKind, "mobileconf ajaxop", errors.New("needs auth"))
	first, second := tradeConfirmation(10, 1), tradeConfirmation(11, 2)
	surface.On("Respond", mock.Anything, first, Allow).Return(Outcome(0), fatal).Once()

	tracked := map[uint64]offer.TradeOffer{
		1: {ID: 1, State: offer.NeedsConfirmationState},
		2: {ID: 2, State: offer.NeedsConfirmationState},
	}
	m, _ := newTestMatcher(surface, 5)
	report, err := m.Reconcile(context.Background(), []Pending{first, second}, tracked)

	assert.True(t, api.IsFatal(err))
	assert.Len(t, report.Actions, 1)
	surface.AssertNotCalled(t, "Respond", mock.Anything, second, Allow)
}

func TestReconcileReportsUnmatched(t *testing.T) {
	surface := &mockSurface{}
	m, _ := newTestMatcher(surface, 3)

	report, err := m.Reconcile(context.Background(), []Pending{tradeConfirmation(10, 99)}, trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)
	assert.Empty(t, report.Actions)
	require.Len(t, report.Unmatched, 1)
	surface.AssertNotCalled(t, "Respond", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileCancelAndOwnOffers(t *testing.T) {
	surface := &mockSurface{}
	ours, theirs := tradeConfirmation(10, 1), tradeConfirmation(11, 2)
	surface.On("Respond", mock.Anything, ours, Allow).Return(Confirmed, nil).Once()
	surface.On("Respond", mock.Anything, theirs, Cancel).Return(Confirmed, nil).Once()

	m := NewMatcher(MatcherOptions{
		Surface: surface,
		Decider: func(pair Pair) (Operation, bool) {
			if pair.Offer.IsOurOffer {
				return Allow, true
			}
			return Cancel, true
		},
	})
	tracked := map[uint64]offer.TradeOffer{
		1: {ID: 1, State: offer.NeedsConfirmationState, IsOurOffer: true},
		2: {ID: 2, State: offer.NeedsConfirmationState},
	}

	report, err := m.Reconcile(context.Background(), []Pending{ours, theirs}, tracked)
	require.NoError(t, err)
	require.Len(t, report.Actions, 2)
	assert.Equal(t, offer.ActiveState, report.Actions[0].ResultingState)
	assert.Equal(t, offer.CanceledBySecondFactorState, report.Actions[1].ResultingState)
	surface.AssertExpectations(t)
}

func TestRunFetchesPending(t *testing.T) {
	surface := &mockSurface{}
	p := tradeConfirmation(10, 1)
	surface.On("Pending", mock.Anything).Return([]Pending{p}, nil).Once()
	surface.On("Respond", mock.Anything, p, Allow).Return(Confirmed, nil).Once()

	m, _ := newTestMatcher(surface, 3)
	report, err := m.Run(context.Background(), trackedOffer(1, offer.NeedsConfirmationState))
	require.NoError(t, err)
	assert.Len(t, report.Actions, 1)

	surface.On("Pending", mock.Anything).Return(nil, errFlaky).Once()
	_, err = m.Run(context.Background(), trackedOffer(1, offer.NeedsConfirmationState))
	assert.True(t, api.IsTransient(err))
}
