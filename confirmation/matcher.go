package confirmation

import (
	"context"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	DefaultAttempts   = 4
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// RetryPolicy bounds how often a transiently failing response is retried. Attempts counts the first try.
type RetryPolicy struct {
	Attempts   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Decider picks the operation for a matched confirmation. Returning false leaves the confirmation alone.
type Decider func(pair Pair) (Operation, bool)

// AllowAll confirms every matched offer.
func AllowAll(Pair) (Operation, bool) {
	return Allow, true
}

// Action is the outcome of driving one matched confirmation.
type Action struct {
	Confirmation Pending
	OfferID      uint64
	Operation    Operation
	Outcome      Outcome
	Attempts     int
	// ResultingState is the offer's state after a successful action. It is zero when Err is set.
	ResultingState offer.State
	Err            error
}

func (a Action) Succeeded() bool {
	return a.Err == nil
}

type Report struct {
	Actions   []Action
	Unmatched []Pending
}

type MatcherOptions struct {
	Surface Surface
	Retry   RetryPolicy
	Decider Decider
	Logger  *zap.Logger
}

type Matcher struct {
	surface Surface
	retry   RetryPolicy
	decide  Decider
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewMatcher(options MatcherOptions) *Matcher {
	retry := options.Retry
	if retry.Attempts <= 0 {
		retry.Attempts = DefaultAttempts
	}
	if retry.MinBackoff <= 0 {
		retry.MinBackoff = DefaultMinBackoff
	}
	if retry.MaxBackoff < retry.MinBackoff {
		retry.MaxBackoff = max(DefaultMaxBackoff, retry.MinBackoff)
	}
	if options.Decider == nil {
		options.Decider = AllowAll
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	return &Matcher{
		surface: options.Surface,
		retry:   retry,
		decide:  options.Decider,
		logger:  options.Logger,
		sleep:   sleepContext,
	}
}

// Run fetches the pending confirmations and reconciles them against tracked.
func (m *Matcher) Run(ctx context.Context, tracked map[uint64]offer.TradeOffer) (Report, error) {
	pending, err := m.surface.Pending(ctx)
	if err != nil {
		return Report{}, eris.Wrap(err, "fetching pending confirmations")
	}
	return m.Reconcile(ctx, pending, tracked)
}

// Reconcile acts on every confirmation that belongs to a tracked offer waiting on it. An offer's state only
// changes after the surface acknowledged the action. The returned error is only set for fatal failures,
// which also stop processing the remaining confirmations.
func (m *Matcher) Reconcile(
	ctx context.Context,
	pending []Pending,
	tracked map[uint64]offer.TradeOffer,
) (Report, error) {
	matched, unmatched := Match(pending, tracked)
	report := Report{Unmatched: unmatched}

	for _, p := range unmatched {
		m.logger.Debug("confirmation does not match a tracked offer",
			zap.Uint64("confirmation", p.ID),
			zap.Uint64("creator", p.CreatorID),
			zap.Stringer("kind", p.Kind),
		)
	}

	for _, pair := range matched {
		op, ok := m.decide(pair)
		if !ok {
			continue
		}

		action := m.drive(ctx, pair, op)
		report.Actions = append(report.Actions, action)
		if action.Err != nil && api.IsFatal(action.Err) {
			return report, action.Err
		}
		if ctx.Err() != nil {
			return report, nil
		}
	}

	return report, nil
}

func (m *Matcher) drive(ctx context.Context, pair Pair, op Operation) Action {
	action := Action{
		Confirmation: pair.Confirmation,
		OfferID:      pair.Offer.ID,
		Operation:    op,
	}

	for attempt := 1; ; attempt++ {
		action.Attempts = attempt

		outcome, err := m.surface.Respond(ctx, pair.Confirmation, op)
		if err == nil {
			action.Outcome = outcome
			action.ResultingState = resultingState(pair.Offer, op)
			m.logger.Info("confirmation responded",
				zap.Uint64("offer", pair.Offer.ID),
				zap.String("op", string(op)),
				zap.Bool("already_confirmed", outcome == AlreadyConfirmed),
				zap.Int("attempts", attempt),
			)
			return action
		}

		if !api.IsTransient(err) || attempt >= m.retry.Attempts {
			action.Err = eris.Wrapf(err, "responding to confirmation %d for offer %d", pair.Confirmation.ID, pair.Offer.ID)
			m.logger.Warn("confirmation failed",
				zap.Uint64("offer", pair.Offer.ID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return action
		}

		wait := retryablehttp.DefaultBackoff(m.retry.MinBackoff, m.retry.MaxBackoff, attempt-1, nil)
		m.logger.Debug("retrying confirmation",
			zap.Uint64("offer", pair.Offer.ID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if sleepErr := m.sleep(ctx, wait); sleepErr != nil {
			action.Err = eris.Wrap(sleepErr, "waiting to retry confirmation")
			return action
		}
	}
}

// resultingState is the state a confirmed offer moves to. Confirming our own offer sends it, confirming an
// acceptance completes the trade.
func resultingState(o offer.TradeOffer, op Operation) offer.State {
	if op == Cancel {
		return offer.CanceledBySecondFactorState
	}
	if o.IsOurOffer {
		return offer.ActiveState
	}
	return offer.AcceptedState
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
