package polling

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

func isFatal(err error) bool {
	return api.IsFatal(err)
}

// cycle runs one poll. The retained state only changes once the listing was fetched successfully.
func (d *Driver) cycle(ctx context.Context, pollType PollType) Event {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	now := d.now()
	event := Event{Type: pollType, At: now}

	if err := d.ensureLoaded(ctx); err != nil {
		// a missing or corrupt poll data blob only costs one full update
		d.logger.Warn("starting without poll data", zap.Error(err))
	}

	full, query := d.plan(pollType, now)
	snapshot, err := d.options.Source.FetchOffers(ctx, query)
	if err != nil {
		event.Err = eris.Wrapf(err, "%s poll failed", pollType)
		d.logger.Warn("poll failed", zap.Stringer("type", pollType), zap.Error(err))
		return event
	}

	if len(snapshot.Descriptions) > 0 {
		d.options.Resolver.Insert(snapshot.Descriptions)
	}

	offers := make([]offer.TradeOffer, 0, len(snapshot.Offers))
	for _, o := range snapshot.Offers {
		if o.IsGlitched() {
			d.logger.Debug("skipping offer without items", zap.Uint64("offer", o.ID))
			// the listing is incomplete, so missing offers must not be treated as gone
			full = false
			continue
		}
		offers = append(offers, o)
	}
	event.FullUpdate = full

	offers = d.cancelStale(ctx, offers, now)

	reconciliation := offer.Reconcile(d.retained, offers, full)
	for _, rejected := range reconciliation.Rejected {
		d.logger.Debug("ignoring backward state change",
			zap.Uint64("offer", rejected.Offer.ID),
			zap.Stringer("known", rejected.Known),
			zap.Stringer("listed", rejected.Offer.State),
		)
	}
	retained := reconciliation.Retained
	changes := reconciliation.Changes

	if d.options.Confirmer != nil {
		confirmed, err := d.confirm(ctx, retained, &event)
		if err != nil {
			event.Err = err
		}
		if len(confirmed) > 0 {
			merged := offer.Reconcile(retained, confirmed, false)
			retained = merged.Retained
			changes = mergeChanges(changes, merged.Changes)
		}
	}

	event.Changes = d.resolve(ctx, changes)
	d.retained = retained
	d.record(ctx, pollType, full, now, offers)
	return event
}

func (d *Driver) ensureLoaded(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	d.loaded = true
	d.retained = offer.Retained{Offers: map[uint64]offer.TradeOffer{}, Settled: map[uint64]offer.State{}}
	if d.options.Store == nil {
		return nil
	}

	data, err := loadPollData(ctx, d.options.Store, d.options.SteamID)
	if err != nil {
		return err
	}
	d.data = data
	d.retained = data.retained()
	return nil
}

func (d *Driver) plan(pollType PollType, now time.Time) (bool, Query) {
	switch pollType {
	case NewOffers:
		return false, Query{ActiveOnly: true}
	case FullUpdate:
		return true, Query{}
	}

	if d.data.LastFullUpdate.IsZero() || now.Sub(d.data.LastFullUpdate) >= d.options.FullUpdateInterval {
		return true, Query{}
	}
	return false, Query{ActiveOnly: true, HistoricalCutoff: d.data.cutoff()}
}

// cancelStale cancels our own pending offers older than CancelAfter. Offers steam confirmed cancelling are
// reported as canceled right away.
func (d *Driver) cancelStale(ctx context.Context, offers []offer.TradeOffer, now time.Time) []offer.TradeOffer {
	if d.options.CancelAfter <= 0 || d.options.Canceler == nil {
		return offers
	}

	for i, o := range offers {
		if !o.IsOurOffer || (o.State != offer.ActiveState && o.State != offer.NeedsConfirmationState) {
			continue
		}
		if o.TimeCreated.IsZero() || now.Sub(o.TimeCreated) < d.options.CancelAfter {
			continue
		}

		if err := d.options.Canceler.Cancel(ctx, o.ID); err != nil {
			d.logger.Warn("error cancelling stale offer", zap.Uint64("offer", o.ID), zap.Error(err))
			continue
		}
		d.logger.Info("cancelled stale offer", zap.Uint64("offer", o.ID), zap.Duration("age", now.Sub(o.TimeCreated)))
		offers[i].State = offer.CanceledState
	}
	return offers
}

// confirm drives confirmations for tracked offers waiting on one and returns those offers in the state the
// confirmation moved them to.
func (d *Driver) confirm(ctx context.Context, retained offer.Retained, event *Event) ([]offer.TradeOffer, error) {
	waiting := make(map[uint64]offer.TradeOffer)
	for id, o := range retained.Offers {
		if o.NeedsConfirmation() {
			waiting[id] = o
		}
	}
	if len(waiting) == 0 {
		return nil, nil
	}

	report, err := d.options.Confirmer.Run(ctx, waiting)
	event.Confirmations = report.Actions
	event.Unmatched = report.Unmatched

	var confirmed []offer.TradeOffer
	for _, action := range report.Actions {
		if !action.Succeeded() {
			continue
		}
		o := waiting[action.OfferID]
		o.State = action.ResultingState
		confirmed = append(confirmed, o)
	}

	if err != nil {
		d.logger.Warn("confirmations failed", zap.Error(err))
		return confirmed, eris.Wrap(err, "confirmations failed")
	}
	return confirmed, nil
}

// mergeChanges folds later changes into earlier ones so every offer appears once. The first previous state
// is kept and the latest offer wins.
func mergeChanges(first, second []offer.Change) []offer.Change {
	byID := make(map[uint64]offer.Change, len(first)+len(second))
	for _, change := range first {
		byID[change.Offer.ID] = change
	}
	for _, change := range second {
		if existing, ok := byID[change.Offer.ID]; ok {
			existing.Offer = change.Offer
			byID[change.Offer.ID] = existing
			continue
		}
		byID[change.Offer.ID] = change
	}

	merged := make([]offer.Change, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		merged = append(merged, byID[id])
	}
	return merged
}

// resolve attaches descriptions to every item of the changed offers. Failed keys are marked on the items.
func (d *Driver) resolve(ctx context.Context, changes []offer.Change) []offer.Change {
	seen := make(map[classinfo.Key]struct{})
	var keys []classinfo.Key
	for _, change := range changes {
		for _, key := range change.Offer.ClassInfoKeys() {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	if len(keys) == 0 {
		return changes
	}

	results := d.options.Resolver.Resolve(ctx, keys)
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		d.logger.Warn("some classinfos could not be resolved", zap.Int("failed", failed), zap.Int("keys", len(keys)))
	}

	resolved := make([]offer.Change, len(changes))
	for i, change := range changes {
		change.Offer = change.Offer.WithClassInfos(results)
		resolved[i] = change
	}
	return resolved
}

// record moves the poll bookkeeping forward and persists it. Persistence failures are only logged.
func (d *Driver) record(ctx context.Context, pollType PollType, full bool, now time.Time, offers []offer.TradeOffer) {
	d.data.LastPoll = now
	if full {
		d.data.LastFullUpdate = now
	}
	if pollType != NewOffers {
		for _, o := range offers {
			if o.TimeUpdated.After(d.data.OffersSince) {
				d.data.OffersSince = o.TimeUpdated
			}
		}
	}
	d.data.setRetained(d.retained)

	if d.options.Store == nil {
		return
	}
	if err := savePollData(ctx, d.options.Store, d.options.SteamID, d.data); err != nil {
		d.logger.Warn("error saving poll data", zap.Error(err))
	}
}
