package polling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/store"
	"github.com/rotisserie/eris"
)

// offersSinceBuffer back-dates the historical cutoff, since steam does not update time_updated atomically with
// the listing.
const offersSinceBuffer = 30 * time.Minute

// PollData is what survives a restart. Only offer states are kept; offers themselves are refetched.
type PollData struct {
	OffersSince    time.Time              `json:"offers_since"`
	LastPoll       time.Time              `json:"last_poll"`
	LastFullUpdate time.Time              `json:"last_full_update"`
	States         map[uint64]offer.State `json:"state_map"`
	Settled        map[uint64]offer.State `json:"settled,omitempty"`
}

func pollDataKey(id steamid.SteamID) string {
	return "poll_data_" + id.String()
}

// cutoff is the historical cutoff to request on a partial poll.
func (p PollData) cutoff() time.Time {
	if p.OffersSince.IsZero() {
		return time.Time{}
	}
	return p.OffersSince.Add(-offersSinceBuffer)
}

func (p PollData) retained() offer.Retained {
	retained := offer.Retained{
		Offers:  make(map[uint64]offer.TradeOffer, len(p.States)),
		Settled: make(map[uint64]offer.State, len(p.Settled)),
	}
	for id, state := range p.States {
		retained.Offers[id] = offer.TradeOffer{ID: id, State: state}
	}
	for id, state := range p.Settled {
		retained.Settled[id] = state
	}
	return retained
}

func (p *PollData) setRetained(retained offer.Retained) {
	p.States = make(map[uint64]offer.State, len(retained.Offers))
	for id, o := range retained.Offers {
		p.States[id] = o.State
	}
	p.Settled = retained.Settled
}

func loadPollData(ctx context.Context, s store.Store, id steamid.SteamID) (PollData, error) {
	blob, err := s.Get(ctx, pollDataKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return PollData{}, nil
	}
	if err != nil {
		return PollData{}, eris.Wrap(err, "loading poll data")
	}

	var data PollData
	if err := json.Unmarshal(blob, &data); err != nil {
		return PollData{}, eris.Wrap(err, "decoding poll data")
	}
	return data, nil
}

func savePollData(ctx context.Context, s store.Store, id steamid.SteamID, data PollData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "encoding poll data")
	}
	return eris.Wrap(s.Put(ctx, pollDataKey(id), blob), "saving poll data")
}
