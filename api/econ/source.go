package econ

import (
	"context"

	"github.com/escrow-tf/tradeoffers/api/community"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/polling"
)

// OfferSource lists sent and received offers for the poll driver.
type OfferSource struct {
	Api Api
}

func (s OfferSource) FetchOffers(ctx context.Context, query polling.Query) (polling.Snapshot, error) {
	options := GetTradeOffersOptions{
		GetSent:         true,
		GetReceived:     true,
		GetDescriptions: true,
		ActiveOnly:      query.ActiveOnly,
	}
	if !query.HistoricalCutoff.IsZero() {
		options.HistoricalCutoff = query.HistoricalCutoff.Unix()
	} else if !query.ActiveOnly {
		// without a cutoff steam only returns recently changed historical offers
		options.HistoricalCutoff = 1
	}

	response, err := s.Api.GetTradeOffers(ctx, options)
	if err != nil {
		return polling.Snapshot{}, err
	}

	offers := make([]offer.TradeOffer, 0, len(response.Sent)+len(response.Received))
	for _, wire := range append(response.Sent, response.Received...) {
		if wire == nil {
			continue
		}
		offers = append(offers, wire.Offer())
	}

	return polling.Snapshot{
		Offers:       offers,
		Descriptions: community.ClassInfos(response.Descriptions),
	}, nil
}

var _ polling.Source = OfferSource{}
