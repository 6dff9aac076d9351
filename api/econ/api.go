package econ

import (
	"context"

	"github.com/escrow-tf/tradeoffers/classinfo"
)

type Api interface {
	GetTradeOffer(ctx context.Context, id uint64) (*GetTradeOfferResponse, error)
	GetTradeOffers(ctx context.Context, options GetTradeOffersOptions) (*GetTradeOffersResponse, error)
	GetAssetClassInfo(ctx context.Context, appID uint32, keys []classinfo.Key) (map[classinfo.Key]*classinfo.ClassInfo, error)
}
