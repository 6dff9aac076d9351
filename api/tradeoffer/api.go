package tradeoffer

import (
	"context"

	"github.com/escrow-tf/tradeoffers/steamid"
)

type Api interface {
	Accept(ctx context.Context, id uint64, partner steamid.SteamID) (*AcceptResponse, error)
	Decline(ctx context.Context, id uint64) error
	Cancel(ctx context.Context, id uint64) error
	Create(
		ctx context.Context,
		partner steamid.SteamID,
		partnerToken string,
		myItems, theirItems []Item,
		message string,
	) (*CreateResponse, error)
}

var _ Api = (*Client)(nil)
