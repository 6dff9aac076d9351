package community

import (
	"context"

	"github.com/escrow-tf/tradeoffers/steamid"
)

type Api interface {
	GetPlayerInventory(
		ctx context.Context,
		steamID steamid.SteamID,
		appID uint32,
		contextID uint64,
		language string,
		count uint,
		startAssetID uint64,
	) (*PlayerInventory, error)
}
