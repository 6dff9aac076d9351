package community

import (
	"context"

	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/rotisserie/eris"
)

const inventoryPageSize = 2000

// Resolver is the subset of classinfo.Cache the loader needs.
type Resolver interface {
	Resolve(ctx context.Context, keys []classinfo.Key) map[classinfo.Key]classinfo.Result
	Insert(infos map[classinfo.Key]*classinfo.ClassInfo) int
}

// InventoryLoader pages through an inventory and attaches descriptions through the shared classinfo cache.
type InventoryLoader struct {
	Api      Api
	Resolver Resolver
	Language string
}

func (l *InventoryLoader) Load(
	ctx context.Context,
	steamID steamid.SteamID,
	appID uint32,
	contextID uint64,
	tradableOnly bool,
) ([]offer.Asset, error) {
	language := l.Language
	if language == "" {
		language = "english"
	}

	var assets []offer.Asset
	var startAssetID uint64
	for {
		page, err := l.Api.GetPlayerInventory(ctx, steamID, appID, contextID, language, inventoryPageSize, startAssetID)
		if err != nil {
			return nil, eris.Wrapf(err, "loading inventory %d/%d of %s", appID, contextID, steamID)
		}

		l.Resolver.Insert(ClassInfos(page.Descriptions))
		for _, asset := range page.Assets {
			assets = append(assets, asset.offerAsset())
		}

		if !page.MoreItems || page.LastAssetId == 0 || uint64(page.LastAssetId) == startAssetID {
			break
		}
		startAssetID = uint64(page.LastAssetId)
	}

	keys := make([]classinfo.Key, 0, len(assets))
	seen := make(map[classinfo.Key]struct{}, len(assets))
	for _, asset := range assets {
		key := asset.ClassInfoKey()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	results := l.Resolver.Resolve(ctx, keys)

	resolved := offer.TradeOffer{ItemsToReceive: assets}.WithClassInfos(results).ItemsToReceive
	if !tradableOnly {
		return resolved, nil
	}

	tradable := resolved[:0]
	for _, asset := range resolved {
		if asset.ClassInfo != nil && asset.ClassInfo.Tradable {
			tradable = append(tradable, asset)
		}
	}
	return tradable, nil
}

func (a Asset) offerAsset() offer.Asset {
	return offer.Asset{
		AppID:      uint32(a.AppId),
		ContextID:  uint64(a.ContextId),
		AssetID:    uint64(a.AssetId),
		ClassID:    uint64(a.ClassId),
		InstanceID: uint64(a.InstanceId),
		Amount:     uint64(a.Amount),
		Missing:    bool(a.Missing),
	}
}
