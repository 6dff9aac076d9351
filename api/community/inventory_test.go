package community

import (
	"context"
	"testing"

	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pagedApi struct {
	pages  []*PlayerInventory
	starts []uint64
}

func (p *pagedApi) GetPlayerInventory(
	_ context.Context,
	_ steamid.SteamID,
	_ uint32,
	_ uint64,
	_ string,
	_ uint,
	startAssetID uint64,
) (*PlayerInventory, error) {
	p.starts = append(p.starts, startAssetID)
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

type mapResolver struct {
	known    map[classinfo.Key]*classinfo.ClassInfo
	inserted int
	resolved []classinfo.Key
}

func (m *mapResolver) Resolve(_ context.Context, keys []classinfo.Key) map[classinfo.Key]classinfo.Result {
	m.resolved = append(m.resolved, keys...)
	results := make(map[classinfo.Key]classinfo.Result, len(keys))
	for _, key := range keys {
		if info, ok := m.known[key]; ok {
			results[key] = classinfo.Result{ClassInfo: info}
		} else {
			results[key] = classinfo.Result{Err: classinfo.ErrNotReturned}
		}
	}
	return results
}

func (m *mapResolver) Insert(infos map[classinfo.Key]*classinfo.ClassInfo) int {
	for key, info := range infos {
		m.known[key] = info
		m.inserted++
	}
	return len(infos)
}

func TestInventoryLoaderPagesAndResolves(t *testing.T) {
	source := &pagedApi{pages: []*PlayerInventory{
		{
			Assets:       []Asset{{AppId: 440, ContextId: 2, AssetId: 1, ClassId: 11, Amount: 1}},
			Descriptions: []*Description{{AppId: 440, ClassId: 11, Name: "Key", Tradable: true}},
			MoreItems:    true,
			LastAssetId:  1,
			Success:      true,
		},
		{
			Assets: []Asset{
				{AppId: 440, ContextId: 2, AssetId: 2, ClassId: 11, Amount: 1},
				{AppId: 440, ContextId: 2, AssetId: 3, ClassId: 12, Amount: 1},
			},
			Descriptions: []*Description{{AppId: 440, ClassId: 12, Name: "Crate", Tradable: false}},
			Success:      true,
		},
	}}
	resolver := &mapResolver{known: map[classinfo.Key]*classinfo.ClassInfo{}}
	loader := &InventoryLoader{Api: source, Resolver: resolver}

	assets, err := loader.Load(context.Background(), steamid.FromAccountID(22202), 440, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, source.starts)
	require.Len(t, assets, 3)
	assert.Equal(t, "Key", assets[1].ClassInfo.Name)
	assert.Len(t, resolver.resolved, 2, "each class resolved once")
	assert.Equal(t, 2, resolver.inserted)
}

func TestInventoryLoaderTradableOnly(t *testing.T) {
	source := &pagedApi{pages: []*PlayerInventory{{
		Assets: []Asset{
			{AppId: 440, ContextId: 2, AssetId: 1, ClassId: 11, Amount: 1},
			{AppId: 440, ContextId: 2, AssetId: 2, ClassId: 12, Amount: 1},
			{AppId: 440, ContextId: 2, AssetId: 3, ClassId: 13, Amount: 1},
		},
		Descriptions: []*Description{
			{AppId: 440, ClassId: 11, Name: "Key", Tradable: true},
			{AppId: 440, ClassId: 12, Name: "Medal", Tradable: false},
		},
		Success: true,
	}}}
	loader := &InventoryLoader{Api: source, Resolver: &mapResolver{known: map[classinfo.Key]*classinfo.ClassInfo{}}}

	assets, err := loader.Load(context.Background(), steamid.FromAccountID(22202), 440, 2, true)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, uint64(1), assets[0].AssetID)
}
