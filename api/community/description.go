package community

import (
	"encoding/json"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/classinfo"
)

// Description is an item description as embedded in inventories, trade offers and the economy service.
type Description struct {
	AppId                       api.FlexUint64       `json:"appid"`
	ClassId                     api.FlexUint64       `json:"classid"`
	InstanceId                  api.FlexUint64       `json:"instanceid"`
	BackgroundColor             string               `json:"background_color"`
	IconUrl                     string               `json:"icon_url"`
	IconUrlLarge                string               `json:"icon_url_large"`
	Tradable                    api.FlexBool         `json:"tradable"`
	Name                        string               `json:"name"`
	NameColor                   string               `json:"name_color"`
	Type                        string               `json:"type"`
	MarketName                  string               `json:"market_name"`
	MarketHashName              string               `json:"market_hash_name"`
	Commodity                   api.FlexBool         `json:"commodity"`
	MarketTradableRestriction   api.FlexUint64       `json:"market_tradable_restriction"`
	MarketMarketableRestriction api.FlexUint64       `json:"market_marketable_restriction"`
	Marketable                  api.FlexBool         `json:"marketable"`
	FraudWarnings               api.FlexList[string] `json:"fraudwarnings,omitempty"`
	Tags                        api.FlexList[Tag]    `json:"tags"`
	Lines                       api.FlexList[Line]   `json:"descriptions,omitempty"`
	Actions                     api.FlexList[Action] `json:"actions,omitempty"`
	AppData                     json.RawMessage      `json:"app_data,omitempty"`
}

type Tag struct {
	Category              string `json:"category"`
	InternalName          string `json:"internal_name"`
	LocalizedCategoryName string `json:"localized_category_name"`
	LocalizedTagName      string `json:"localized_tag_name"`
	Color                 string `json:"color,omitempty"`
}

type Line struct {
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
	Type  string `json:"type,omitempty"`
	Name  string `json:"name"`
}

type Action struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

func (d *Description) Key() classinfo.Key {
	return classinfo.Key{AppID: uint32(d.AppId), ClassID: uint64(d.ClassId), InstanceID: uint64(d.InstanceId)}
}

// ClassInfo converts the description into the cache's representation.
func (d *Description) ClassInfo() *classinfo.ClassInfo {
	info := &classinfo.ClassInfo{
		AppID:                       uint32(d.AppId),
		ClassID:                     uint64(d.ClassId),
		InstanceID:                  uint64(d.InstanceId),
		Name:                        d.Name,
		MarketName:                  d.MarketName,
		MarketHashName:              d.MarketHashName,
		Type:                        d.Type,
		NameColor:                   d.NameColor,
		BackgroundColor:             d.BackgroundColor,
		IconURL:                     d.IconUrl,
		IconURLLarge:                d.IconUrlLarge,
		Tradable:                    bool(d.Tradable),
		Marketable:                  bool(d.Marketable),
		Commodity:                   bool(d.Commodity),
		MarketTradableRestriction:   uint32(d.MarketTradableRestriction),
		MarketMarketableRestriction: uint32(d.MarketMarketableRestriction),
		FraudWarnings:               d.FraudWarnings,
		AppData:                     d.AppData,
	}

	for _, tag := range d.Tags {
		info.Tags = append(info.Tags, classinfo.Tag(tag))
	}
	for _, line := range d.Lines {
		info.Descriptions = append(info.Descriptions, classinfo.Line{Value: line.Value, Color: line.Color, Type: line.Type})
	}
	for _, action := range d.Actions {
		info.Actions = append(info.Actions, classinfo.Action(action))
	}
	return info
}

// ClassInfos converts a batch of descriptions, keyed for classinfo.Cache.Insert.
func ClassInfos(descriptions []*Description) map[classinfo.Key]*classinfo.ClassInfo {
	if len(descriptions) == 0 {
		return nil
	}

	infos := make(map[classinfo.Key]*classinfo.ClassInfo, len(descriptions))
	for _, description := range descriptions {
		if description == nil || description.ClassId == 0 {
			continue
		}
		infos[description.Key()] = description.ClassInfo()
	}
	return infos
}
