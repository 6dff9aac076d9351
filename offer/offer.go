// Package offer holds the trade offer model and the snapshot differ that turns successive listings of an
// account's offers into state change events.
package offer

import (
	"encoding/json"
	"time"

	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/steamid"
)

type ConfirmationMethod uint8

//goland:noinspection GoUnusedConst
const (
	InvalidConfirmationMethod   ConfirmationMethod = 0
	EmailConfirmationMethod     ConfirmationMethod = 1
	MobileAppConfirmationMethod ConfirmationMethod = 2
)

type TradeOffer struct {
	ID                 uint64
	TradeID            uint64
	Partner            steamid.SteamID
	Message            string
	IsOurOffer         bool
	ItemsToGive        []Asset
	ItemsToReceive     []Asset
	State              State
	ConfirmationMethod ConfirmationMethod
	TimeCreated        time.Time
	TimeUpdated        time.Time
	Expires            time.Time
	EscrowEnds         time.Time
	FromRealTimeTrade  bool
}

// Asset is one line item of an offer. ClassInfo is shared with the cache and must not be modified.
type Asset struct {
	AppID      uint32
	ContextID  uint64
	AssetID    uint64
	ClassID    uint64
	InstanceID uint64
	Amount     uint64
	Missing    bool
	Properties json.RawMessage

	ClassInfo *classinfo.ClassInfo
	// ClassInfoErr is set instead of ClassInfo when the description could not be resolved.
	ClassInfoErr error
}

func (a Asset) ClassInfoKey() classinfo.Key {
	return classinfo.Key{AppID: a.AppID, ClassID: a.ClassID, InstanceID: a.InstanceID}
}

// NeedsConfirmation reports whether the offer waits on a mobile confirmation before it is sent.
func (o TradeOffer) NeedsConfirmation() bool {
	return o.State == NeedsConfirmationState
}

// IsGlitched reports whether steam returned the offer without any items, which happens while its item
// servers are degraded. Such listings are not trustworthy.
func (o TradeOffer) IsGlitched() bool {
	return len(o.ItemsToGive) == 0 && len(o.ItemsToReceive) == 0
}

// ClassInfoKeys returns the distinct description keys referenced by the offer's items.
func (o TradeOffer) ClassInfoKeys() []classinfo.Key {
	seen := make(map[classinfo.Key]struct{}, len(o.ItemsToGive)+len(o.ItemsToReceive))
	var keys []classinfo.Key
	for _, items := range [][]Asset{o.ItemsToGive, o.ItemsToReceive} {
		for _, item := range items {
			key := item.ClassInfoKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

// WithClassInfos returns a copy of the offer whose items point at the resolved descriptions. Items missing
// from results are marked with classinfo.ErrNotReturned.
func (o TradeOffer) WithClassInfos(results map[classinfo.Key]classinfo.Result) TradeOffer {
	o.ItemsToGive = attach(o.ItemsToGive, results)
	o.ItemsToReceive = attach(o.ItemsToReceive, results)
	return o
}

func attach(items []Asset, results map[classinfo.Key]classinfo.Result) []Asset {
	if items == nil {
		return nil
	}

	attached := make([]Asset, len(items))
	for i, item := range items {
		result, ok := results[item.ClassInfoKey()]
		switch {
		case !ok:
			item.ClassInfo, item.ClassInfoErr = nil, classinfo.ErrNotReturned
		case result.Err != nil:
			item.ClassInfo, item.ClassInfoErr = nil, result.Err
		default:
			item.ClassInfo, item.ClassInfoErr = result.ClassInfo, nil
		}
		attached[i] = item
	}
	return attached
}
