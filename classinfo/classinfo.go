// Package classinfo resolves item descriptions ("classinfos") through a bounded in-memory LFU cache backed by a
// durable blob store, fetching whatever is missing from steam in one batch per call.
package classinfo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Key identifies a classinfo. Class and instance ids are only unique within an app.
type Key struct {
	AppID      uint32 `json:"appid"`
	ClassID    uint64 `json:"classid,string"`
	InstanceID uint64 `json:"instanceid,string"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%d_%d", k.AppID, k.ClassID, k.InstanceID)
}

// StoreKey is the key used for the durable copy of this classinfo.
func (k Key) StoreKey() string {
	return "classinfo_" + k.String()
}

// ParseKey parses the "appid_classid_instanceid" form produced by String. The instance id may be omitted.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 && len(parts) != 3 {
		return Key{}, eris.Errorf("classinfo key %q must look like appid_classid[_instanceid]", s)
	}

	appID, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Key{}, eris.Wrapf(err, "invalid appid in %q", s)
	}
	classID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Key{}, eris.Wrapf(err, "invalid classid in %q", s)
	}

	var instanceID uint64
	if len(parts) == 3 {
		instanceID, err = strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return Key{}, eris.Wrapf(err, "invalid instanceid in %q", s)
		}
	}

	return Key{AppID: uint32(appID), ClassID: classID, InstanceID: instanceID}, nil
}

// ClassInfo describes an item type. Values are immutable once resolved and shared between every asset that
// references them.
type ClassInfo struct {
	AppID                       uint32          `json:"appid"`
	ClassID                     uint64          `json:"classid,string"`
	InstanceID                  uint64          `json:"instanceid,string"`
	Name                        string          `json:"name"`
	MarketName                  string          `json:"market_name"`
	MarketHashName              string          `json:"market_hash_name,omitempty"`
	Type                        string          `json:"type"`
	NameColor                   string          `json:"name_color,omitempty"`
	BackgroundColor             string          `json:"background_color,omitempty"`
	IconURL                     string          `json:"icon_url"`
	IconURLLarge                string          `json:"icon_url_large,omitempty"`
	Tradable                    bool            `json:"tradable"`
	Marketable                  bool            `json:"marketable"`
	Commodity                   bool            `json:"commodity"`
	MarketTradableRestriction   uint32          `json:"market_tradable_restriction,omitempty"`
	MarketMarketableRestriction uint32          `json:"market_marketable_restriction,omitempty"`
	FraudWarnings               []string        `json:"fraudwarnings,omitempty"`
	Descriptions                []Line          `json:"descriptions,omitempty"`
	Tags                        []Tag           `json:"tags,omitempty"`
	Actions                     []Action        `json:"actions,omitempty"`
	AppData                     json.RawMessage `json:"app_data,omitempty"`
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
}

type Action struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

func (c *ClassInfo) Key() Key {
	return Key{AppID: c.AppID, ClassID: c.ClassID, InstanceID: c.InstanceID}
}

func encode(info *ClassInfo) ([]byte, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, eris.Wrapf(err, "marshal classinfo %s", info.Key())
	}
	return data, nil
}

// decode rejects blobs that do not describe key, which is how truncated or foreign files are detected.
func decode(key Key, data []byte) (*ClassInfo, error) {
	var info ClassInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, eris.Wrapf(err, "unmarshal classinfo %s", key)
	}
	if info.ClassID != key.ClassID {
		return nil, eris.Errorf("stored classinfo %s has classid %d", key, info.ClassID)
	}

	info.AppID = key.AppID
	info.InstanceID = key.InstanceID
	return &info, nil
}
