package community

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/steamlang"
)

type Client struct {
	Transport api.Transport
	// BaseURL defaults to api.CommunityURL.
	BaseURL string
}

func NewClient(transport api.Transport) *Client {
	return &Client{Transport: transport, BaseURL: api.CommunityURL}
}

type PlayerInventoryRequest struct {
	baseUrl      string
	steamId      steamid.SteamID
	appId        uint32
	contextId    uint64
	language     string
	count        uint
	startAssetId uint64
}

func (p PlayerInventoryRequest) Retryable() bool {
	return true
}

// CacheTTL lets a configured response cache absorb repeated loads of the same page.
func (p PlayerInventoryRequest) CacheTTL() time.Duration {
	return 30 * time.Second
}

func (p PlayerInventoryRequest) RequiresApiKey() bool {
	return false
}

func (p PlayerInventoryRequest) Method() string {
	return http.MethodGet
}

func (p PlayerInventoryRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (p PlayerInventoryRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (p PlayerInventoryRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("l", p.language)
	values.Add("count", strconv.FormatUint(uint64(p.count), 10))
	if p.startAssetId != 0 {
		values.Add("start_assetid", strconv.FormatUint(p.startAssetId, 10))
	}
	return values, nil
}

func (p PlayerInventoryRequest) Url() string {
	return fmt.Sprintf("%s/inventory/%s/%d/%d", p.baseUrl, p.steamId.String(), p.appId, p.contextId)
}

type PlayerInventory struct {
	Assets              []Asset        `json:"assets"`
	Descriptions        []*Description `json:"descriptions"`
	MoreItems           api.FlexBool   `json:"more_items,omitempty"`
	LastAssetId         api.FlexUint64 `json:"last_assetid,omitempty"`
	TotalInventoryCount int            `json:"total_inventory_count"`
	Success             api.FlexBool   `json:"success"`
}

type Asset struct {
	AppId      api.FlexUint64 `json:"appid"`
	ContextId  api.FlexUint64 `json:"contextid"`
	AssetId    api.FlexUint64 `json:"assetid"`
	ClassId    api.FlexUint64 `json:"classid"`
	InstanceId api.FlexUint64 `json:"instanceid"`
	Amount     api.FlexUint64 `json:"amount"`
	Missing    api.FlexBool   `json:"missing,omitempty"`
}

func (c *Client) GetPlayerInventory(
	ctx context.Context,
	steamID steamid.SteamID,
	appID uint32,
	contextID uint64,
	language string,
	count uint,
	startAssetID uint64,
) (*PlayerInventory, error) {
	request := PlayerInventoryRequest{
		baseUrl:      c.BaseURL,
		steamId:      steamID,
		appId:        appID,
		contextId:    contextID,
		language:     language,
		count:        count,
		startAssetId: startAssetID,
	}
	response := &PlayerInventory{}
	sendErr := c.Transport.Send(ctx, request, response)
	if sendErr != nil {
		return nil, sendErr
	}
	if !response.Success {
		return nil, api.NewError(api.RejectedKind, "inventory", fmt.Errorf("inventory of %s is unavailable", steamID))
	}
	return response, nil
}
