package econ

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/api/community"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/steamlang"
)

const defaultLanguage = "english"

// TradeOffer is the wire form of an offer as returned by IEconService.
type TradeOffer struct {
	TradeOfferId       api.FlexUint64           `json:"tradeofferid"`
	TradeId            api.FlexUint64           `json:"tradeid"`
	OtherAccountId     uint32                   `json:"accountid_other"`
	Message            string                   `json:"message"`
	ExpirationTime     int64                    `json:"expiration_time"`
	State              offer.State              `json:"trade_offer_state"`
	ToGive             []*community.Asset       `json:"items_to_give"`
	ToReceive          []*community.Asset       `json:"items_to_receive"`
	IsOurOffer         bool                     `json:"is_our_offer"`
	TimeCreated        int64                    `json:"time_created"`
	TimeUpdated        int64                    `json:"time_updated"`
	FromRealTimeTrade  bool                     `json:"from_real_time_trade"`
	EscrowEndDate      int64                    `json:"escrow_end_date"`
	ConfirmationMethod offer.ConfirmationMethod `json:"confirmation_method"`
}

// Offer converts the wire form. Item descriptions are attached later through the classinfo cache.
func (t *TradeOffer) Offer() offer.TradeOffer {
	return offer.TradeOffer{
		ID:                 uint64(t.TradeOfferId),
		TradeID:            uint64(t.TradeId),
		Partner:            steamid.FromAccountID(t.OtherAccountId),
		Message:            t.Message,
		IsOurOffer:         t.IsOurOffer,
		ItemsToGive:        assets(t.ToGive),
		ItemsToReceive:     assets(t.ToReceive),
		State:              t.State,
		ConfirmationMethod: t.ConfirmationMethod,
		TimeCreated:        unixTime(t.TimeCreated),
		TimeUpdated:        unixTime(t.TimeUpdated),
		Expires:            unixTime(t.ExpirationTime),
		EscrowEnds:         unixTime(t.EscrowEndDate),
		FromRealTimeTrade:  t.FromRealTimeTrade,
	}
}

func assets(items []*community.Asset) []offer.Asset {
	if len(items) == 0 {
		return nil
	}

	converted := make([]offer.Asset, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		converted = append(converted, offer.Asset{
			AppID:      uint32(item.AppId),
			ContextID:  uint64(item.ContextId),
			AssetID:    uint64(item.AssetId),
			ClassID:    uint64(item.ClassId),
			InstanceID: uint64(item.InstanceId),
			Amount:     uint64(item.Amount),
			Missing:    bool(item.Missing),
		})
	}
	return converted
}

func unixTime(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}

type Client struct {
	Transport api.Transport
	// BaseURL defaults to api.BaseURL.
	BaseURL  string
	Language string
}

func NewClient(transport api.Transport, language string) *Client {
	if language == "" {
		language = defaultLanguage
	}
	return &Client{Transport: transport, BaseURL: api.BaseURL, Language: language}
}

type GetTradeOfferRequest struct {
	baseUrl  string
	id       uint64
	language string
}

func (g GetTradeOfferRequest) CacheTTL() time.Duration {
	return 0
}

func (g GetTradeOfferRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (g GetTradeOfferRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (g GetTradeOfferRequest) Retryable() bool {
	return true
}

func (g GetTradeOfferRequest) RequiresApiKey() bool {
	return true
}

func (g GetTradeOfferRequest) Method() string {
	return http.MethodGet
}

func (g GetTradeOfferRequest) Url() string {
	return fmt.Sprintf("%s/IEconService/GetTradeOffer/v1/", g.baseUrl)
}

func (g GetTradeOfferRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("tradeofferid", strconv.FormatUint(g.id, 10))
	values.Add("language", g.language)
	values.Add("get_descriptions", "1")
	return values, nil
}

type GetTradeOfferResponse struct {
	Response struct {
		Offer        *TradeOffer              `json:"offer"`
		Descriptions []*community.Description `json:"descriptions"`
	} `json:"response"`
}

func (c *Client) GetTradeOffer(ctx context.Context, id uint64) (*GetTradeOfferResponse, error) {
	request := GetTradeOfferRequest{
		baseUrl:  c.BaseURL,
		id:       id,
		language: c.Language,
	}
	var response GetTradeOfferResponse
	sendErr := c.Transport.Send(ctx, request, &response)
	if sendErr != nil {
		return nil, sendErr
	}
	if response.Response.Offer == nil {
		return nil, api.NewError(api.MalformedKind, "GetTradeOffer", fmt.Errorf("offer %d missing from response", id))
	}

	return &response, nil
}

type GetTradeOffersOptions struct {
	GetSent         bool
	GetReceived     bool
	GetDescriptions bool
	ActiveOnly      bool
	HistoricalOnly  bool
	// HistoricalCutoff is a unix timestamp. Zero requests everything.
	HistoricalCutoff int64
}

type GetTradeOffersRequest struct {
	GetTradeOffersOptions
	baseUrl  string
	language string
	cursor   uint64
}

func (g GetTradeOffersRequest) CacheTTL() time.Duration {
	return 0
}

func (g GetTradeOffersRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (g GetTradeOffersRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (g GetTradeOffersRequest) Retryable() bool {
	return true
}

func (g GetTradeOffersRequest) RequiresApiKey() bool {
	return true
}

func (g GetTradeOffersRequest) Method() string {
	return http.MethodGet
}

func (g GetTradeOffersRequest) Url() string {
	return fmt.Sprintf("%s/IEconService/GetTradeOffers/v1/", g.baseUrl)
}

func (g GetTradeOffersRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("language", g.language)
	if g.GetSent {
		values.Add("get_sent_offers", "1")
	}
	if g.GetReceived {
		values.Add("get_received_offers", "1")
	}
	if g.GetDescriptions {
		values.Add("get_descriptions", "1")
	}
	if g.ActiveOnly {
		values.Add("active_only", "1")
	}
	if g.HistoricalOnly {
		values.Add("historical_only", "1")
	}
	if g.HistoricalCutoff != 0 {
		values.Add("time_historical_cutoff", strconv.FormatInt(g.HistoricalCutoff, 10))
	}
	if g.cursor != 0 {
		values.Add("cursor", strconv.FormatUint(g.cursor, 10))
	}
	return values, nil
}

type GetTradeOffersResponse struct {
	Sent         []*TradeOffer            `json:"trade_offers_sent"`
	Received     []*TradeOffer            `json:"trade_offers_received"`
	Descriptions []*community.Description `json:"descriptions"`
	NextCursor   uint64                   `json:"next_cursor"`
}

type getTradeOffersEnvelope struct {
	Response GetTradeOffersResponse `json:"response"`
}

// maxOfferPages guards against a cursor that never ends.
const maxOfferPages = 100

// GetTradeOffers follows the cursor until steam reports no more pages and returns everything it listed.
func (c *Client) GetTradeOffers(ctx context.Context, options GetTradeOffersOptions) (*GetTradeOffersResponse, error) {
	request := GetTradeOffersRequest{
		GetTradeOffersOptions: options,
		baseUrl:               c.BaseURL,
		language:              c.Language,
	}

	combined := &GetTradeOffersResponse{}
	for page := 0; page < maxOfferPages; page++ {
		var envelope getTradeOffersEnvelope
		sendErr := c.Transport.Send(ctx, request, &envelope)
		if sendErr != nil {
			return nil, sendErr
		}

		combined.Sent = append(combined.Sent, envelope.Response.Sent...)
		combined.Received = append(combined.Received, envelope.Response.Received...)
		combined.Descriptions = append(combined.Descriptions, envelope.Response.Descriptions...)

		if envelope.Response.NextCursor == 0 || envelope.Response.NextCursor == request.cursor {
			return combined, nil
		}
		request.cursor = envelope.Response.NextCursor
	}

	return nil, api.NewError(api.MalformedKind, "GetTradeOffers", fmt.Errorf("cursor did not end after %d pages", maxOfferPages))
}
