package tradeoffer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/steamlang"
	"github.com/rotisserie/eris"
)

type SessionIdFunc func() (string, error)

type Client struct {
	Transport     api.Transport
	SessionIdFunc SessionIdFunc
	// BaseURL defaults to api.CommunityURL.
	BaseURL string
}

func NewClient(transport api.Transport, sessionId SessionIdFunc) *Client {
	return &Client{
		Transport:     transport,
		SessionIdFunc: sessionId,
		BaseURL:       api.CommunityURL,
	}
}

type ActionResponse struct {
	TradeOfferId uint64 `json:"tradeofferid,string"`
}

type AcceptResponse struct {
	TradeId                 uint64 `json:"tradeid,string"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
	EmailDomain             string `json:"email_domain"`
}

type ActionRequest struct {
	baseUrl   string
	id        uint64
	verb      string
	sessionId string
	partner   steamid.SteamID
}

func (t ActionRequest) Retryable() bool {
	return false
}

func (t ActionRequest) CacheTTL() time.Duration {
	return 0
}

func (t ActionRequest) RequiresApiKey() bool {
	return false
}

func (t ActionRequest) Method() string {
	return http.MethodPost
}

func (t ActionRequest) Url() string {
	return fmt.Sprintf("%s/tradeoffer/%d/%s", t.baseUrl, t.id, t.verb)
}

func (t ActionRequest) Values() (url.Values, error) {
	values := url.Values{
		"sessionid": []string{t.sessionId},
	}
	if t.verb == "accept" {
		values.Add("serverid", "1")
		values.Add("tradeofferid", strconv.FormatUint(t.id, 10))
		values.Add("partner", t.partner.String())
		values.Add("captcha", "")
	}
	return values, nil
}

func (t ActionRequest) Headers() (http.Header, error) {
	if t.verb != "accept" {
		return nil, nil
	}
	return http.Header{
		"Referer": []string{fmt.Sprintf("%s/tradeoffer/%d/", t.baseUrl, t.id)},
	}, nil
}

// EnsureResponseSuccess reads the strError steam sends alongside failed actions, so the caller sees which
// refusal it was instead of a bare status code.
func (t ActionRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return ensureActionSuccess("tradeoffer "+t.verb, httpResponse)
}

func ensureActionSuccess(op string, httpResponse *http.Response) error {
	if httpResponse.StatusCode >= 200 && httpResponse.StatusCode < 300 {
		return nil
	}

	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, 64*1024))
	if readErr != nil {
		return api.NewError(api.TransientKind, op, eris.Wrap(readErr, "reading error response"))
	}

	var failure struct {
		Error string `json:"strError"`
	}
	if json.Unmarshal(body, &failure) != nil || failure.Error == "" {
		return steamlang.EnsureSuccessResponse(httpResponse)
	}
	return refusal(op, failure.Error)
}

func refusal(op, message string) error {
	sentinel, kind := errorFromMessage(message)
	return api.NewError(kind, op, fmt.Errorf("%w: %s", sentinel, message))
}

func (c *Client) baseUrl() string {
	if c.BaseURL == "" {
		return api.CommunityURL
	}
	return c.BaseURL
}

func (c *Client) act(ctx context.Context, id uint64, verb string, partner steamid.SteamID, response any) error {
	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return api.NewError(api.FatalKind, "tradeoffer "+verb, eris.Wrap(sessionIdErr, "error retrieving sessionId"))
	}

	request := ActionRequest{
		baseUrl:   c.baseUrl(),
		id:        id,
		verb:      verb,
		sessionId: sessionId,
		partner:   partner,
	}
	return c.Transport.Send(ctx, request, response)
}

// Accept accepts an offer sent to us. Offers that need a second factor come back with
// NeedsMobileConfirmation set and stay pending until confirmed.
func (c *Client) Accept(ctx context.Context, id uint64, partner steamid.SteamID) (*AcceptResponse, error) {
	var response AcceptResponse
	if err := c.act(ctx, id, "accept", partner, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) Decline(ctx context.Context, id uint64) error {
	var response ActionResponse
	return c.act(ctx, id, "decline", steamid.SteamID{}, &response)
}

// Cancel cancels an offer we sent.
func (c *Client) Cancel(ctx context.Context, id uint64) error {
	var response ActionResponse
	return c.act(ctx, id, "cancel", steamid.SteamID{}, &response)
}

type CreateParams struct {
	AccessToken string `json:"trade_offer_access_token,omitempty"`
}

type Offer struct {
	NewVersion bool  `json:"newversion"`
	Version    int   `json:"version"`
	Me         Party `json:"me"`
	Them       Party `json:"them"`
}

type Party struct {
	Assets   []Item     `json:"assets"`
	Currency []struct{} `json:"currency"`
	Ready    bool       `json:"ready"`
}

type Item struct {
	AppId     uint32 `json:"appid"`
	ContextId string `json:"contextid"`
	Amount    uint64 `json:"amount"`
	AssetId   string `json:"assetid"`
}

// NewItem builds the wire form of one asset. A zero amount means one.
func NewItem(appId uint32, contextId, assetId, amount uint64) Item {
	if amount == 0 {
		amount = 1
	}
	return Item{
		AppId:     appId,
		ContextId: strconv.FormatUint(contextId, 10),
		Amount:    amount,
		AssetId:   strconv.FormatUint(assetId, 10),
	}
}

type CreateRequest struct {
	baseUrl          string
	sessionId        string
	partner          steamid.SteamID
	partnerToken     string
	message          string
	offerJson        string
	createParamsJson string
}

func (c CreateRequest) Retryable() bool {
	return false
}

func (c CreateRequest) CacheTTL() time.Duration {
	return 0
}

func (c CreateRequest) RequiresApiKey() bool {
	return false
}

func (c CreateRequest) Method() string {
	return http.MethodPost
}

func (c CreateRequest) Url() string {
	return c.baseUrl + "/tradeoffer/new/send"
}

func (c CreateRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("sessionid", c.sessionId)
	values.Add("serverid", "1")
	values.Add("partner", c.partner.String())
	values.Add("tradeoffermessage", c.message)
	values.Add("json_tradeoffer", c.offerJson)
	values.Add("trade_offer_create_params", c.createParamsJson)
	return values, nil
}

func (c CreateRequest) Headers() (http.Header, error) {
	referer := fmt.Sprintf(
		"%s/tradeoffer/new/?partner=%d&token=%s",
		c.baseUrl,
		c.partner.AccountId(),
		url.QueryEscape(c.partnerToken),
	)
	return http.Header{
		"Referer": []string{referer},
	}, nil
}

func (c CreateRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return ensureActionSuccess("tradeoffer create", httpResponse)
}

type CreateResponse struct {
	Error                   string `json:"strError"`
	TradeOfferId            uint64 `json:"tradeofferid,string"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
	EmailDomain             string `json:"email_domain"`
}

// Create sends a new offer to partner. partnerToken is the partner's trade token and may be empty for friends.
// Offers that need a second factor come back with NeedsMobileConfirmation set and wait in
// NeedsConfirmation until confirmed.
func (c *Client) Create(
	ctx context.Context,
	partner steamid.SteamID,
	partnerToken string,
	myItems, theirItems []Item,
	message string,
) (*CreateResponse, error) {
	const op = "tradeoffer create"
	if !partner.IsValidIndividual() {
		return nil, api.NewError(api.MalformedKind, op, eris.Errorf("%s is not an individual account", partner))
	}
	if len(myItems) == 0 && len(theirItems) == 0 {
		return nil, api.NewError(api.MalformedKind, op, eris.New("an offer needs at least one item"))
	}

	sessionId, sessionIdErr := c.SessionIdFunc()
	if sessionIdErr != nil {
		return nil, api.NewError(api.FatalKind, op, eris.Wrap(sessionIdErr, "error retrieving sessionId"))
	}

	offerJson, err := json.Marshal(Offer{
		NewVersion: true,
		Version:    3,
		Me:         newParty(myItems),
		Them:       newParty(theirItems),
	})
	if err != nil {
		return nil, eris.Wrap(err, "error marshalling offer")
	}
	createParamsJson, err := json.Marshal(CreateParams{AccessToken: partnerToken})
	if err != nil {
		return nil, eris.Wrap(err, "error marshalling create params")
	}

	request := CreateRequest{
		baseUrl:          c.baseUrl(),
		sessionId:        sessionId,
		partner:          partner,
		partnerToken:     partnerToken,
		message:          message,
		offerJson:        string(offerJson),
		createParamsJson: string(createParamsJson),
	}
	var response CreateResponse
	if err := c.Transport.Send(ctx, request, &response); err != nil {
		return nil, err
	}

	if response.Error != "" {
		return nil, refusal(op, response.Error)
	}
	if response.TradeOfferId == 0 {
		return nil, api.NewError(api.MalformedKind, op, eris.New("steam returned tradeofferid 0"))
	}
	return &response, nil
}

func newParty(items []Item) Party {
	if items == nil {
		items = []Item{}
	}
	return Party{Assets: items, Currency: []struct{}{}}
}
