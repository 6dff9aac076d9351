package mobileconf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/confirmation"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/steamlang"
	"github.com/escrow-tf/tradeoffers/totp"
	"github.com/rotisserie/eris"
)

// Signer produces confirmation keys. *totp.State is one.
type Signer interface {
	Now() time.Time
	Sign(at time.Time, tag string) (string, error)
}

type Client struct {
	Transport api.Transport
	Signer    Signer
	SteamID   steamid.SteamID
	// BaseURL defaults to api.CommunityURL.
	BaseURL string
}

func NewClient(transport api.Transport, signer Signer, steamID steamid.SteamID) *Client {
	return &Client{
		Transport: transport,
		Signer:    signer,
		SteamID:   steamID,
		BaseURL:   api.CommunityURL,
	}
}

type Operation struct {
	Operation confirmation.Operation
	ID        uint64
	Nonce     string
}

// Request is a signed request against the mobileconf endpoints. The signature covers the tag and the time it
// was built at.
type Request struct {
	baseUrl   string
	path      string
	tag       string
	retryable bool
	operation *Operation
	values    url.Values
}

func (r Request) Retryable() bool {
	return r.retryable
}

func (r Request) CacheTTL() time.Duration {
	return 0
}

func (r Request) RequiresApiKey() bool {
	return false
}

func (r Request) Method() string {
	return http.MethodGet
}

func (r Request) Url() string {
	return fmt.Sprintf("%s/mobileconf/%s", r.baseUrl, r.path)
}

func (r Request) Values() (url.Values, error) {
	return r.values, nil
}

func (r Request) Headers() (http.Header, error) {
	return nil, nil
}

func (r Request) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

func (c *Client) newRequest(path, tag string, retryable bool, operation *Operation) (Request, error) {
	at := c.Signer.Now()
	key, err := c.Signer.Sign(at, tag)
	if err != nil {
		return Request{}, eris.Wrap(err, "signing confirmation request")
	}

	values := make(url.Values)
	values.Add("p", totp.GetDeviceId(c.SteamID.String()))
	values.Add("a", c.SteamID.String())
	values.Add("k", key)
	values.Add("t", strconv.FormatInt(at.Unix(), 10))
	values.Add("m", "react")
	values.Add("tag", tag)

	if operation != nil {
		values.Add("op", string(operation.Operation))
		values.Add("cid", strconv.FormatUint(operation.ID, 10))
		values.Add("ck", operation.Nonce)
	}

	return Request{
		baseUrl:   c.BaseURL,
		path:      path,
		tag:       tag,
		retryable: retryable,
		operation: operation,
		values:    values,
	}, nil
}

type Confirmation struct {
	ID           api.FlexUint64    `json:"id"`
	Type         confirmation.Kind `json:"type"`
	TypeName     string            `json:"type_name"`
	CreatorID    api.FlexUint64    `json:"creator_id"`
	Nonce        string            `json:"nonce"`
	Headline     string            `json:"headline"`
	Summary      []string          `json:"summary"`
	CreationTime int64             `json:"creation_time"`
	Icon         string            `json:"icon"`
}

func (c Confirmation) Pending() confirmation.Pending {
	return confirmation.Pending{
		ID:        uint64(c.ID),
		Nonce:     c.Nonce,
		CreatorID: uint64(c.CreatorID),
		Kind:      c.Type,
		Headline:  c.Headline,
		Summary:   c.Summary,
		CreatedAt: time.Unix(c.CreationTime, 0),
	}
}

type GetListResponse struct {
	Success       bool           `json:"success"`
	NeedsAuth     bool           `json:"needauth,omitempty"`
	Message       string         `json:"message,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	Confirmations []Confirmation `json:"conf"`
}

var errNeedsAuth = errors.New("mobileconf session is not authenticated")

func (c *Client) GetList(ctx context.Context) (*GetListResponse, error) {
	request, err := c.newRequest("getlist", "list", true, nil)
	if err != nil {
		return nil, err
	}

	response := &GetListResponse{}
	if err := c.Transport.Send(ctx, request, response); err != nil {
		return nil, err
	}

	if !response.Success {
		if response.NeedsAuth {
			return nil, api.NewError(api.FatalKind, "mobileconf getlist", errNeedsAuth)
		}
		return nil, api.NewError(api.RejectedKind, "mobileconf getlist", fmt.Errorf("getlist failed: %s %s", response.Message, response.Detail))
	}
	return response, nil
}

type OperationResponse struct {
	Success   bool   `json:"success"`
	NeedsAuth bool   `json:"needauth,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Respond allows or cancels a single confirmation. An unsuccessful answer is returned as is, with a nil
// error.
func (c *Client) Respond(ctx context.Context, id uint64, nonce string, op confirmation.Operation) (*OperationResponse, error) {
	request, err := c.newRequest("ajaxop", string(op), false, &Operation{Operation: op, ID: id, Nonce: nonce})
	if err != nil {
		return nil, err
	}

	response := &OperationResponse{}
	if err := c.Transport.Send(ctx, request, response); err != nil {
		return nil, err
	}
	if !response.Success && response.NeedsAuth {
		return nil, api.NewError(api.FatalKind, "mobileconf ajaxop", errNeedsAuth)
	}
	return response, nil
}
