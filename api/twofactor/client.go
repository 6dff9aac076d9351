package twofactor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/steamlang"
)

// OffsetSetter receives the measured clock offset. *totp.State is one.
type OffsetSetter interface {
	SetOffset(offset time.Duration)
}

type Client struct {
	Transport api.Transport
	// BaseURL defaults to api.BaseURL.
	BaseURL string
	now     func() time.Time
}

func NewClient(transport api.Transport) *Client {
	return &Client{
		Transport: transport,
		BaseURL:   api.BaseURL,
		now:       time.Now,
	}
}

// AlignTime asks steam for its clock and stores the difference to ours in clock, so generated codes and
// confirmation signatures use steam's time.
func (c *Client) AlignTime(ctx context.Context, clock OffsetSetter) (time.Duration, error) {
	now := c.now
	if now == nil {
		now = time.Now
	}

	unixNow := now().Unix()
	timeResponse, err := c.QueryTime(ctx)
	if err != nil {
		return 0, err
	}

	offset := time.Second * time.Duration(timeResponse.Response.ServerTime-unixNow)
	clock.SetOffset(offset)
	return offset, nil
}

type QueryTimeRequest struct {
	baseUrl string
}

func (q QueryTimeRequest) Retryable() bool {
	return true
}

func (q QueryTimeRequest) CacheTTL() time.Duration {
	return 0
}

func (q QueryTimeRequest) RequiresApiKey() bool {
	return false
}

func (q QueryTimeRequest) Method() string {
	return http.MethodPost
}

func (q QueryTimeRequest) Url() string {
	return fmt.Sprintf("%s/ITwoFactorService/QueryTime/v0001", q.baseUrl)
}

func (q QueryTimeRequest) Values() (url.Values, error) {
	return url.Values{
		"steamid": []string{"0"},
	}, nil
}

func (q QueryTimeRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (q QueryTimeRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

type QueryTimeResponse struct {
	Response struct {
		ServerTime int64 `json:"server_time,string"`
	} `json:"response"`
}

func (c *Client) QueryTime(ctx context.Context) (*QueryTimeResponse, error) {
	baseUrl := c.BaseURL
	if baseUrl == "" {
		baseUrl = api.BaseURL
	}

	var response QueryTimeResponse
	if err := c.Transport.Send(ctx, QueryTimeRequest{baseUrl: baseUrl}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
