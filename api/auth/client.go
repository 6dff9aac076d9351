package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/steamlang"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

type TokenRenewalType int

const (
	NoneRenewalType TokenRenewalType = iota
	AllowRenewalType
)

type Client struct {
	Transport api.Transport
	// BaseURL defaults to api.BaseURL.
	BaseURL string
}

func NewClient(transport api.Transport) *Client {
	return &Client{Transport: transport, BaseURL: api.BaseURL}
}

// TokenSubject returns the subject claim of a steam issued JWT without verifying its signature. For access
// and refresh tokens this is the account's SteamID64.
func TokenSubject(token string) (string, *jwt.NumericDate, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", nil, eris.Wrap(err, "token is not a valid JWT")
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", nil, eris.New("token is missing its subject claim")
	}

	expiry, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return "", nil, eris.Wrap(err, "token has an invalid expiration claim")
	}
	return subject, expiry, nil
}

type GenerateAccessTokenRequest struct {
	baseUrl      string
	RefreshToken string
	SteamID      string
	RenewalType  TokenRenewalType
}

func (r GenerateAccessTokenRequest) Retryable() bool {
	return true
}

func (r GenerateAccessTokenRequest) CacheTTL() time.Duration {
	return 0
}

func (r GenerateAccessTokenRequest) RequiresApiKey() bool {
	return false
}

func (r GenerateAccessTokenRequest) Method() string {
	return http.MethodPost
}

func (r GenerateAccessTokenRequest) Values() (url.Values, error) {
	values := make(url.Values)
	values.Add("refresh_token", r.RefreshToken)
	values.Add("steamid", r.SteamID)
	values.Add("renewal_type", strconv.Itoa(int(r.RenewalType)))
	return values, nil
}

func (r GenerateAccessTokenRequest) Url() string {
	return fmt.Sprintf("%v/IAuthenticationService/GenerateAccessTokenForApp/v1/", r.baseUrl)
}

func (r GenerateAccessTokenRequest) Headers() (http.Header, error) {
	return nil, nil
}

func (r GenerateAccessTokenRequest) EnsureResponseSuccess(httpResponse *http.Response) error {
	return steamlang.EnsureSuccessResponse(httpResponse)
}

type GenerateAccessTokenResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"response"`
}

// GenerateAccessTokenForApp trades a refresh token for a new access token. With renew set steam may also rotate
// the refresh token, in which case RefreshToken is non-empty in the response.
func (c *Client) GenerateAccessTokenForApp(ctx context.Context, refreshToken string, renew bool) (GenerateAccessTokenResponse, error) {
	subject, _, err := TokenSubject(refreshToken)
	if err != nil {
		return GenerateAccessTokenResponse{}, api.NewError(api.FatalKind, "GenerateAccessTokenForApp", err)
	}

	renewalType := NoneRenewalType
	if renew {
		renewalType = AllowRenewalType
	}

	baseUrl := c.BaseURL
	if baseUrl == "" {
		baseUrl = api.BaseURL
	}

	request := GenerateAccessTokenRequest{
		baseUrl:      baseUrl,
		RefreshToken: refreshToken,
		SteamID:      subject,
		RenewalType:  renewalType,
	}
	var response GenerateAccessTokenResponse
	if err := c.Transport.Send(ctx, request, &response); err != nil {
		return GenerateAccessTokenResponse{}, err
	}
	if response.Response.AccessToken == "" {
		return GenerateAccessTokenResponse{}, api.NewError(api.FatalKind, "GenerateAccessTokenForApp",
			eris.New("steam did not issue an access token, the refresh token was probably revoked"))
	}

	return response, nil
}
