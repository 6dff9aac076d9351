package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte("test"))
	require.NoError(t, err)
	return signed
}

func TestTokenSubject(t *testing.T) {
	expires := time.Unix(1800000000, 0)
	subject, expiry, err := TokenSubject(signedToken(t, "76561197960287930", expires))
	require.NoError(t, err)
	assert.Equal(t, "76561197960287930", subject)
	assert.True(t, expiry.Equal(expires))

	_, _, err = TokenSubject("not-a-token")
	assert.Error(t, err)

	_, _, err = TokenSubject(signedToken(t, "", expires))
	assert.Error(t, err)
}

func TestGenerateAccessTokenForApp(t *testing.T) {
	refresh := signedToken(t, "76561197960287930", time.Now().Add(time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/IAuthenticationService/GenerateAccessTokenForApp/v1/", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, refresh, r.PostForm.Get("refresh_token"))
		assert.Equal(t, "76561197960287930", r.PostForm.Get("steamid"))
		assert.Equal(t, "1", r.PostForm.Get("renewal_type"))
		_, _ = w.Write([]byte(`{"response":{"access_token":"new-access","refresh_token":"new-refresh"}}`))
	}))
	defer server.Close()

	client := NewClient(api.NewTransport(api.HttpTransportOptions{RetryMax: 1}))
	client.BaseURL = server.URL

	response, err := client.GenerateAccessTokenForApp(context.Background(), refresh, true)
	require.NoError(t, err)
	assert.Equal(t, "new-access", response.Response.AccessToken)
	assert.Equal(t, "new-refresh", response.Response.RefreshToken)
}

func TestGenerateAccessTokenWithoutTokenIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{}}`))
	}))
	defer server.Close()

	client := NewClient(api.NewTransport(api.HttpTransportOptions{RetryMax: 1}))
	client.BaseURL = server.URL

	_, err := client.GenerateAccessTokenForApp(context.Background(), signedToken(t, "76561197960287930", time.Now().Add(time.Hour)), false)
	assert.True(t, api.IsFatal(err))
}

func TestGenerateAccessTokenRejectsGarbageRefreshToken(t *testing.T) {
	client := NewClient(api.NewTransport(api.HttpTransportOptions{RetryMax: 1}))
	_, err := client.GenerateAccessTokenForApp(context.Background(), "garbage", false)
	assert.True(t, api.IsFatal(err))
}
