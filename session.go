package tradeoffers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/api/auth"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// refreshMargin is how long before expiry an access token is replaced.
const refreshMargin = 5 * time.Minute

var communityCookieUrl = &url.URL{Scheme: "https", Host: "steamcommunity.com", Path: "/"}

type SessionOptions struct {
	// AccessToken is a steam web access token. It may be empty when RefreshToken is set.
	AccessToken  string
	RefreshToken string
	// SessionID reuses an existing sessionid cookie. A random one is generated when empty.
	SessionID string
	// Auth refreshes the access token. Defaults to an auth client on the session's transport.
	Auth   auth.Api
	Logger *zap.Logger
}

// Session is an authenticated steamcommunity.com web session built from tokens issued by a prior login. It
// installs the sessionid and steamLoginSecure cookies into the transport's cookie jar and keeps the access
// token fresh while a refresh token is available.
type Session struct {
	transport api.Transport
	auth      auth.Api
	logger    *zap.Logger
	steamId   steamid.SteamID
	now       func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	sessionId    string
}

func NewSession(ctx context.Context, transport api.Transport, options SessionOptions) (*Session, error) {
	if options.AccessToken == "" && options.RefreshToken == "" {
		return nil, api.NewError(api.FatalKind, "session", eris.New("an access token or a refresh token is required"))
	}
	if options.Auth == nil {
		options.Auth = auth.NewClient(transport)
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	token := options.AccessToken
	if token == "" {
		token = options.RefreshToken
	}
	subject, _, err := auth.TokenSubject(token)
	if err != nil {
		return nil, api.NewError(api.FatalKind, "session", err)
	}
	steamId, err := steamid.ParseSteamID64(subject)
	if err != nil {
		return nil, api.NewError(api.FatalKind, "session", eris.Wrap(err, "token subject is not a SteamID64"))
	}

	sessionId := options.SessionID
	if sessionId == "" {
		sessionId, err = newSessionId()
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		transport:    transport,
		auth:         options.Auth,
		logger:       options.Logger.With(zap.Stringer("steamid", steamId)),
		steamId:      steamId,
		now:          time.Now,
		refreshToken: options.RefreshToken,
		sessionId:    sessionId,
	}

	if options.AccessToken != "" {
		if err := s.setAccessToken(options.AccessToken); err != nil {
			return nil, err
		}
	}

	if err := s.EnsureFresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newSessionId() (string, error) {
	sessionIdBuffer := [12]byte{}
	if _, err := rand.Read(sessionIdBuffer[:]); err != nil {
		return "", eris.Wrap(err, "error creating sessionid bytes")
	}
	return hex.EncodeToString(sessionIdBuffer[:]), nil
}

func (s *Session) SteamId() steamid.SteamID {
	return s.steamId
}

// SessionId reads the sessionid cookie back from the jar, so a value rotated by steam is picked up.
func (s *Session) SessionId() (string, error) {
	for _, cookie := range s.transport.CookieJar().Cookies(communityCookieUrl) {
		if strings.ToLower(cookie.Name) == "sessionid" {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("could not find sessionid cookie")
}

// ExpiresAt is the expiry of the current access token.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// EnsureFresh replaces the access token when it is about to expire. Without a refresh token an expired access
// token is a fatal error.
func (s *Session) EnsureFresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && s.now().Add(refreshMargin).Before(s.expiresAt) {
		return nil
	}

	if s.refreshToken == "" {
		if s.now().Before(s.expiresAt) {
			// nothing to refresh with; use it until it runs out
			return nil
		}
		return api.NewError(api.FatalKind, "session", eris.Errorf("access token expired at %s", s.expiresAt.Format(time.RFC3339)))
	}

	response, err := s.auth.GenerateAccessTokenForApp(ctx, s.refreshToken, true)
	if err != nil {
		return err
	}
	if response.Response.RefreshToken != "" {
		s.refreshToken = response.Response.RefreshToken
	}
	if err := s.setAccessTokenLocked(response.Response.AccessToken); err != nil {
		return err
	}

	s.logger.Info("refreshed steam access token", zap.Time("expires_at", s.expiresAt))
	return nil
}

func (s *Session) setAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAccessTokenLocked(token)
}

func (s *Session) setAccessTokenLocked(token string) error {
	subject, expiry, err := auth.TokenSubject(token)
	if err != nil {
		return api.NewError(api.FatalKind, "session", err)
	}
	if subject != s.steamId.String() {
		return api.NewError(api.FatalKind, "session", eris.Errorf("access token belongs to %s, not %s", subject, s.steamId))
	}
	if expiry == nil {
		return api.NewError(api.FatalKind, "session", eris.New("access token has no expiration"))
	}

	s.accessToken = token
	s.expiresAt = expiry.Time

	steamLoginSecure := fmt.Sprintf("%s||%s", s.steamId.String(), token)
	s.transport.CookieJar().SetCookies(communityCookieUrl, []*http.Cookie{
		{
			Name:  "sessionid",
			Value: s.sessionId,
		},
		{
			Name:  "steamLoginSecure",
			Value: url.QueryEscape(steamLoginSecure),
		},
	})
	return nil
}
