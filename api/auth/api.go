package auth

import (
	"context"
)

type Api interface {
	GenerateAccessTokenForApp(ctx context.Context, refreshToken string, renew bool) (GenerateAccessTokenResponse, error)
}
