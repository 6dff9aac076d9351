package mobileconf

import (
	"context"

	"github.com/escrow-tf/tradeoffers/confirmation"
)

type Api interface {
	GetList(ctx context.Context) (*GetListResponse, error)
	Respond(ctx context.Context, id uint64, nonce string, op confirmation.Operation) (*OperationResponse, error)
}
