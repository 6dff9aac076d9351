package mobileconf

import (
	"context"
	"fmt"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/confirmation"
)

// Surface adapts the mobileconf endpoints to confirmation.Surface.
type Surface struct {
	Api Api
}

func (s Surface) Pending(ctx context.Context) ([]confirmation.Pending, error) {
	list, err := s.Api.GetList(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]confirmation.Pending, 0, len(list.Confirmations))
	for _, conf := range list.Confirmations {
		pending = append(pending, conf.Pending())
	}
	return pending, nil
}

// Respond reports AlreadyConfirmed when steam refuses the operation because the confirmation is gone, which
// is what happens when an earlier attempt went through but its answer got lost.
func (s Surface) Respond(ctx context.Context, p confirmation.Pending, op confirmation.Operation) (confirmation.Outcome, error) {
	response, err := s.Api.Respond(ctx, p.ID, p.Nonce, op)
	if err != nil {
		return 0, err
	}
	if response.Success {
		return confirmation.Confirmed, nil
	}

	list, err := s.Api.GetList(ctx)
	if err != nil {
		return 0, err
	}
	for _, conf := range list.Confirmations {
		if uint64(conf.ID) == p.ID {
			return 0, api.NewError(api.RejectedKind, "mobileconf ajaxop", fmt.Errorf("confirmation %d refused: %s", p.ID, response.Message))
		}
	}
	return confirmation.AlreadyConfirmed, nil
}

var _ confirmation.Surface = Surface{}
