package twofactor

import (
	"context"
	"time"
)

type Api interface {
	AlignTime(ctx context.Context, clock OffsetSetter) (time.Duration, error)
	QueryTime(ctx context.Context) (*QueryTimeResponse, error)
}
