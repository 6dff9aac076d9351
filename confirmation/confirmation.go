// Package confirmation correlates pending mobile confirmations with tracked trade offers and drives them to
// completion.
package confirmation

import (
	"context"
	"time"

	"github.com/escrow-tf/tradeoffers/offer"
)

type Kind int

//goland:noinspection GoUnusedConst
const (
	UnknownKind         Kind = 0
	GenericKind         Kind = 1
	TradeKind           Kind = 2
	MarketListingKind   Kind = 3
	AccountRecoveryKind Kind = 6
)

func (k Kind) String() string {
	switch k {
	case GenericKind:
		return "generic"
	case TradeKind:
		return "trade"
	case MarketListingKind:
		return "market listing"
	case AccountRecoveryKind:
		return "account recovery"
	default:
		return "unknown"
	}
}

type Operation string

const (
	Allow  Operation = "allow"
	Cancel Operation = "cancel"
)

// Pending is a confirmation waiting on the mobile authenticator. It only lives until it is acted on.
type Pending struct {
	ID    uint64
	Nonce string
	// CreatorID is the trade offer id for trade confirmations and the listing id for market ones.
	CreatorID uint64
	Kind      Kind
	Headline  string
	Summary   []string
	CreatedAt time.Time
}

// OfferID returns the trade offer this confirmation belongs to, if any.
func (p Pending) OfferID() (uint64, bool) {
	if p.Kind != TradeKind || p.CreatorID == 0 {
		return 0, false
	}
	return p.CreatorID, true
}

type Outcome int

const (
	Confirmed Outcome = iota + 1
	// AlreadyConfirmed means an earlier attempt already went through.
	AlreadyConfirmed
)

// Surface is the authenticated confirmation endpoint.
type Surface interface {
	Pending(ctx context.Context) ([]Pending, error)
	Respond(ctx context.Context, confirmation Pending, op Operation) (Outcome, error)
}

// Pair is a confirmation together with the tracked offer it belongs to.
type Pair struct {
	Confirmation Pending
	Offer        offer.TradeOffer
}

// Match pairs pending confirmations with tracked offers that wait on one. Confirmations without such an offer
// are returned separately; they may belong to offers that are not being polled.
func Match(pending []Pending, tracked map[uint64]offer.TradeOffer) (matched []Pair, unmatched []Pending) {
	for _, p := range pending {
		id, ok := p.OfferID()
		if !ok {
			unmatched = append(unmatched, p)
			continue
		}

		o, ok := tracked[id]
		if !ok || !o.NeedsConfirmation() {
			unmatched = append(unmatched, p)
			continue
		}
		matched = append(matched, Pair{Confirmation: p, Offer: o})
	}
	return matched, unmatched
}
