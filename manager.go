// Package tradeoffers tracks the trade offers of one steam account. A Manager polls the account's offers,
// reports every state change as an event, resolves item descriptions through a bounded cache and drives mobile
// confirmations for the offers it tracks.
package tradeoffers

import (
	"context"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/api/community"
	"github.com/escrow-tf/tradeoffers/api/econ"
	"github.com/escrow-tf/tradeoffers/api/mobileconf"
	"github.com/escrow-tf/tradeoffers/api/tradeoffer"
	"github.com/escrow-tf/tradeoffers/api/twofactor"
	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/confirmation"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/polling"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/store"
	"github.com/escrow-tf/tradeoffers/totp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type CacheOptions struct {
	Capacity     int
	WriteWorkers int
	WriteQueue   int
}

type PollOptions struct {
	Interval           time.Duration
	FullUpdateInterval time.Duration
	CancelAfter        time.Duration
	// AutoConfirm drives the mobile confirmations of tracked offers on every poll.
	AutoConfirm bool
	Retry       confirmation.RetryPolicy
	// Decider picks the operation for each matched confirmation. Defaults to confirmation.AllowAll.
	Decider confirmation.Decider
}

type Options struct {
	Transport api.Transport
	Session   *Session
	// Secrets enables confirmations. Without them Confirmations fails and AutoConfirm is ignored.
	Secrets  *totp.State
	Store    store.Store
	Language string
	Cache    CacheOptions
	Poll     PollOptions
	Logger   *zap.Logger
}

type Manager struct {
	session   *Session
	secrets   *totp.State
	logger    *zap.Logger
	cache     *classinfo.Cache
	offers    *tradeoffer.Client
	inventory *community.InventoryLoader
	clock     *twofactor.Client
	surface   confirmation.Surface
	matcher   *confirmation.Matcher
	driver    *polling.Driver
}

func New(options Options) (*Manager, error) {
	if options.Transport == nil {
		return nil, eris.New("tradeoffers: a transport is required")
	}
	if options.Session == nil {
		return nil, eris.New("tradeoffers: a session is required")
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	econClient := econ.NewClient(options.Transport, options.Language)
	cache, err := classinfo.New(classinfo.Options{
		Capacity:     options.Cache.Capacity,
		Fetcher:      econ.ClassInfoFetcher{Api: econClient},
		Store:        options.Store,
		WriteWorkers: options.Cache.WriteWorkers,
		WriteQueue:   options.Cache.WriteQueue,
		Logger:       options.Logger.Named("classinfo"),
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		session: options.Session,
		secrets: options.Secrets,
		logger:  options.Logger,
		cache:   cache,
		offers:  tradeoffer.NewClient(options.Transport, options.Session.SessionId),
		inventory: &community.InventoryLoader{
			Api:      community.NewClient(options.Transport),
			Resolver: cache,
			Language: options.Language,
		},
		clock: twofactor.NewClient(options.Transport),
	}

	var confirmer polling.Confirmer
	if options.Secrets != nil {
		m.surface = mobileconf.Surface{Api: mobileconf.NewClient(options.Transport, options.Secrets, options.Session.SteamId())}
		m.matcher = confirmation.NewMatcher(confirmation.MatcherOptions{
			Surface: m.surface,
			Retry:   options.Poll.Retry,
			Decider: options.Poll.Decider,
			Logger:  options.Logger.Named("confirmation"),
		})
		if options.Poll.AutoConfirm {
			confirmer = m.matcher
		}
	}

	driver, err := polling.New(polling.Options{
		SteamID:            options.Session.SteamId(),
		Source:             sessionSource{session: options.Session, source: econ.OfferSource{Api: econClient}},
		Resolver:           cache,
		Confirmer:          confirmer,
		Canceler:           m.offers,
		Store:              options.Store,
		Interval:           options.Poll.Interval,
		FullUpdateInterval: options.Poll.FullUpdateInterval,
		CancelAfter:        options.Poll.CancelAfter,
		Logger:             options.Logger.Named("polling"),
	})
	if err != nil {
		_ = cache.Close(context.Background())
		return nil, err
	}
	m.driver = driver

	return m, nil
}

// sessionSource refreshes the session's access token before each listing.
type sessionSource struct {
	session *Session
	source  polling.Source
}

func (s sessionSource) FetchOffers(ctx context.Context, query polling.Query) (polling.Snapshot, error) {
	if err := s.session.EnsureFresh(ctx); err != nil {
		return polling.Snapshot{}, err
	}
	return s.source.FetchOffers(ctx, query)
}

func (m *Manager) SteamId() steamid.SteamID {
	return m.session.SteamId()
}

// Start aligns the confirmation clock with steam, then starts polling.
func (m *Manager) Start(ctx context.Context) error {
	if m.secrets != nil {
		offset, err := m.clock.AlignTime(ctx, m.secrets)
		if err != nil {
			if api.IsFatal(err) {
				return err
			}
			m.logger.Warn("could not align time with steam, using the local clock", zap.Error(err))
		} else {
			m.logger.Debug("aligned time with steam", zap.Duration("offset", offset))
		}
	}
	return m.driver.Start(ctx)
}

func (m *Manager) Stop(ctx context.Context) error {
	return m.driver.Stop(ctx)
}

func (m *Manager) State() polling.State {
	return m.driver.State()
}

func (m *Manager) Events() <-chan polling.Event {
	return m.driver.Events()
}

// PollNow runs one poll right away and returns its event. The event is also offered to Events without blocking,
// so callers that only poll manually do not have to drain Events.
func (m *Manager) PollNow(ctx context.Context, pollType polling.PollType) (polling.Event, error) {
	return m.driver.PollNow(ctx, pollType)
}

// Offers returns the offers tracked so far.
func (m *Manager) Offers() offer.Retained {
	return m.driver.Retained()
}

func (m *Manager) Resolve(ctx context.Context, keys []classinfo.Key) map[classinfo.Key]classinfo.Result {
	return m.cache.Resolve(ctx, keys)
}

// GetInventory loads an inventory with descriptions attached from the classinfo cache.
func (m *Manager) GetInventory(
	ctx context.Context,
	owner steamid.SteamID,
	appID uint32,
	contextID uint64,
	tradableOnly bool,
) ([]offer.Asset, error) {
	return m.inventory.Load(ctx, owner, appID, contextID, tradableOnly)
}

// Confirmations lists the pending mobile confirmations of the account.
func (m *Manager) Confirmations(ctx context.Context) ([]confirmation.Pending, error) {
	if m.surface == nil {
		return nil, eris.New("tradeoffers: confirmations need the account's identity secret")
	}
	return m.surface.Pending(ctx)
}

// Confirm matches the pending confirmations against the tracked offers and drives them, regardless of
// AutoConfirm.
func (m *Manager) Confirm(ctx context.Context) (confirmation.Report, error) {
	if m.matcher == nil {
		return confirmation.Report{}, eris.New("tradeoffers: confirmations need the account's identity secret")
	}
	return m.matcher.Run(ctx, m.driver.Retained().Offers)
}

func (m *Manager) Accept(ctx context.Context, o offer.TradeOffer) (*tradeoffer.AcceptResponse, error) {
	return m.offers.Accept(ctx, o.ID, o.Partner)
}

// Send offers give in exchange for receive. token is the partner's trade token, empty for friends. The new
// offer shows up in the next poll, in NeedsConfirmation when steam asks for a mobile confirmation.
func (m *Manager) Send(
	ctx context.Context,
	partner steamid.SteamID,
	token string,
	give, receive []offer.Asset,
	message string,
) (*tradeoffer.CreateResponse, error) {
	return m.offers.Create(ctx, partner, token, tradeItems(give), tradeItems(receive), message)
}

func tradeItems(assets []offer.Asset) []tradeoffer.Item {
	items := make([]tradeoffer.Item, 0, len(assets))
	for _, asset := range assets {
		items = append(items, tradeoffer.NewItem(asset.AppID, asset.ContextID, asset.AssetID, asset.Amount))
	}
	return items
}

func (m *Manager) Decline(ctx context.Context, id uint64) error {
	return m.offers.Decline(ctx, id)
}

func (m *Manager) Cancel(ctx context.Context, id uint64) error {
	return m.offers.Cancel(ctx, id)
}

// Close stops polling and flushes pending classinfo writes.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.driver.Stop(ctx); err != nil {
		return err
	}
	return m.cache.Close(ctx)
}
