// Package polling runs the poll loop: it lists an account's offers, diffs them against what it has seen so
// far, resolves item descriptions, drives mobile confirmations and publishes one event per cycle.
package polling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/escrow-tf/tradeoffers/confirmation"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/escrow-tf/tradeoffers/store"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInterval           = 30 * time.Second
	DefaultFullUpdateInterval = 5 * time.Minute
	DefaultEventBuffer        = 16

	// manualPollCooldown is how long a manual poll of one type refuses to run again.
	manualPollCooldown = 400 * time.Millisecond
)

// MinInterval is the shortest poll interval accepted by New.
var MinInterval = time.Second

var (
	ErrNotIdle           = errors.New("polling: driver is not idle")
	ErrStopped           = errors.New("polling: driver stopped after a fatal error")
	ErrCalledTooRecently = errors.New("polling: poll called too recently")
)

type State int32

const (
	Idle State = iota
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type PollType int

const (
	// Auto is a partial poll that becomes a full update once the last one is older than the full update
	// interval.
	Auto PollType = iota
	// NewOffers only lists active offers. It never moves the historical cutoff.
	NewOffers
	// FullUpdate lists every offer, active or historical.
	FullUpdate
)

func (t PollType) String() string {
	switch t {
	case NewOffers:
		return "new_offers"
	case FullUpdate:
		return "full_update"
	default:
		return "auto"
	}
}

// Query describes one listing request. A partial poll sets both fields: active offers plus historical ones
// updated since the cutoff.
type Query struct {
	ActiveOnly bool
	// HistoricalCutoff adds historical offers updated after it. Zero means no cutoff.
	HistoricalCutoff time.Time
}

// Snapshot is one listing of offers. Descriptions holds classinfos steam sent along with them, if any.
type Snapshot struct {
	Offers       []offer.TradeOffer
	Descriptions map[classinfo.Key]*classinfo.ClassInfo
}

type Source interface {
	FetchOffers(ctx context.Context, query Query) (Snapshot, error)
}

type Resolver interface {
	Resolve(ctx context.Context, keys []classinfo.Key) map[classinfo.Key]classinfo.Result
	Insert(infos map[classinfo.Key]*classinfo.ClassInfo) int
}

type Confirmer interface {
	Run(ctx context.Context, tracked map[uint64]offer.TradeOffer) (confirmation.Report, error)
}

type Canceler interface {
	Cancel(ctx context.Context, id uint64) error
}

// Event is published once per poll cycle, including cycles that failed.
type Event struct {
	Type       PollType
	FullUpdate bool
	At         time.Time
	// Changes are ordered by ascending offer id and hold each offer at most once.
	Changes       []offer.Change
	Confirmations []confirmation.Action
	Unmatched     []confirmation.Pending
	// Err is set when the cycle failed. Fatal errors also stop the driver.
	Err error
}

type Options struct {
	SteamID  steamid.SteamID
	Source   Source
	Resolver Resolver
	// Confirmer, Canceler and Store are optional.
	Confirmer Confirmer
	Canceler  Canceler
	Store     store.Store

	Interval           time.Duration
	FullUpdateInterval time.Duration
	// CancelAfter cancels our own pending offers older than it. Zero disables it.
	CancelAfter time.Duration
	EventBuffer int
	Logger      *zap.Logger
}

// Driver owns the retained offer state. It is safe for concurrent use; cycles never overlap.
type Driver struct {
	options Options
	logger  *zap.Logger
	events  chan Event
	now     func() time.Time
	manual  singleflight.Group

	cycleMu  sync.Mutex
	loaded   bool
	retained offer.Retained
	data     PollData

	mu         sync.Mutex
	state      State
	stop       chan struct{}
	done       chan struct{}
	lastManual map[PollType]time.Time
}

func New(options Options) (*Driver, error) {
	if options.Source == nil {
		return nil, eris.New("polling: a source is required")
	}
	if options.Resolver == nil {
		return nil, eris.New("polling: a resolver is required")
	}
	if options.SteamID.IsZero() {
		return nil, eris.New("polling: a steamid is required")
	}
	if options.Interval == 0 {
		options.Interval = DefaultInterval
	}
	if options.Interval < MinInterval {
		return nil, eris.Errorf("polling: interval %s is below the minimum of %s", options.Interval, MinInterval)
	}
	if options.FullUpdateInterval <= 0 {
		options.FullUpdateInterval = DefaultFullUpdateInterval
	}
	if options.CancelAfter < 0 {
		return nil, eris.New("polling: cancel after must not be negative")
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = DefaultEventBuffer
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	return &Driver{
		options:    options,
		logger:     options.Logger.With(zap.Stringer("steamid", options.SteamID)),
		events:     make(chan Event, options.EventBuffer),
		now:        time.Now,
		lastManual: make(map[PollType]time.Time),
	}, nil
}

// Events is the driver's output. The channel is never closed; an event carrying a fatal error is the last
// one a stopped driver publishes.
func (d *Driver) Events() <-chan Event {
	return d.events
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start polls immediately and then every interval until Stop is called, ctx is done or a fatal error occurs.
// ctx is also used for every request the loop makes, so cancelling it aborts an in-flight cycle.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case Stopped:
		return ErrStopped
	case Polling:
		return ErrNotIdle
	}

	d.state = Polling
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(ctx, d.stop, d.done)
	return nil
}

// Stop asks the loop to finish. A cycle already in progress completes and publishes its event first. Stop
// waits for the loop to exit or for ctx to be done. The driver returns to Idle and can be started again.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Polling {
		d.mu.Unlock()
		return nil
	}
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	done := d.done
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			d.finish(Idle)
			return
		case <-ctx.Done():
			d.finish(Idle)
			return
		case <-timer.C:
		}

		event := d.cycle(ctx, Auto)
		if isFatal(event.Err) {
			d.logger.Error("stopping poll loop", zap.Error(event.Err))
			d.finish(Stopped)
			d.publish(ctx, event)
			return
		}
		d.publish(ctx, event)

		timer.Reset(d.options.Interval)
	}
}

func (d *Driver) finish(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Stopped {
		d.state = state
	}
}

// PollNow runs one cycle outside the regular schedule. Concurrent calls for the same type share one cycle. A
// call made within 400ms of the previous cycle of the same type fails with ErrCalledTooRecently. The event is
// returned and also offered to Events, where it is dropped if the buffer is full, so callers that only use
// PollNow need not drain Events.
func (d *Driver) PollNow(ctx context.Context, pollType PollType) (Event, error) {
	if d.State() == Stopped {
		return Event{}, ErrStopped
	}

	result, err, _ := d.manual.Do(pollType.String(), func() (any, error) {
		d.mu.Lock()
		now := d.now()
		if last, ok := d.lastManual[pollType]; ok && now.Sub(last) < manualPollCooldown {
			d.mu.Unlock()
			return Event{}, ErrCalledTooRecently
		}
		d.lastManual[pollType] = now
		d.mu.Unlock()

		event := d.cycle(ctx, pollType)
		if isFatal(event.Err) {
			d.finish(Stopped)
		}
		d.offer(event)
		return event, event.Err
	})

	event, _ := result.(Event)
	return event, err
}

// Retained returns a copy of the offers the driver currently tracks.
func (d *Driver) Retained() offer.Retained {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	retained := offer.Retained{
		Offers:  make(map[uint64]offer.TradeOffer, len(d.retained.Offers)),
		Settled: make(map[uint64]offer.State, len(d.retained.Settled)),
	}
	for id, o := range d.retained.Offers {
		retained.Offers[id] = o
	}
	for id, state := range d.retained.Settled {
		retained.Settled[id] = state
	}
	return retained
}

func (d *Driver) publish(ctx context.Context, event Event) {
	select {
	case d.events <- event:
	case <-ctx.Done():
		d.logger.Debug("dropping poll event", zap.Error(ctx.Err()))
	}
}

// offer publishes without blocking. The caller already holds the event.
func (d *Driver) offer(event Event) {
	select {
	case d.events <- event:
	default:
		d.logger.Debug("event buffer full, dropping manual poll event", zap.Stringer("type", event.Type))
	}
}
