package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/offer"
	"github.com/escrow-tf/tradeoffers/polling"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var pollOnce string

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll trade offers and log every state change",
	Long: `Polls the account's trade offers until interrupted, logging each change and confirmation.

With --once the given poll type (auto, new_offers or full_update) runs a single time instead.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().StringVar(&pollOnce, "once", "", "run a single poll of this type and exit")
	RootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.close(shutdownCtx)
	}()

	if pollOnce != "" {
		pollType, err := parsePollType(pollOnce)
		if err != nil {
			return err
		}
		event, err := rt.manager.PollNow(ctx, pollType)
		logEvent(rt.logger, event)
		return err
	}

	if err := rt.manager.Start(ctx); err != nil {
		return err
	}

	events := rt.manager.Events()
	for {
		select {
		case <-ctx.Done():
			rt.logger.Info("stopping")
			return nil
		case event := <-events:
			logEvent(rt.logger, event)
			if endsPolling(event, rt.manager.State()) {
				return event.Err
			}
		}
	}
}

func endsPolling(event polling.Event, state polling.State) bool {
	return api.IsFatal(event.Err) || state == polling.Stopped
}

func parsePollType(s string) (polling.PollType, error) {
	for _, pollType := range []polling.PollType{polling.Auto, polling.NewOffers, polling.FullUpdate} {
		if pollType.String() == s {
			return pollType, nil
		}
	}
	return 0, eris.Errorf("unknown poll type %q, expected auto, new_offers or full_update", s)
}

func logEvent(logger *zap.Logger, event polling.Event) {
	if event.Err != nil {
		logger.Warn("poll failed", zap.Stringer("type", event.Type), zap.Error(event.Err))
		return
	}

	for _, change := range event.Changes {
		fields := []zap.Field{
			zap.Uint64("offer", change.Offer.ID),
			zap.Stringer("partner", change.Offer.Partner),
			zap.Stringer("state", change.Offer.State),
			zap.Int("give", len(change.Offer.ItemsToGive)),
			zap.Int("receive", len(change.Offer.ItemsToReceive)),
		}
		if change.Previous == nil {
			logger.Info("new offer", fields...)
			continue
		}
		logger.Info("offer changed", append(fields, zap.Stringer("previous", *change.Previous))...)
	}

	for _, action := range event.Confirmations {
		if action.Succeeded() {
			logger.Info("confirmation handled",
				zap.Uint64("offer", action.OfferID),
				zap.String("operation", string(action.Operation)),
				zap.Int("attempts", action.Attempts),
			)
		} else {
			logger.Warn("confirmation failed", zap.Uint64("offer", action.OfferID), zap.Error(action.Err))
		}
	}

	for _, pending := range event.Unmatched {
		logger.Debug("unmatched confirmation", zap.Uint64("id", pending.ID), zap.Stringer("kind", pending.Kind))
	}

	logger.Debug("poll finished",
		zap.Stringer("type", event.Type),
		zap.Bool("full_update", event.FullUpdate),
		zap.Int("changes", len(event.Changes)),
		zap.Int("active", countActive(event.Changes)),
	)
}

func countActive(changes []offer.Change) int {
	active := 0
	for _, change := range changes {
		if change.Offer.State == offer.ActiveState {
			active++
		}
	}
	return active
}
