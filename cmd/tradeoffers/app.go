package main

import (
	"context"
	"io"

	"github.com/escrow-tf/tradeoffers"
	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/config"
	"github.com/escrow-tf/tradeoffers/confirmation"
	"github.com/escrow-tf/tradeoffers/logging"
	"github.com/escrow-tf/tradeoffers/store"
	"github.com/escrow-tf/tradeoffers/store/filestore"
	"github.com/escrow-tf/tradeoffers/store/redisstore"
	"github.com/escrow-tf/tradeoffers/store/sqlitestore"
	"github.com/escrow-tf/tradeoffers/totp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// app is everything a command needs, built from the configuration.
type app struct {
	config  *config.Config
	logger  *zap.Logger
	manager *tradeoffers.Manager
	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, eris.Wrap(err, "initializing logger")
	}

	rt := &app{config: cfg, logger: logger}

	blobs, responseCache, err := rt.openStore(ctx)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	transport := api.NewTransport(api.HttpTransportOptions{
		WebApiKey:     cfg.Steam.WebApiKey,
		ResponseCache: responseCache,
		RetryMax:      cfg.Steam.RetryMax,
		Logger:        logger.Named("transport"),
	})

	session, err := tradeoffers.NewSession(ctx, transport, tradeoffers.SessionOptions{
		AccessToken:  cfg.Steam.AccessToken,
		RefreshToken: cfg.Steam.RefreshToken,
		SessionID:    cfg.Steam.SessionID,
		Logger:       logger.Named("session"),
	})
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	var secrets *totp.State
	if cfg.Steam.IdentitySecret != "" {
		secrets, err = totp.NewState(cfg.Steam.SharedSecret, cfg.Steam.IdentitySecret)
		if err != nil {
			rt.close(ctx)
			return nil, err
		}
	}

	rt.manager, err = tradeoffers.New(tradeoffers.Options{
		Transport: transport,
		Session:   session,
		Secrets:   secrets,
		Store:     blobs,
		Language:  cfg.Steam.Language,
		Cache: tradeoffers.CacheOptions{
			Capacity:     cfg.Cache.Capacity,
			WriteWorkers: cfg.Cache.WriteWorkers,
			WriteQueue:   cfg.Cache.WriteQueue,
		},
		Poll: tradeoffers.PollOptions{
			Interval:           cfg.Poll.Interval,
			FullUpdateInterval: cfg.Poll.FullUpdateInterval,
			CancelAfter:        cfg.Poll.CancelAfter,
			AutoConfirm:        cfg.Poll.AutoConfirm,
			Retry: confirmation.RetryPolicy{
				Attempts:   cfg.Poll.ConfirmAttempts,
				MinBackoff: cfg.Poll.ConfirmMinBackoff,
				MaxBackoff: cfg.Poll.ConfirmMaxBackoff,
			},
		},
		Logger: logger,
	})
	if err != nil {
		rt.close(ctx)
		return nil, err
	}

	logger.Info("tradeoffers ready",
		zap.Stringer("steamid", session.SteamId()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("confirmations", secrets != nil),
	)
	return rt, nil
}

func (rt *app) openStore(ctx context.Context) (store.Store, api.CacheAdaptor, error) {
	cfg := rt.config.Store
	switch cfg.Driver {
	case config.SqliteDriver:
		s, err := sqlitestore.Open(cfg.SqlitePath)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, s)
		return s, nil, nil
	case config.RedisDriver:
		s, err := redisstore.New(ctx, redisstore.ClientConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLSEnabled: cfg.RedisTLS,
			Prefix:     cfg.RedisPrefix,
			TTL:        cfg.RedisTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, s)
		if cfg.ResponseCache {
			return s, s.ResponseCache(), nil
		}
		return s, nil, nil
	default:
		s, err := filestore.New(filestore.Options{Dir: cfg.Dir, Compress: cfg.Compress})
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, s)
		return s, nil, nil
	}
}

// close flushes the cache and releases the store. It is safe to call on a partially built app.
func (rt *app) close(ctx context.Context) {
	if rt.manager != nil {
		if err := rt.manager.Close(ctx); err != nil {
			rt.logger.Warn("error closing manager", zap.Error(err))
		}
	}
	for _, closer := range rt.closers {
		if err := closer.Close(); err != nil {
			rt.logger.Warn("error closing store", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}
