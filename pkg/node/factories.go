package node

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/chainbridge/pkg/backend"
	"github.com/fortiblox/chainbridge/pkg/bitcoind"
	"github.com/fortiblox/chainbridge/pkg/blockcache"
	"github.com/fortiblox/chainbridge/pkg/config"
	"github.com/fortiblox/chainbridge/pkg/esplora"
	"github.com/fortiblox/chainbridge/pkg/lightclient"
	"github.com/fortiblox/chainbridge/pkg/registry"
)

// Factories returns the factory of every backend kind, each behind the
// block cache.
func Factories() map[backend.Kind]registry.Factory {
	return map[backend.Kind]registry.Factory{
		backend.LightClient: withCache(newLightClient),
		backend.Explorer:    withCache(newExplorer),
		backend.FullNode:    withCache(newFullNode),
	}
}

func newExplorer(_ context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error) {
	return esplora.New(esplora.Config{
		Network:    cfg.Network,
		URLs:       cfg.Esplora.URLs,
		Proxy:      cfg.Proxy,
		Timeout:    cfg.Esplora.Timeout,
		FeePolicy:  cfg.FeePolicy(),
		MaxFeeRate: cfg.Fees.MaxFeeRate,
	}, log)
}

func newFullNode(_ context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error) {
	return bitcoind.New(bitcoind.Config{
		Host:       cfg.Bitcoind.Host,
		User:       cfg.Bitcoind.User,
		Password:   cfg.Bitcoind.Password,
		Timeout:    cfg.Bitcoind.Timeout,
		FeePolicy:  cfg.FeePolicy(),
		MaxFeeRate: cfg.Fees.MaxFeeRate,
	}, log)
}

func newLightClient(_ context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error) {
	return lightclient.New(lightclient.Config{
		Network: cfg.Network,
		DataDir: cfg.DataDir,
		Peers:   cfg.LightClient.Peers,
		Proxy:   cfg.Proxy,
	}, log)
}

// withCache opens the configured block cache and wraps the backend built
// by f. The cache is skipped when disabled or when there is no data
// directory to put it in.
func withCache(f registry.Factory) registry.Factory {
	return func(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error) {
		b, err := f(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.Cache.Engine == config.CacheNone {
			return b, nil
		}
		if cfg.DataDir == "" {
			log.Warn("no data directory, block cache disabled")
			return b, nil
		}

		dir := filepath.Join(cfg.DataDir, "blockcache", cfg.Network)
		store, err := blockcache.Open(cfg.Cache.Engine, dir)
		if err != nil {
			// A broken cache must not keep lightningd from starting.
			log.WithError(err).Warn("block cache unavailable")
			return b, nil
		}
		log.WithFields(logrus.Fields{"engine": cfg.Cache.Engine, "dir": dir}).Info("block cache opened")
		return blockcache.Wrap(b, store, cfg.Cache.Confirmations, log), nil
	}
}
