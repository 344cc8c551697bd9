package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/planthealth/swcache/internal/cache"
	"github.com/planthealth/swcache/internal/config"
	"github.com/planthealth/swcache/internal/host"
	"github.com/planthealth/swcache/internal/network"
	"github.com/planthealth/swcache/internal/worker"
)

// app wires the host surfaces together for one configuration.
type app struct {
	cfg     config.Config
	storage *cache.Storage
	network *network.Client
	runtime *host.Runtime
	logger  *log.Logger
}

func newApp(cfg config.Config) (*app, error) {
	logger := log.Default()

	storage, err := openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := network.New(network.Config{
		Origin:            cfg.Origin,
		Timeout:           cfg.Network.Timeout,
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		Burst:             cfg.Network.Burst,
		UserAgent:         cfg.Network.UserAgent,
		Logger:            logger.WithPrefix("network"),
	})
	if err != nil {
		return nil, errors.Join(err, storage.Close())
	}

	rt := host.NewRuntime(host.Config{
		Network:        client,
		InstallTimeout: cfg.Install.Timeout,
		Retries:        cfg.Install.Retries,
		RetryDelay:     cfg.Install.RetryDelay,
		Logger:         logger.WithPrefix("runtime"),
	})

	return &app{
		cfg:     cfg,
		storage: storage,
		network: client,
		runtime: rt,
		logger:  logger,
	}, nil
}

func openStorage(cfg config.Config, logger *log.Logger) (*cache.Storage, error) {
	opener, err := cache.NewOpener(cfg.BackendConfig())
	if err != nil {
		return nil, fmt.Errorf("unable to open cache storage: %w", err)
	}
	storage, err := cache.NewStorage(opener, logger.WithPrefix("cache"))
	if err != nil {
		_ = opener.Close()
		return nil, fmt.Errorf("unable to load caches: %w", err)
	}
	return storage, nil
}

// newWorker builds a worker from the worker settings in cfg. The origin and
// storage stay those the app was created with.
func (a *app) newWorker(cfg config.Config) (*worker.Worker, error) {
	return worker.New(worker.Config{
		Scope:     a.network.Origin(),
		CacheName: cfg.CacheName,
		Assets:    cfg.Assets,
	}, a.storage, a.network)
}

func (a *app) Close() error {
	return a.storage.Close()
}
