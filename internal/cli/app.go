package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/triad/internal/cache"
	"github.com/roach88/triad/internal/chainlog"
	"github.com/roach88/triad/internal/config"
	"github.com/roach88/triad/internal/ledger"
	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/media"
	"github.com/roach88/triad/internal/monitor"
	"github.com/roach88/triad/internal/opstate"
	"github.com/roach88/triad/internal/saga"
	"github.com/roach88/triad/internal/storage"
)

// App is the wired set of stores, orchestrator and monitor a command runs
// against.
type App struct {
	Config  config.Config
	Chain   *chainlog.Chain
	Cache   storage.CacheStore
	Orch    *saga.Orchestrator
	Monitor *monitor.Monitor

	closers []func() error
}

// Close releases every store in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenFunc builds an App from configuration.
type OpenFunc func(ctx context.Context, cfg config.Config) (*App, error)

// OpenApp opens the development chain, the relational cache, the media
// gateway client and the operation repository described by cfg, then wires
// the orchestrator and the health monitor over them.
func OpenApp(ctx context.Context, cfg config.Config) (app *App, err error) {
	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if err := ensureDir(cfg.Chain.Path); err != nil {
		return nil, err
	}
	chain, err := chainlog.Open(cfg.Chain.Path, chainlog.Options{
		Network:      cfg.Chain.Network,
		ManualMining: cfg.Chain.ManualMining,
	})
	if err != nil {
		return nil, fmt.Errorf("open chain: %w", err)
	}
	app.Chain = chain
	app.closers = append(app.closers, chain.Close)

	ledgerStore, err := ledger.New(chain, ledger.Config{
		Network:       cfg.Chain.Network,
		Contract:      cfg.Chain.Contract,
		MaxCapacity:   cfg.Saga.MaxCapacity,
		Timeout:       cfg.Health.Timeout,
		DegradedAfter: cfg.Health.DegradedAfter,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Driver == cache.DriverSQLite {
		if err := ensureDir(cfg.Cache.DSN); err != nil {
			return nil, err
		}
	}
	cacheStore, err := cache.Open(ctx, cache.Config{
		Driver:        cfg.Cache.Driver,
		DSN:           cfg.Cache.DSN,
		Timeout:       cfg.Health.Timeout,
		DegradedAfter: cfg.Health.DegradedAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	app.Cache = cacheStore
	app.closers = append(app.closers, cacheStore.Close)

	mediaStore, err := media.New(media.Config{
		APIURL:        cfg.Media.APIURL,
		GatewayURL:    cfg.Media.GatewayURL,
		Token:         cfg.Media.Token,
		Timeout:       cfg.Health.Timeout,
		DegradedAfter: cfg.Health.DegradedAfter,
	})
	if err != nil {
		return nil, err
	}

	ops, err := openOps(cfg.Ops)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, ops.Close)

	health := storage.NewHealthCache(cfg.Health.TTL, nil)

	sinks := []monitor.Sink{monitor.LogSink{Log: logging.Component("alerts")}}
	if cfg.Monitor.WebhookURL != "" {
		hook, err := monitor.NewCloudEventSink(cfg.Monitor.WebhookURL, cfg.Monitor.Source, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, hook)
	}
	mon := monitor.New([]storage.Provider{ledgerStore, cacheStore, mediaStore}, monitor.Options{
		SweepInterval: cfg.Monitor.SweepInterval,
		PollInterval:  cfg.Monitor.PollInterval,
		Thresholds: monitor.Thresholds{
			Latency:    cfg.Monitor.LatencyThreshold,
			ErrorRate:  cfg.Monitor.ErrorRate,
			MinSamples: cfg.Monitor.MinSamples,
			Cooldown:   cfg.Monitor.Cooldown,
		},
	}, monitor.WithHealthCache(health), monitor.WithSinks(sinks...))
	app.closers = append(app.closers, func() error { mon.Flush(); return nil })

	options := []saga.Option{saga.WithHealthCache(health), saga.WithObserver(mon)}
	if cfg.Chain.SignerAddress != "" {
		signer, err := ledger.NewLocalSigner(cfg.Chain.SignerAddress, chain)
		if err != nil {
			return nil, err
		}
		options = append(options, saga.WithSigner(signer))
	}

	orch, err := saga.New(ledgerStore, cacheStore, mediaStore, ops, saga.Options{
		Network:        cfg.Chain.Network,
		VerifyAttempts: cfg.Saga.VerifyAttempts,
		VerifyDelay:    cfg.Saga.VerifyDelay,
		OrphanGrace:    cfg.Saga.OrphanGrace,
		PreparedTTL:    cfg.Saga.PreparedTTL,
		MaxCapacity:    cfg.Saga.MaxCapacity,
	}, options...)
	if err != nil {
		return nil, err
	}
	mon.SetSweeper(orch)
	app.Orch = orch
	app.Monitor = mon

	slog.Debug("stores opened",
		"chain", cfg.Chain.Path,
		"cache_driver", cfg.Cache.Driver,
		"ops_backend", cfg.Ops.Backend,
		"media", cfg.Media.APIURL)
	return app, nil
}

func openOps(cfg config.OpsConfig) (opstate.Repository, error) {
	switch cfg.Backend {
	case "etcd":
		repo, err := opstate.OpenEtcd(opstate.EtcdConfig{Endpoints: cfg.EtcdEndpoints, Prefix: cfg.EtcdPrefix})
		if err != nil {
			return nil, fmt.Errorf("open operation store: %w", err)
		}
		return repo, nil
	default:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		repo, err := opstate.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open operation store: %w", err)
		}
		return repo, nil
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
