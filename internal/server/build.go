package server

import (
	"context"
	"fmt"

	"github.com/gabapcia/xcmwatch/internal/chainstream"
	"github.com/gabapcia/xcmwatch/internal/config"
	api "github.com/gabapcia/xcmwatch/internal/handlers/http"
	"github.com/gabapcia/xcmwatch/internal/handlers/ws"
	"github.com/gabapcia/xcmwatch/internal/infra/chain/substrate"
	"github.com/gabapcia/xcmwatch/internal/infra/storage/memory"
	"github.com/gabapcia/xcmwatch/internal/infra/storage/redis"
	"github.com/gabapcia/xcmwatch/internal/matching"
	"github.com/gabapcia/xcmwatch/internal/metrics"
	"github.com/gabapcia/xcmwatch/internal/notifier"
	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
	"github.com/gabapcia/xcmwatch/internal/pkg/telemetry"
	xhttp "github.com/gabapcia/xcmwatch/internal/pkg/transport/http"
	"github.com/gabapcia/xcmwatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"
	"github.com/gabapcia/xcmwatch/internal/switchboard"
	"github.com/gabapcia/xcmwatch/internal/xcm"
)

// Storage persists subscriptions, pending legs and scheduled tasks.
type Storage interface {
	subscription.Storage
	matching.PendingStorage
	scheduler.Storage
}

func openStorage(ctx context.Context, cfg config.Config) (Storage, func(), error) {
	if cfg.Storage != config.StorageRedis {
		return memory.New(), func() {}, nil
	}

	client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Username, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}

	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn(ctx, "unable to close redis client", "error", err)
		}
	}, nil
}

// Gateway serves the blocks and message queues of every configured chain.
type Gateway interface {
	chainstream.Source
	chainstream.Queries
}

func openGateway(ctx context.Context, cfg config.Config) (Gateway, error) {
	httpClient := xhttp.NewStandardClient(xhttp.WithTimeout(cfg.RPCTimeout))

	conns := make(map[string]jsonrpc.Client, len(cfg.Networks))
	for _, n := range cfg.Networks {
		conns[n.ID] = jsonrpc.NewClient(httpClient, n.Provider)
	}

	gw := substrate.New(conns, substrate.WithPollInterval(cfg.RPCPollInterval))
	if err := gw.Verify(ctx); err != nil {
		return nil, err
	}

	return gw, nil
}

// New builds the service described by cfg. Telemetry and the logger are
// initialized first so that every later stage reports through them.
func New(ctx context.Context, cfg config.Config) (_ *service, err error) {
	var releases []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}

		releases = append(releases, func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "telemetry shutdown", "error", err)
			}
		})
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	releases = append(releases, func() { _ = logger.Sync() })

	collector, err := metrics.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage, err)
	}
	releases = append(releases, closeStore)

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open chain gateways: %w", err)
	}

	mux := chainstream.New(gw, cfg.ChainIDs(), chainstream.WithObserver(collector))
	releases = append(releases, mux.Close)

	sched := scheduler.New(
		store,
		scheduler.WithFrequency(cfg.SchedulerFrequency),
		scheduler.WithConcurrency(cfg.SchedulerConcurrency),
	)

	// The engine reports to the switchboard, which is built on the engine.
	var board switchboard.Switchboard
	engine := matching.New(
		store,
		matching.ListenerFunc(func(ctx context.Context, msg xcm.Message) { board.OnMessage(ctx, msg) }),
		matching.WithObserver(collector),
		matching.WithJanitor(sched, cfg.PendingMaxAge),
	)

	hub := notifier.NewHub(map[subscription.ChannelType]notifier.Notifier{
		subscription.ChannelLog: notifier.NewLog(collector),
		subscription.ChannelWebhook: notifier.NewWebhook(
			store,
			sched,
			notifier.WithObserver(collector),
			notifier.WithRetryDelay(cfg.WebhookRetryDelay),
			notifier.WithTimeout(cfg.WebhookTimeout),
		),
	}, notifier.WithHubObserver(collector), notifier.WithQueueSize(cfg.NotifyQueueSize))
	releases = append(releases, hub.Close)

	board = switchboard.New(
		mux,
		gw,
		store,
		engine,
		hub,
		switchboard.WithObserver(collector),
		switchboard.WithMaxPersistent(cfg.MaxPersistent),
		switchboard.WithMaxEphemeral(cfg.MaxEphemeral),
	)

	sockets := ws.New(board, ws.WithObserver(collector), ws.WithMaxClients(cfg.WSMaxClients))
	hub.Register(subscription.ChannelWebsocket, sockets)

	return newService(cfg.HTTPAddr, api.NewRouter(board, sockets), sched, board, sockets, releases), nil
}
