package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"NFTMarket-Harness/internal/api"
	"NFTMarket-Harness/internal/bootstrap"
	"NFTMarket-Harness/internal/config"
	"NFTMarket-Harness/internal/observability/metrics"
	"NFTMarket-Harness/internal/run"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/pkg/logger"
)

// marketd queues scenario runs submitted over HTTP and executes them.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("marketd: %v", err)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.LoadOrDefault("")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	l := logger.Named("marketd")

	network, err := bootstrap.OpenNetwork(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer network.Close()

	execOpts, err := network.ExecutorOptions(cfg.Web3)
	if err != nil {
		return err
	}
	executor := scenario.NewExecutor(network.Registry, execOpts...)

	store, err := bootstrap.OpenRunStore(ctx, cfg.Storage.RunStore)
	if err != nil {
		return err
	}
	queue, err := bootstrap.OpenRunQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	service := run.NewService(store, queue, network.Registry, cfg.Storage.RunStore.Retries)
	defer func() {
		if err := service.Close(); err != nil {
			l.Warn("close run service", slog.Any("error", err))
		}
	}()

	processor := run.NewProcessor(executor, store, queue, queue,
		run.WithWorkerCount(cfg.Queue.Workers),
		run.WithRunTimeout(cfg.Runtime.RunTimeoutDuration()),
		run.WithAlertDispatcher(bootstrap.Alerts(cfg.Alerting)),
	)
	bootstrap.Log(l, cfg, network)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("run processor stopped", slog.Any("error", err))
		}
	}()
	if n, err := processor.Resume(ctx); err != nil {
		l.Warn("resume runs", slog.Any("error", err))
	} else if n > 0 {
		l.Info("runs resumed", slog.Int("count", n))
	}

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, service, network.Registry,
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()))
	return server.Start(ctx)
}
