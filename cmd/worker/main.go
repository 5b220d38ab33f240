// Command worker is the long-running execution control plane process: it
// loads configuration, opens the persistent store and outbox, constructs the
// configured Exchange Adapter, runs the Startup Reconciler once, and then
// drives the Worker Loop until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"spotexec/internal/config"
	"spotexec/internal/controller"
	"spotexec/internal/decision"
	"spotexec/internal/exchange"
	"spotexec/internal/exchange/binance"
	"spotexec/internal/exchange/demo"
	"spotexec/internal/killswitch"
	"spotexec/internal/logging"
	"spotexec/internal/outbox"
	"spotexec/internal/reconcile"
	"spotexec/internal/store"
	"spotexec/internal/worker"
)

func main() {
	yamlOverlay := flag.String("config", "", "Path to an optional YAML configuration overlay")
	flag.Parse()

	cfg, err := config.Load(*yamlOverlay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("opening store", zap.Error(err))
	}
	defer st.Close()

	ob := outbox.New(cfg.SignalOutboxPath)
	if err := ob.EnsureExists(); err != nil {
		log.Fatal("initializing outbox", zap.Error(err))
	}

	kill := killswitch.New(st)

	adapter := buildAdapter(cfg, kill)

	ctrl := controller.New(st, kill, adapter, cfg, log)
	startupReconciler := reconcile.NewStartup(st, kill, adapter, log)
	ocoReconciler := reconcile.NewOCO(st, adapter, log)

	loop := worker.New(worker.Config{
		Store:      st,
		Kill:       kill,
		Outbox:     ob,
		Controller: ctrl,
		Startup:    startupReconciler,
		OCO:        ocoReconciler,
		Decision:   decision.Noop{},
		Log:        log,
		Sleep:      time.Duration(cfg.LoopSleepSeconds * float64(time.Second)),
	})

	if err := loop.Bootstrap(); err != nil {
		log.Warn("bootstrap self-heal failed, continuing to startup reconciliation", zap.Error(err))
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := loop.RunStartup(bootCtx); err != nil {
		log.Error("startup reconciliation reported a failure, continuing in whatever state it settled on", zap.Error(err))
	}
	bootCancel()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping worker loop")
		cancel()
	}()

	sleepDuration := time.Duration(cfg.LoopSleepSeconds * float64(time.Second))
	log.Info("worker loop starting", zap.String("mode", string(cfg.Mode)), zap.Duration("sleep", sleepDuration))
	loop.Run(ctx)
	log.Info("worker loop stopped")
}

func buildAdapter(cfg *config.Config, kill *killswitch.Oracle) exchange.Adapter {
	switch cfg.Mode {
	case config.ModeLive, config.ModeTestnet:
		return binance.New(binance.Config{
			APIKey:           cfg.APIKey,
			APISecret:        cfg.APISecret,
			Testnet:          cfg.Mode == config.ModeTestnet,
			KillSwitch:       kill,
			LiveConfirmation: cfg.LiveConfirmation,
			Whitelist:        cfg.SymbolWhitelist,
			MaxQuotePerTrade: cfg.MaxQuotePerTrade,
		})
	default:
		return demo.New(nil, nil, nil)
	}
}
