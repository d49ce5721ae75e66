// Command amadeusd is Amadeus's single entry point: no required arguments,
// honors standard termination signals, exit code 0 on clean shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amadeus-host/amadeus/pkg/app"
	"github.com/amadeus-host/amadeus/pkg/config"
	"github.com/amadeus-host/amadeus/pkg/coresystem"
	"github.com/amadeus-host/amadeus/pkg/ipcdispatcher"
)

func main() {
	os.Exit(run())
}

func run() int {
	envCfg, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "amadeusd: %v\n", err)
		return 1
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(envCfg.LogLevel),
	}))

	stopTimeout, err := time.ParseDuration(envCfg.StopTimeout)
	if err != nil {
		stopTimeout = 5 * time.Second
	}

	fileCfg, err := config.LoadFile(os.Getenv("AMADEUS_CONFIG"))
	if err != nil {
		log.Error("failed to load runtime config", "error", err)
		return 1
	}

	application := app.New(app.Options{
		IngressCapacity:  fileCfg.Bus.IngressCapacity,
		StopTimeout:      stopTimeout,
		PluginConfigPath: os.Getenv("AMADEUS_PLUGIN_CONFIG"),
		Log:              log,
	})

	autoRemind := make([]coresystem.AutoRemindRule, 0, len(fileCfg.CoreSystem.AutoRemindRules))
	for _, r := range fileCfg.CoreSystem.AutoRemindRules {
		autoRemind = append(autoRemind, coresystem.AutoRemindRule{Tag: r.Tag, Cron: r.Cron})
	}

	expirationCheckInterval, err := time.ParseDuration(fileCfg.CoreSystem.ExpirationCheckInterval)
	if err != nil {
		expirationCheckInterval = 0 // coresystem.New applies its own default
	}

	core := coresystem.New(coresystem.Config{
		DBPath:                  envCfg.DBPath,
		AutoRemindRules:         autoRemind,
		ExpirationCheckInterval: expirationCheckInterval,
		ExpirationRetentionDays: fileCfg.CoreSystem.ExpirationRetentionDays,
	}, log)
	if err := application.Registry.Register(core); err != nil {
		log.Error("failed to register coresystem plugin", "error", err)
		return 1
	}

	dispatcher := ipcdispatcher.New(ipcdispatcher.Config{
		ShmDir:      envCfg.IPCDir,
		Slots:       fileCfg.IPC.Slots,
		TopicFilter: fileCfg.IPC.TopicFilter,
	}, log)
	if err := application.Registry.Register(dispatcher); err != nil {
		log.Error("failed to register ipcdispatcher plugin", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout+time.Second)
	defer cancel()
	application.Shutdown(shutdownCtx)

	return 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
