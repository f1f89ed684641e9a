package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ddvpn/webhook-relay/internal/config"
	"github.com/ddvpn/webhook-relay/internal/log"
	"github.com/ddvpn/webhook-relay/internal/relay"
	"github.com/ddvpn/webhook-relay/internal/telegram"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("webhook-relay", flag.ExitOnError)
	eventsPath := fs.String("events", "", "Path to events allow-list (overrides EVENTS_CONFIG)")
	showVersion := fs.Bool("version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("webhook-relay version %s\n", version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *eventsPath != "" {
		cfg.EventsConfig = *eventsPath
	}

	log.Setup(cfg.LogLevel, cfg.LogFile)
	logger := log.WithComponent("main")
	logger.Info("webhook relay starting",
		"version", version,
		"domain", cfg.Domain,
		"port", cfg.BotInternalPort,
	)

	allowList, err := config.LoadAllowList(cfg.EventsConfig)
	if err != nil {
		logger.Error("failed to load event allow-list", "path", cfg.EventsConfig, "error", err)
		return 1
	}
	logger.Info("event allow-list loaded", "path", cfg.EventsConfig, "events", len(allowList))

	// Fingerprints identify which configuration a running relay was built
	// from without reproducing the contents in the log.
	if hash, err := config.HashFile(cfg.EventsConfig); err == nil {
		logger.Info("config fingerprint", "file", cfg.EventsConfig, "blake3", hash)
	}
	if sources, err := relay.TemplateSources(); err == nil {
		for name, data := range sources {
			logger.Info("template fingerprint", "template", name, "blake3", config.HashBytes(data))
		}
	}

	renderer, err := relay.NewRenderer()
	if err != nil {
		logger.Error("failed to parse templates", "error", err)
		return 1
	}

	sink := telegram.New(cfg.TelegramBotToken)
	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)

	server := relay.New(relay.Config{
		Listen:           fmt.Sprintf("0.0.0.0:%d", cfg.BotInternalPort),
		ChatID:           cfg.TelegramChatID,
		RemnawaveSecret:  cfg.RemnawaveWebhookSecret,
		AlertSecret:      cfg.AlertWebhookSecret,
		RemnawaveEnabled: cfg.RemnawaveEnabled,
		AllowedEvents:    allowList,
	}, sink, renderer, metrics, log.WithComponent("relay"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay server error", "error", err)
		return 1
	}

	logger.Info("webhook relay stopped")
	return 0
}
