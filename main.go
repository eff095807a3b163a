package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/reflexhq/reflex/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reflexCfg := service.ReflexConfig{
		Symbols:             cfg.Symbols,
		FeedURL:             cfg.FeedURL,
		FeedAPIKey:          cfg.FeedAPIKey,
		ModelManifest:       cfg.ModelManifest,
		DiagnosticsFilepath: cfg.DiagnosticsFilepath,
		DBEndpoint:          cfg.DBEndpoint,
		DBUser:              cfg.DBUser,
		DBPass:              cfg.DBPass,
		RedisAddr:           cfg.RedisAddr,
		RedisPass:           cfg.RedisPass,
		MetricsAddr:         cfg.MetricsAddr,
		Replay:              cfg.Replay,
		ReplayFilepath:      cfg.ReplayFilepath,
		Cancel:              cancel,
	}
	reflex, err := service.NewReflex(ctx, &reflexCfg)
	if err != nil {
		log.Printf("creating reflex service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	reflex.Run(ctx)
}
