// streamprobe connects to the vendor WebSocket and prints decoded frames to
// the console. Useful for verifying credentials and channel coverage without
// a database.
//
// Usage: go run ./cmd/streamprobe --config configs/gatherer.yaml --symbols SPY,QQQ
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/helios-research/flow-data/internal/config"
	"github.com/helios-research/flow-data/internal/model"
	"github.com/helios-research/flow-data/internal/stream"
)

// consoleSink prints every forwarded record instead of persisting it.
type consoleSink struct {
	verbose bool
	count   atomic.Int64
}

func (s *consoleSink) Write(_ context.Context, rec model.Record) (model.WriteResult, error) {
	n := s.count.Add(1)
	if s.verbose {
		fmt.Printf("[%d] %s %s %s %s\n%s\n", n, rec.FetchedAt.Format(time.TimeOnly), rec.Dataset, rec.Scope, rec.Kind, rec.Payload)
	} else {
		fmt.Printf("[%d] %s %s %s (%d bytes)\n", n, rec.FetchedAt.Format(time.TimeOnly), rec.Dataset, rec.Scope, len(rec.Payload))
	}
	return model.WriteResult{Inserted: true}, nil
}

func main() {
	configPath := flag.String("config", "configs/gatherer.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbol override")
	verbose := flag.Bool("verbose", false, "print full frame payloads")
	flag.Parse()

	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	symbols := cfg.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sink := &consoleSink{verbose: *verbose}

	mgr := stream.NewManager(stream.ManagerConfig{
		WSURL:              cfg.Vendor.WSURL,
		APIToken:           cfg.Vendor.APIToken,
		ReconnectBaseDelay: cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Stream.ReconnectMaxDelay,
		HealthyReset:       cfg.Stream.HealthyReset,
		StalenessWindow:    cfg.Stream.StalenessWindow,
		WriteTimeout:       cfg.Stream.WriteTimeout,
		BufferSize:         cfg.Stream.BufferSize,
	}, sink, logger)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}

	channels := stream.ChannelsForSymbols(symbols)
	for _, ch := range channels {
		if err := mgr.Join(ch); err != nil {
			logger.Warn("join failed", "channel", ch, "error", err)
		}
	}
	logger.Info("probing", "channels", len(channels), "symbols", len(symbols))

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	mgr.Stop(stopCtx)

	fmt.Printf("\n%d frames received\n", sink.count.Load())
}
