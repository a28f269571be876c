// Command sharder is the gateway sharder process (spec.md §4.5):
// identify queue plus one supervisor per owned shard id, bridging the
// Discord gateway to a Redis-like broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheRockettek/gateway-sharder/internal/config"
	"github.com/TheRockettek/gateway-sharder/internal/runner"
	"github.com/rs/zerolog"
)

func main() {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Uint16("shard_start", cfg.ShardStart).
		Uint16("shard_until", cfg.ShardUntil).
		Uint64("shard_total", cfg.ShardTotal).
		Msg("starting gateway sharder")

	if err := runner.Run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("runner exited with error")
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	return zerolog.New(writer).With().Timestamp().Logger()
}
