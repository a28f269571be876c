// Package runner is the process bootstrap (spec.md §4.5): given the loaded
// configuration, it connects to the broker, starts the identify queue, and
// spawns one supervisor per owned shard id. It owns the program's
// lifetime; supervisors are independent, so one shard's failure never
// stops the others.
package runner

import (
	"context"
	"sync"

	"github.com/TheRockettek/gateway-sharder/internal/broker"
	"github.com/TheRockettek/gateway-sharder/internal/config"
	"github.com/TheRockettek/gateway-sharder/internal/gatewayshard"
	"github.com/TheRockettek/gateway-sharder/internal/queue"
	"github.com/TheRockettek/gateway-sharder/internal/supervisor"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// intents is the Discord gateway intents bitmask sent on identify. The
// sharder forwards every dispatch payload to the broker regardless of
// type (spec.md §1 Non-goals: no payload interpretation), so it requests
// every intent rather than exposing a configuration surface for something
// it never inspects itself.
const intents = 1<<25 - 1

// Run connects to the broker, starts the identify queue, and spawns a
// supervisor for every shard id in [cfg.ShardStart, cfg.ShardUntil]. It
// blocks until ctx is cancelled, then waits for every supervisor to
// return.
func Run(ctx context.Context, cfg config.Configuration, logger zerolog.Logger) error {
	client, err := broker.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		return xerrors.Errorf("runner: broker dial: %w", err)
	}
	defer client.Close()

	return run(ctx, cfg, client, logger)
}

// run is Run's body, taking an already-connected broker client so it can
// be exercised against a fake in tests without a live broker.
func run(ctx context.Context, cfg config.Configuration, client broker.Client, logger zerolog.Logger) error {
	identifyQueue := queue.New(logger)
	go identifyQueue.Run(ctx)

	producer := broker.NewProducer(ctx, client, logger)

	var wg sync.WaitGroup

	for id := uint32(cfg.ShardStart); id <= uint32(cfg.ShardUntil); id++ {
		shardID := uint16(id)

		factory := func(id uint16) supervisor.Shard {
			return gatewayshard.New(cfg.Token, int(id), int(cfg.ShardTotal), intents, logger)
		}

		bridge := broker.NewBridge(client, shardID, logger)

		sup := supervisor.New(shardID, factory, identifyQueue, producer, bridge, logger)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := sup.Run(ctx); err != nil {
				logger.Error().Err(err).Uint16("shard", shardID).Msg("supervisor terminated")
			}
		}()
	}

	<-ctx.Done()

	wg.Wait()

	return ctx.Err()
}
