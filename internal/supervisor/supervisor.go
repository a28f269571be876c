// Package supervisor owns one shard's lifecycle end to end: queue for an
// identify slot, connect, pump inbound frames to the broker, fold in the
// broker-sourced command stream, and classify failures into resume or
// re-queue decisions (spec.md §4.4).
package supervisor

import (
	"context"

	"github.com/TheRockettek/gateway-sharder/internal/broker"
	"github.com/TheRockettek/gateway-sharder/internal/frame"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Supervisor drives exactly one shard id for the process's lifetime.
type Supervisor struct {
	shardID uint16

	factory   ShardFactory
	queue     IdentifyQueue
	publisher Publisher
	commands  CommandSource

	logger zerolog.Logger
}

// New constructs a Supervisor for shardID. commands is the per-shard
// broker bridge (spec.md §4.2); it is spawned as a context-scoped
// goroutine alongside the event loop rather than a fully detached sibling
// task (spec.md §9).
func New(
	shardID uint16,
	factory ShardFactory,
	queue IdentifyQueue,
	publisher Publisher,
	commands CommandSource,
	logger zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		shardID:   shardID,
		factory:   factory,
		queue:     queue,
		publisher: publisher,
		commands:  commands,
		logger:    logger.With().Str("component", "supervisor").Uint16("shard", shardID).Logger(),
	}
}

// Run executes the full lifecycle (spec.md §4.4's state diagram) until ctx
// is cancelled or an unrecoverable error occurs. It returns nil only on
// clean cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.queue.Up(ctx, s.shardID); err != nil {
		return xerrors.Errorf("supervisor: initial queue up: %w", err)
	}

	shard := s.factory(s.shardID)

	if err := shard.Connect(ctx); err != nil {
		return xerrors.Errorf("supervisor: initial connect: %w", err)
	}

	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()

	go s.commands.Run(bridgeCtx, shard)

	for {
		err := s.eventLoop(ctx, shard)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		act := classify(err)

		s.logger.Warn().Err(err).Msg("shard event loop exited")

		if act == actionContinue {
			continue
		}

		if err := s.handleSessionLoss(ctx, shard); err != nil {
			return err
		}
	}
}

// handleSessionLoss implements spec.md §4.4's session-loss branch.
func (s *Supervisor) handleSessionLoss(ctx context.Context, shard Shard) error {
	if sessionID := shard.SessionID(); sessionID != "" {
		s.logger.Info().Msg("resuming existing session")

		if err := shard.AutoReconnect(ctx); err != nil {
			s.logger.Error().Err(err).Msg("resume attempt failed, retrying on next loop iteration")
		}

		return nil
	}

	s.logger.Info().Msg("session lost, re-queueing for a fresh identify")

	if err := s.queue.Up(ctx, s.shardID); err != nil {
		return xerrors.Errorf("supervisor: requeue: %w", err)
	}

	if err := shard.AutoReconnect(ctx); err != nil {
		return xerrors.Errorf("supervisor: reconnect: %w", err)
	}

	return nil
}

// eventLoop runs spec.md §4.4's per-iteration steps until Messages()
// yields an error or the stream ends; it returns nil only if ctx is
// cancelled mid-loop.
func (s *Supervisor) eventLoop(ctx context.Context, shard Shard) error {
	messages := shard.Messages()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-messages:
			if !ok {
				return frame.ErrNoMessage
			}

			if res.Err != nil {
				return res.Err
			}

			if err := s.handleFrame(ctx, shard, res.Frame); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) handleFrame(ctx context.Context, shard Shard, f frame.Frame) error {
	switch f.Type {
	case frame.Ping, frame.Pong:
		return nil
	case frame.Binary, frame.Text:
		ev, err := shard.Decode(f)
		if err != nil {
			return err
		}

		if err := shard.Process(ctx, ev); err != nil {
			return err
		}

		record := broker.Encode(f.Payload(), s.shardID)
		s.publisher.Publish(ctx, record)

		return nil
	case frame.Close:
		return &frame.ErrConnectionClosed{Code: f.Code, Reason: f.Reason}
	default:
		return nil
	}
}
