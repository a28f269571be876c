package broker

import (
	"context"
	"time"

	"github.com/TheRockettek/gateway-sharder/internal/frame"
	"github.com/rs/zerolog"
)

// FrameSender is the narrow slice of the Shard handle the bridge needs:
// deliver a broker-sourced payload to the gateway connection.
type FrameSender interface {
	Send(ctx context.Context, f frame.Frame) error
}

// blockIndefinitely is passed to BLPop's timeout to mean "wait forever"
// (spec.md §4.2: "BLPOP with timeout 0 means wait indefinitely").
const blockIndefinitely time.Duration = 0

// Bridge is the per-shard broker consumer (spec.md §4.2): it blocks on
// BLPOP against this shard's command key and forwards whatever it pops
// to the shard as a binary frame, forever, without backoff.
type Bridge struct {
	client  Client
	shardID uint16
	logger  zerolog.Logger
}

// NewBridge constructs a Bridge for one shard.
func NewBridge(client Client, shardID uint16, logger zerolog.Logger) *Bridge {
	return &Bridge{
		client:  client,
		shardID: shardID,
		logger:  logger.With().Str("component", "broker_bridge").Uint16("shard", shardID).Logger(),
	}
}

// Run pops commands for this shard and forwards them until ctx is
// cancelled. Transient broker or delivery errors are logged and retried
// without backoff; Run only returns when ctx is done, mirroring spec.md
// §4.2's "the task never terminates on recoverable error" combined with
// this implementation's choice to fold the bridge into the supervisor's
// own cancellation scope (spec.md §9).
func (b *Bridge) Run(ctx context.Context, sender FrameSender) {
	key := ToKey(b.shardID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reply, err := b.client.BLPop(ctx, blockIndefinitely, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.logger.Warn().Err(err).Msg("blpop failed, retrying")

			continue
		}

		// reply is [key, value]; element 0 is discarded.
		if len(reply) != 2 {
			b.logger.Warn().Int("len", len(reply)).Msg("blpop reply had unexpected element count")

			continue
		}

		payload := []byte(reply[1])

		b.logger.Trace().Int("bytes", len(payload)).Msg("received outbound command")

		if err := sender.Send(ctx, frame.Frame{Type: frame.Binary, Data: payload}); err != nil {
			b.logger.Warn().Err(err).Msg("failed to send command to shard")
		}
	}
}
