package supervisor

import (
	"context"

	"github.com/TheRockettek/gateway-sharder/internal/broker"
	"github.com/TheRockettek/gateway-sharder/internal/frame"
)

// Shard is the narrow collaborator spec.md §6 treats as externally owned.
// internal/gatewayshard is the concrete implementation this module ships;
// the supervisor only ever depends on this interface, so any conforming
// client can be substituted (and a fake substituted in tests).
type Shard interface {
	// Connect establishes the gateway connection and starts delivering to
	// Messages(). It is called exactly once, before the event loop starts.
	Connect(ctx context.Context) error

	// Send writes a frame to the gateway connection.
	Send(ctx context.Context, f frame.Frame) error

	// Decode parses a Binary or Text frame into a gateway event.
	Decode(f frame.Frame) (frame.Event, error)

	// Process drives the shard's own protocol bookkeeping (heartbeat,
	// identify, resume) for an event the supervisor does not interpret
	// itself.
	Process(ctx context.Context, ev frame.Event) error

	// Messages is the shard's stable stream of inbound frames and
	// classified errors.
	Messages() <-chan frame.Result

	// AutoReconnect redials the gateway, reusing stored session state.
	AutoReconnect(ctx context.Context) error

	// SessionID reports the resume session id, or "" if none is held.
	SessionID() string
}

// ShardFactory constructs the Shard handle for a supervisor's shard id.
// Supervisor calls it exactly once, at startup.
type ShardFactory func(shardID uint16) Shard

// IdentifyQueue is the narrow slice of internal/queue.Queue the supervisor
// needs (spec.md §4.1).
type IdentifyQueue interface {
	Up(ctx context.Context, shardID uint16) error
}

// Publisher is the narrow slice of internal/broker.Producer the
// supervisor needs to fire outbound events (spec.md §4.3).
type Publisher interface {
	Publish(ctx context.Context, record []byte)
}

// CommandSource is the narrow slice of internal/broker.Bridge the
// supervisor needs: a blocking run loop that forwards broker commands to
// a FrameSender (spec.md §4.2, folded into the supervisor's own
// cancellation scope per spec.md §9).
type CommandSource interface {
	Run(ctx context.Context, sender broker.FrameSender)
}
