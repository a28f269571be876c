package broker

import (
	"context"

	"github.com/rs/zerolog"
)

// outboxSize bounds the number of records queued ahead of the draining
// goroutine. It only needs to absorb a momentary burst of gateway
// dispatches between RPUSH round trips, not a sustained backlog.
const outboxSize = 256

// Producer is the shared fire-and-forget publisher (spec.md §4.3): one
// RPUSH per inbound gateway frame. Publish itself never blocks on the
// broker, but every record is drained by a single goroutine in the order
// it was submitted, so publications to sharder:from preserve shard-local
// order (spec.md §5, §8.3) even across concurrent callers.
type Producer struct {
	client Client
	logger zerolog.Logger
	outbox chan []byte
}

// NewProducer wraps client for publication to the shared sharder:from
// list and starts its draining goroutine. The caller is responsible for
// cancelling ctx to stop it.
func NewProducer(ctx context.Context, client Client, logger zerolog.Logger) *Producer {
	p := &Producer{
		client: client,
		logger: logger.With().Str("component", "broker_producer").Logger(),
		outbox: make(chan []byte, outboxSize),
	}

	go p.run(ctx)

	return p
}

// Publish enqueues record for publication to sharder:from without
// waiting for the result; the caller's event loop must not block on
// broker backpressure (spec.md §4.3, §4.4 step 3e "Fire RPUSH ...
// without awaiting"). If the outbox is full, record is dropped and
// logged rather than blocking the caller or reordering what's queued.
func (p *Producer) Publish(ctx context.Context, record []byte) {
	select {
	case p.outbox <- record:
	default:
		p.logger.Warn().Int("bytes", len(record)).Msg("outbox full, dropping record")
	}
}

// run drains the outbox in order, one RPUSH at a time, until ctx is
// cancelled.
func (p *Producer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-p.outbox:
			if err := p.client.RPush(ctx, FromKey, record); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish event")
			}
		}
	}
}
