package supervisor

import (
	"errors"

	"github.com/TheRockettek/gateway-sharder/internal/frame"
)

// action is the supervisor's response to a classified event-loop error
// (spec.md §4.4's classification table).
type action int

const (
	// actionContinue re-enters the event loop on the existing connection;
	// nothing about the connection changed.
	actionContinue action = iota
	// actionSessionLoss hands off to the session-loss branch (resume or
	// fresh re-queue, depending on SessionID()).
	actionSessionLoss
)

// classify implements spec.md §4.4's error classification table.
func classify(err error) action {
	var closed *frame.ErrConnectionClosed
	if errors.As(err, &closed) {
		return actionSessionLoss
	}

	var capacity *frame.ErrCapacity
	if errors.As(err, &capacity) {
		return actionContinue
	}

	if errors.Is(err, frame.ErrProtocolReset) {
		return actionSessionLoss
	}

	var protocol *frame.ErrProtocol
	if errors.As(err, &protocol) {
		return actionContinue
	}

	if errors.Is(err, frame.ErrNoMessage) {
		return actionSessionLoss
	}

	return actionContinue
}
