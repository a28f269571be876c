package frame

import "golang.org/x/xerrors"

// The types below are the concrete shape of the "abstract error taxonomy"
// spec.md §6 requires any gateway shard implementation to expose
// (ConnectionClosed, Capacity, Protocol), kept here rather than inside a
// specific shard implementation so the supervisor's classification table
// (spec.md §4.4) can match on them without depending on one.

// ErrConnectionClosed reports that the gateway connection ended, whether
// the remote sent a close frame or the read failed outright. Code is 0
// when no close frame was observed.
type ErrConnectionClosed struct {
	Code   int
	Reason string
}

func (e *ErrConnectionClosed) Error() string {
	if e.Reason == "" {
		return "gateway connection closed"
	}

	return "gateway connection closed: " + e.Reason
}

// ErrCapacity reports an inbound frame larger than the shard is willing to
// buffer. The connection is still usable; the frame was discarded.
type ErrCapacity struct {
	Size int
}

func (e *ErrCapacity) Error() string {
	return "gateway frame exceeds capacity"
}

// ErrProtocolReset is the sentinel for "connection reset without a close
// handshake" (spec.md §4.4's distinct "Connection reset without closing
// handshake" row) — always classified as session loss, unlike other
// Protocol errors.
var ErrProtocolReset = xerrors.New("gateway connection reset without closing handshake")

// ErrProtocol wraps any other malformed-frame or unexpected-opcode
// condition that does not, by itself, indicate the session is lost.
type ErrProtocol struct {
	Msg string
	Err error
}

func (e *ErrProtocol) Error() string {
	if e.Err != nil {
		return "gateway protocol error: " + e.Msg + ": " + e.Err.Error()
	}

	return "gateway protocol error: " + e.Msg
}

func (e *ErrProtocol) Unwrap() error {
	return e.Err
}

// ErrNoMessage is the sentinel for a message stream that ended without an
// underlying error (spec.md §4.4 "the stream yields no further items").
var ErrNoMessage = xerrors.New("gateway message stream ended")
