// Package gatewayshard is a concrete implementation of the narrow Shard
// collaborator spec.md §6 describes as externally owned: a minimal
// Discord gateway client exposing Send, Decode, Process, Messages,
// AutoReconnect and SessionID. The supervisor drives it; it never decides
// on its own whether to reconnect or resume.
package gatewayshard

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/TheRockettek/gateway-sharder/internal/frame"
	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/tevino/abool"
	"golang.org/x/xerrors"
)

const (
	gatewayURL         = "wss://gateway.discord.gg/?v=10&encoding=json"
	defaultMaxFrame    = 4 << 20
	reconnectCloseCode = 4000
	messageChanBuffer  = 64
)

// envelope is the wire shape of a gateway payload; d is kept raw so
// Process can re-decode it per opcode without a second round trip through
// the caller.
type envelope struct {
	Op       frame.Op        `json:"op"`
	Type     string          `json:"t,omitempty"`
	Sequence int64           `json:"s,omitempty"`
	Data     json.RawMessage `json:"d,omitempty"`
}

type identifyPayload struct {
	Token      string     `json:"token"`
	Intents    int        `json:"intents"`
	Shard      [2]int     `json:"shard"`
	Properties properties `json:"properties"`
}

type properties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type invalidSessionPayload struct {
	Resumable bool `json:"d"`
}

type sentPayload struct {
	Op int         `json:"op"`
	D  interface{} `json:"d"`
}

// Shard is a single Discord gateway connection. A Shard is constructed
// once and reused across reconnects: Connect and AutoReconnect redial
// the socket beneath a stable Messages() channel.
type Shard struct {
	token   string
	shardID int
	total   int
	intents int
	logger  zerolog.Logger

	mu                sync.Mutex
	conn              net.Conn
	sessionID         string
	sequence          int64
	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	lastAck           *abool.AtomicBool

	maxFrame int
	messages chan frame.Result
}

// New constructs a Shard for shardID of total, identifying as intents.
// It does not dial; call Connect to establish the socket.
func New(token string, shardID, total, intents int, logger zerolog.Logger) *Shard {
	return &Shard{
		token:    token,
		shardID:  shardID,
		total:    total,
		intents:  intents,
		logger:   logger.With().Str("component", "gateway_shard").Int("shard", shardID).Logger(),
		lastAck:  abool.New(),
		maxFrame: defaultMaxFrame,
		messages: make(chan frame.Result, messageChanBuffer),
	}
}

// Connect dials the gateway and starts the read pump. It does not
// identify or resume; that happens in Process once the Hello opcode
// arrives, mirroring the real handshake order.
func (s *Shard) Connect(ctx context.Context) error {
	dialer := ws.Dialer{}

	conn, _, _, err := dialer.Dial(ctx, gatewayURL)
	if err != nil {
		return xerrors.Errorf("gatewayshard: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.lastAck.Set()

	s.logger.Debug().Msg("connected")

	go s.readPump(conn)

	return nil
}

// Messages returns the shard's stable stream of inbound frames and
// errors (spec.md §4.4 step 1). The same channel is fed across
// reconnects.
func (s *Shard) Messages() <-chan frame.Result {
	return s.messages
}

// SessionID reports the resume session id, or "" if the shard has never
// identified or has had its session invalidated.
func (s *Shard) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// AutoReconnect redials the gateway, reusing the existing Messages()
// channel and session state (so a subsequent Hello can decide to resume).
func (s *Shard) AutoReconnect(ctx context.Context) error {
	s.stopHeartbeat()

	return s.Connect(ctx)
}

// Send writes f to the gateway connection as the matching WebSocket
// opcode.
func (s *Shard) Send(ctx context.Context, f frame.Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return xerrors.New("gatewayshard: send on unconnected shard")
	}

	op, err := wsOpFor(f.Type)
	if err != nil {
		return err
	}

	if err := wsutil.WriteClientMessage(conn, op, f.Data); err != nil {
		return xerrors.Errorf("gatewayshard: write: %w", err)
	}

	return nil
}

func wsOpFor(t frame.Type) (ws.OpCode, error) {
	switch t {
	case frame.Binary:
		return ws.OpBinary, nil
	case frame.Text:
		return ws.OpText, nil
	case frame.Ping:
		return ws.OpPing, nil
	case frame.Pong:
		return ws.OpPong, nil
	case frame.Close:
		return ws.OpClose, nil
	default:
		return 0, xerrors.Errorf("gatewayshard: unsupported frame type %s", t)
	}
}

// Decode parses a Binary or Text frame into the minimal gateway envelope.
func (s *Shard) Decode(f frame.Frame) (frame.Event, error) {
	var env envelope

	if err := sonic.Unmarshal(f.Data, &env); err != nil {
		return frame.Event{}, &frame.ErrProtocol{Msg: "decode envelope", Err: err}
	}

	return frame.Event{
		Op:       env.Op,
		Type:     env.Type,
		Sequence: env.Sequence,
		Data:     env.Data,
	}, nil
}

// Process handles an opcode that the supervisor's generic event loop does
// not interpret itself: Hello starts the heartbeat and identifies or
// resumes; Heartbeat sends an immediate heartbeat and HeartbeatACK marks
// the connection alive;
// InvalidSession and Reconnect end the current connection so the next
// Messages() error is classified through the ordinary path (spec.md §4.4
// step 2a, §9).
func (s *Shard) Process(ctx context.Context, ev frame.Event) error {
	switch ev.Op {
	case frame.OpHello:
		return s.handleHello(ctx, ev)
	case frame.OpHeartbeatACK:
		s.lastAck.Set()
		return nil
	case frame.OpHeartbeat:
		return s.sendHeartbeat(ctx)
	case frame.OpInvalidSession:
		var resumable bool
		_ = sonic.Unmarshal(ev.Data, &resumable)

		s.logger.Warn().Bool("resumable", resumable).Msg("invalid session")

		s.mu.Lock()
		if !resumable {
			s.sessionID = ""
			s.sequence = 0
		}
		s.mu.Unlock()

		s.closeForReconnect("invalid session")

		return nil
	case frame.OpReconnect:
		s.logger.Info().Msg("gateway requested reconnect")
		s.closeForReconnect("reconnect requested")

		return nil
	case frame.OpDispatch:
		s.mu.Lock()
		if ev.Sequence != 0 {
			s.sequence = ev.Sequence
		}
		s.mu.Unlock()

		if ev.Type == "READY" || ev.Type == "RESUMED" {
			var ready struct {
				SessionID string `json:"session_id"`
			}

			if err := sonic.Unmarshal(ev.Data, &ready); err == nil && ready.SessionID != "" {
				s.mu.Lock()
				s.sessionID = ready.SessionID
				s.mu.Unlock()

				s.logger.Info().Str("event", ev.Type).Msg("session established")
			}
		}

		return nil
	default:
		return nil
	}
}

func (s *Shard) handleHello(ctx context.Context, ev frame.Event) error {
	var hello helloPayload
	if err := sonic.Unmarshal(ev.Data, &hello); err != nil {
		return &frame.ErrProtocol{Msg: "decode hello", Err: err}
	}

	s.mu.Lock()
	s.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	sessionID := s.sessionID
	s.mu.Unlock()

	s.startHeartbeat(ctx)

	if sessionID != "" {
		return s.sendResume(ctx)
	}

	return s.sendIdentify(ctx)
}

func (s *Shard) sendIdentify(ctx context.Context) error {
	s.logger.Debug().Msg("identifying")

	payload := sentPayload{
		Op: int(frame.OpIdentify),
		D: identifyPayload{
			Token:   s.token,
			Intents: s.intents,
			Shard:   [2]int{s.shardID, s.total},
			Properties: properties{
				OS:      "linux",
				Browser: "gateway-sharder",
				Device:  "gateway-sharder",
			},
		},
	}

	return s.writeJSON(ctx, payload)
}

func (s *Shard) sendResume(ctx context.Context) error {
	s.mu.Lock()
	sessionID := s.sessionID
	sequence := s.sequence
	s.mu.Unlock()

	s.logger.Debug().Msg("resuming")

	payload := sentPayload{
		Op: int(frame.OpResume),
		D: resumePayload{
			Token:     s.token,
			SessionID: sessionID,
			Sequence:  sequence,
		},
	}

	return s.writeJSON(ctx, payload)
}

func (s *Shard) sendHeartbeat(ctx context.Context) error {
	s.mu.Lock()
	sequence := s.sequence
	s.mu.Unlock()

	payload := sentPayload{Op: int(frame.OpHeartbeat), D: sequence}

	return s.writeJSON(ctx, payload)
}

func (s *Shard) writeJSON(ctx context.Context, payload interface{}) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("gatewayshard: marshal: %w", err)
	}

	return s.Send(ctx, frame.Frame{Type: frame.Text, Data: data})
}

// startHeartbeat runs the heartbeat ticker for the connection's lifetime;
// it stops itself if an ACK is missing when the next beat is due, mirroring
// the teacher's Heartbeat loop.
func (s *Shard) startHeartbeat(ctx context.Context) {
	s.mu.Lock()
	interval := s.heartbeatInterval
	s.stopHeartbeatLocked()
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.lastAck.IsSet() {
					s.logger.Warn().Msg("heartbeat ack missing, reconnecting")
					s.closeForReconnect("heartbeat ack missing")

					return
				}

				s.lastAck.UnSet()

				if err := s.sendHeartbeat(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("failed to send heartbeat")
					s.closeForReconnect("heartbeat send failed")

					return
				}
			}
		}
	}()
}

func (s *Shard) stopHeartbeat() {
	s.mu.Lock()
	s.stopHeartbeatLocked()
	s.mu.Unlock()
}

func (s *Shard) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

// closeForReconnect ends the current connection so the read pump's next
// read fails and surfaces a classified ConnectionClosed error, letting
// the supervisor's ordinary error-handling path decide resume vs requeue
// based on SessionID().
func (s *Shard) closeForReconnect(reason string) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}

	_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(reconnectCloseCode, reason))
	_ = conn.Close()
}

// readPump owns conn for its lifetime: it decodes WebSocket frames into
// Results on the shared messages channel until the read fails or the
// connection is deliberately closed, then exits. AutoReconnect starts a
// fresh readPump over the new connection.
func (s *Shard) readPump(conn net.Conn) {
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			s.emitClosed(err)

			return
		}

		if len(data) > s.maxFrame {
			s.messages <- frame.Result{Err: &frame.ErrCapacity{Size: len(data)}}

			continue
		}

		switch op {
		case ws.OpPing:
			_ = wsutil.WriteClientMessage(conn, ws.OpPong, data)
			s.messages <- frame.Result{Frame: frame.Frame{Type: frame.Ping, Data: data}}
		case ws.OpPong:
			s.messages <- frame.Result{Frame: frame.Frame{Type: frame.Pong, Data: data}}
		case ws.OpBinary:
			s.messages <- frame.Result{Frame: frame.Frame{Type: frame.Binary, Data: data}}
		case ws.OpText:
			s.messages <- frame.Result{Frame: frame.Frame{Type: frame.Text, Data: data}}
		case ws.OpClose:
			code, reason := parseCloseFrame(data)
			s.messages <- frame.Result{Err: &frame.ErrConnectionClosed{Code: code, Reason: reason}}

			return
		default:
			s.messages <- frame.Result{Err: &frame.ErrProtocol{Msg: "unrecognised opcode"}}
		}
	}
}

// emitClosed classifies a read failure. A close frame from the server
// (which wsutil reports as a ClosedError) keeps its status code and
// reason. A failure whose message names a reset (rather than a clean
// close) is reported as ErrProtocolReset, the distinct "reset without
// closing handshake" bucket the classification table treats as always
// session-lost.
func (s *Shard) emitClosed(err error) {
	var closed wsutil.ClosedError
	if xerrors.As(err, &closed) {
		s.messages <- frame.Result{Err: &frame.ErrConnectionClosed{Code: int(closed.Code), Reason: closed.Reason}}

		return
	}

	if strings.Contains(strings.ToLower(err.Error()), "reset") {
		s.messages <- frame.Result{Err: frame.ErrProtocolReset}

		return
	}

	s.messages <- frame.Result{Err: &frame.ErrConnectionClosed{Reason: err.Error()}}
}

// parseCloseFrame decodes an RFC 6455 close frame body: a two-byte
// big-endian status code followed by an optional UTF-8 reason.
func parseCloseFrame(data []byte) (int, string) {
	if len(data) < 2 {
		return 0, string(data)
	}

	code := int(data[0])<<8 | int(data[1])

	return code, string(data[2:])
}
