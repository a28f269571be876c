package gatewayshard

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/TheRockettek/gateway-sharder/internal/frame"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShard() *Shard {
	return New("Bot token", 0, 1, 0, zerolog.Nop())
}

func TestDecode_ParsesEnvelope(t *testing.T) {
	s := newTestShard()

	ev, err := s.Decode(frame.Frame{
		Type: frame.Text,
		Data: []byte(`{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}`),
	})

	require.NoError(t, err)
	assert.Equal(t, frame.OpDispatch, ev.Op)
	assert.Equal(t, "READY", ev.Type)
	assert.Equal(t, int64(1), ev.Sequence)
}

func TestDecode_InvalidJSONIsProtocolError(t *testing.T) {
	s := newTestShard()

	_, err := s.Decode(frame.Frame{Type: frame.Text, Data: []byte("not json")})

	require.Error(t, err)

	var protoErr *frame.ErrProtocol
	assert.ErrorAs(t, err, &protoErr)
}

func TestProcess_DispatchUpdatesSequence(t *testing.T) {
	s := newTestShard()

	err := s.Process(context.Background(), frame.Event{Op: frame.OpDispatch, Sequence: 42})

	require.NoError(t, err)
	s.mu.Lock()
	assert.Equal(t, int64(42), s.sequence)
	s.mu.Unlock()
}

func TestProcess_HeartbeatACKMarksAlive(t *testing.T) {
	s := newTestShard()
	s.lastAck.UnSet()

	err := s.Process(context.Background(), frame.Event{Op: frame.OpHeartbeatACK})

	require.NoError(t, err)
	assert.True(t, s.lastAck.IsSet())
}

func TestProcess_InvalidSessionNonResumableClearsSession(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	s := newTestShard()
	s.mu.Lock()
	s.conn = client
	s.sessionID = "existing-session"
	s.mu.Unlock()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		wsutil.ReadClientData(server) //nolint:errcheck
	}()

	err := s.Process(context.Background(), frame.Event{Op: frame.OpInvalidSession, Data: []byte(`false`)})
	require.NoError(t, err)

	<-serverDone

	assert.Equal(t, "", s.SessionID())
}

func TestProcess_InvalidSessionResumableKeepsSession(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	s := newTestShard()
	s.mu.Lock()
	s.conn = client
	s.sessionID = "existing-session"
	s.mu.Unlock()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		wsutil.ReadClientData(server) //nolint:errcheck
	}()

	err := s.Process(context.Background(), frame.Event{Op: frame.OpInvalidSession, Data: []byte(`true`)})
	require.NoError(t, err)

	<-serverDone

	assert.Equal(t, "existing-session", s.SessionID())
}

func TestReadPump_ForwardsBinaryFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newTestShard()

	go s.readPump(client)

	go wsutil.WriteServerMessage(server, ws.OpBinary, []byte("hello")) //nolint:errcheck

	select {
	case res := <-s.messages:
		require.NoError(t, res.Err)
		assert.Equal(t, frame.Binary, res.Frame.Type)
		assert.Equal(t, []byte("hello"), res.Frame.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestReadPump_PingIsAutoPongedAndForwarded(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newTestShard()

	go s.readPump(client)

	go wsutil.WriteServerMessage(server, ws.OpPing, []byte("ping")) //nolint:errcheck

	select {
	case res := <-s.messages:
		require.NoError(t, res.Err)
		assert.Equal(t, frame.Ping, res.Frame.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping frame")
	}

	_, op, err := wsutil.ReadClientData(server)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPong, op)
}

func TestReadPump_OversizedFrameIsSkippedNotFatal(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newTestShard()
	s.maxFrame = 4

	go s.readPump(client)

	go wsutil.WriteServerMessage(server, ws.OpBinary, []byte("too big")) //nolint:errcheck

	select {
	case res := <-s.messages:
		require.Error(t, res.Err)

		var capErr *frame.ErrCapacity
		assert.ErrorAs(t, res.Err, &capErr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capacity error")
	}

	go wsutil.WriteServerMessage(server, ws.OpBinary, []byte("ok")) //nolint:errcheck

	select {
	case res := <-s.messages:
		require.NoError(t, res.Err)
		assert.Equal(t, []byte("ok"), res.Frame.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for follow-up frame")
	}
}

func TestSend_WritesTextFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newTestShard()
	s.mu.Lock()
	s.conn = client
	s.mu.Unlock()

	done := make(chan struct{})

	var gotOp ws.OpCode

	var gotData []byte

	go func() {
		defer close(done)

		gotData, gotOp, _ = wsutil.ReadClientData(server)
	}()

	err := s.Send(context.Background(), frame.Frame{Type: frame.Text, Data: []byte("payload")})
	require.NoError(t, err)

	<-done

	assert.Equal(t, ws.OpText, gotOp)
	assert.Equal(t, []byte("payload"), gotData)
}

func TestSend_WithoutConnectionFails(t *testing.T) {
	s := newTestShard()

	err := s.Send(context.Background(), frame.Frame{Type: frame.Binary, Data: []byte("x")})

	require.Error(t, err)
}
