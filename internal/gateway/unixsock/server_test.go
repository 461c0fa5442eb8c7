package unixsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func startServer(t *testing.T) (string, *Server) {
	t.Helper()
	d := rpc.NewDispatcher()
	d.RegisterFunc("echo", func(_ context.Context, msg *rpc.Message) (*rpc.Message, error) {
		var payload map[string]interface{}
		require.NoError(t, msg.ParsePayload(&payload))
		return rpc.NewResponse(msg.ID, msg.Method, payload)
	})

	path := filepath.Join(t.TempDir(), "daemon.sock")
	srv := NewServer(path, d, logger.Default())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return path, srv
}

func roundTrip(t *testing.T, conn net.Conn, line string) rpc.Message {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan(), "no response line")

	var msg rpc.Message
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
	return msg
}

func TestEchoRoundTrip(t *testing.T) {
	path, _ := startServer(t)
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, `{"id":"1","type":"request","method":"echo","payload":{"hello":"world"}}`)
	assert.Equal(t, rpc.MessageTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)

	var payload map[string]interface{}
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, "world", payload["hello"])
}

func TestMalformedLineKeepsConnection(t *testing.T) {
	path, _ := startServer(t)
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, `{not json`)
	assert.Equal(t, rpc.MessageTypeError, resp.Type)

	// The same connection still serves valid requests.
	resp = roundTrip(t, conn, `{"id":"2","type":"request","method":"echo","payload":{}}`)
	assert.Equal(t, rpc.MessageTypeResponse, resp.Type)
}

func TestUnknownMethod(t *testing.T) {
	path, _ := startServer(t)
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, `{"id":"3","type":"request","method":"nope"}`)
	assert.Equal(t, rpc.MessageTypeError, resp.Type)

	var payload rpc.ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, rpc.ErrorCodeUnknownMethod, payload.Code)
}
