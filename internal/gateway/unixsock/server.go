// Package unixsock serves the RPC surface over a unix domain socket with
// newline-delimited JSON messages, for CLI clients on the same host.
package unixsock

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// Server accepts connections on a unix socket and feeds each line through
// the dispatcher. One goroutine per connection.
type Server struct {
	path       string
	dispatcher *rpc.Dispatcher
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]bool
	wg       sync.WaitGroup
}

func NewServer(path string, dispatcher *rpc.Dispatcher, log *logger.Logger) *Server {
	return &Server{
		path:       path,
		dispatcher: dispatcher,
		log:        log.WithFields(zap.String("component", "unixsock")),
		conns:      map[net.Conn]bool{},
	}
}

// Listen binds the socket, replacing a stale file from a previous run.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until the context ends. Listen must have been
// called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("unixsock: Serve called before Listen")
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	s.log.Info("unix socket listening", zap.String("path", s.path))
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting, closes live connections and removes the socket
// file.
func (s *Server) Close() {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = map[net.Conn]bool{}
	s.mu.Unlock()

	s.wg.Wait()
	_ = os.Remove(s.path)
}

func (s *Server) dropConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// handleConn reads one JSON message per line and writes one response per
// line. Malformed lines get an error response; the connection stays open.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.dropConn(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpc.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.reply(writer, mustError("", "", rpc.ErrorCodeInvalidParam, "invalid message: "+err.Error()))
			continue
		}

		response, err := s.dispatcher.Dispatch(ctx, &msg)
		if err != nil {
			s.reply(writer, mustError(msg.ID, msg.Method, rpc.ErrorCodeInternal, err.Error()))
			continue
		}
		if response != nil {
			s.reply(writer, response)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Debug("connection read", zap.Error(err))
	}
}

const maxLineSize = 4 * 1024 * 1024

func (s *Server) reply(w *bufio.Writer, msg *rpc.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return
	}
	_ = w.Flush()
}

func mustError(id, method, code, message string) *rpc.Message {
	msg, err := rpc.NewError(id, method, code, message, nil)
	if err != nil {
		return &rpc.Message{ID: id, Type: rpc.MessageTypeError, Method: method}
	}
	return msg
}
