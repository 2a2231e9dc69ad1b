package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// maxRequestLine bounds one request line.
const maxRequestLine = 1 << 20 // 1 MB

// Handler processes one command's args and returns its data payload.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Server is the unix-socket control server.
type Server struct {
	socketPath string
	handlers   map[string]Handler
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a server listening (once started) on socketPath.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   map[string]Handler{},
		logger:     logger,
	}
}

// Handle registers a command handler. Must be called before Start.
func (s *Server) Handle(command string, h Handler) {
	s.handlers[command] = h
}

// Start binds the socket and begins accepting. A stale socket file from
// a crashed daemon is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	s.logger.Info("ipc server listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	if rerr := os.Remove(s.socketPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn serves exactly one request and closes the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := readLine(reader)
	if err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "Invalid JSON"})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "Invalid JSON"})
		return
	}

	handler, ok := s.handlers[req.Command]
	if !ok {
		s.writeResponse(conn, Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)})
		return
	}

	data, err := s.invoke(ctx, handler, req.Args)
	if err != nil {
		s.writeResponse(conn, Response{OK: false, Error: err.Error()})
		return
	}
	s.writeResponse(conn, Response{OK: true, Data: data})
}

// invoke runs a handler with panic containment so one bad command
// cannot take the daemon down.
func (s *Server) invoke(ctx context.Context, handler Handler, args json.RawMessage) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ipc handler panicked", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return handler(ctx, args)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload = []byte(`{"ok":false,"error":"failed to encode response"}`)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		s.logger.Debug("ipc write failed", "error", err)
	}
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	if len(line) > maxRequestLine {
		return nil, fmt.Errorf("request too large")
	}
	return line, nil
}
