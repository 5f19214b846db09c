package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nexd-io/nexd/pkg/log"
)

// Handler serves one RPC method. Params is the raw request payload; the
// returned value is marshaled into the reply. Errors are mapped onto wire
// codes via the errdefs kinds.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server serves JSON-RPC 2.0 over a unix domain socket, one request per
// connection: the client writes a request and half-closes, the server reads
// to EOF, replies and closes.
type Server struct {
	sockPath string
	handlers map[string]Handler
	logger   zerolog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server bound to the given socket path.
func NewServer(sockPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		sockPath: sockPath,
		handlers: make(map[string]Handler),
		logger:   log.WithComponent("jsonrpc"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers a method handler. Must be called before Start.
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Start listens on the socket and serves until Stop. A stale socket file
// from a previous run is removed first.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.sockPath), 0755); err != nil {
		return err
	}
	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info().Str("socket", s.sockPath).Msg("jsonrpc server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	raw, err := io.ReadAll(conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read request")
		return
	}

	reply := s.dispatch(raw)

	out, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}
	if _, err := conn.Write(out); err != nil {
		s.logger.Warn().Err(err).Msg("failed to write reply")
	}
}

func (s *Server) dispatch(raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse("0", CodeParseError, "parse error: "+err.Error())
	}

	id := req.ID
	if id == "" {
		id = "0"
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return errorResponse(id, CodeInvalidRequest, "unsupported jsonrpc version "+req.JSONRPC)
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(id, CodeMethodNotFound, "no such method: "+req.Method)
	}

	result, err := h(s.ctx, req.Params)
	if err != nil {
		s.logger.Debug().Err(err).Str("method", req.Method).Msg("rpc failed")
		return errorResponse(id, codeFor(err), err.Error())
	}

	var resultRaw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return errorResponse(id, CodeInternalError, "failed to encode result")
		}
		resultRaw = data
	}

	return &Response{
		Result:  resultRaw,
		ID:      id,
		JSONRPC: Version,
	}
}

func errorResponse(id json.Number, code int, msg string) *Response {
	return &Response{
		Error:   &RPCError{Code: code, Message: msg},
		ID:      id,
		JSONRPC: Version,
	}
}
