package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/chronoshard/tsdb/pkg/observability"
)

// Handler executes one decoded shard request and returns its response
// payload. It is the same shape as fanout.InProcessTransport's handler, so a
// node can serve the identical executor logic in-process and over TCP.
type Handler func(ctx context.Context, payload any) (any, error)

// Server is the shard side of the fan-out boundary: it accepts framed
// requests from a coordinator's NetTransport, decodes them, runs the
// handler, and writes the framed response back. Handler errors are encoded
// as ErrorResponse rather than dropping the connection, so the coordinator
// records them as shard-level failures.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer returns a Server dispatching decoded requests to handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler, logger: observability.GetDefaultLogger()}
}

// WithLogger overrides the server's logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// Serve accepts connections from ln until ctx is cancelled or ln fails,
// serving each connection on its own goroutine. It always closes ln before
// returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn handles one coordinator connection: a loop of framed
// request/response pairs until the peer closes.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		reqBytes, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn("wire: read request frame", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		respPayload := s.handle(ctx, reqBytes)
		respBytes, err := EncodePayload(respPayload)
		if err != nil {
			// The response itself would not encode; fall back to a codec
			// error the coordinator can still decode.
			respBytes, err = EncodePayload(NewErrorResponse(err))
			if err != nil {
				return
			}
		}
		if err := WriteFrame(conn, respBytes); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("wire: write response frame", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, reqBytes []byte) any {
	req, err := DecodePayload(reqBytes)
	if err != nil {
		return NewErrorResponse(err)
	}
	resp, err := s.handler(ctx, req)
	if err != nil {
		return NewErrorResponse(err)
	}
	return resp
}
