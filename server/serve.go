package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	wsjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"go.uber.org/zap"
)

// Transport names used in logs and health reports
const (
	TransportStdio     = "stdio"
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// ServeStdio serves a single session on stdin/stdout. It returns when the
// client exits or disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Infow("reading from stdin, writing to stdout")
	return s.serve(ctx, TransportStdio, jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{}))
}

// ServeStream serves a single session on rwc using LSP base-protocol framing.
func (s *Server) ServeStream(ctx context.Context, transport string, rwc io.ReadWriteCloser) error {
	return s.serve(ctx, transport, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}))
}

// serve runs one session until the connection closes or ctx is cancelled.
func (s *Server) serve(ctx context.Context, transport string, stream jsonrpc2.ObjectStream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := s.newSession(ctx, transport)
	if err != nil {
		_ = stream.Close()
		return err
	}
	defer s.closeSession(session)

	log := s.logger.With(logger.FieldSession, session.ID)
	opts := []jsonrpc2.ConnOpt{jsonrpc2.SetLogger(zap.NewStdLog(log.Named("jsonrpc2").Desugar()))}
	if logger.ShouldLogTrace(s.cfg.Log.Verbosity) {
		opts = append(opts, jsonrpc2.LogMessages(zap.NewStdLog(log.Named("jsonrpc2").Desugar())))
	}

	conn := jsonrpc2.NewConn(ctx, stream, newRPCHandler(session, log.Named("rpc")), opts...)

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		_ = conn.Close()
	}
	return nil
}

// ServeTCP accepts connections on address until ctx is cancelled. Every
// connection is served as its own session.
func (s *Server) ServeTCP(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener is ServeTCP on an existing listener, which it closes.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	s.logger.Infow("listening for TCP connections", logger.FieldAddress, listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}

		s.logger.Infow("TCP connection accepted", "remote", conn.RemoteAddr().String())
		go func() {
			if err := s.ServeStream(ctx, TransportTCP, conn); err != nil {
				s.logger.Errorw("TCP session failed", logger.FieldError, err.Error())
			}
		}()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades each request to a WebSocket and serves a session
// on it. Each WebSocket message carries one JSON-RPC object.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Infow("WebSocket connection request", "remote", r.RemoteAddr)

		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Errorw("Failed to upgrade WebSocket", logger.FieldError, err.Error())
			return
		}

		if err := s.serve(ctx, TransportWebSocket, wsjsonrpc2.NewObjectStream(socket)); err != nil {
			s.logger.Errorw("WebSocket session failed", logger.FieldError, err.Error())
		}
		s.logger.Infow("WebSocket connection closed", "remote", r.RemoteAddr)
	})
}

// ServeWebSocket serves WebSocketHandler on address until ctx is cancelled.
func (s *Server) ServeWebSocket(ctx context.Context, address string) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           s.WebSocketHandler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	s.logger.Infow("listening for WebSocket connections", logger.FieldAddress, address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve WebSocket on %s", address)
	}
	return nil
}

// stdrwc joins stdin and stdout into one stream
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
