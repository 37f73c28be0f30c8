package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/jobpulse/errors"
)

// Start listens on port and serves until Stop. It returns once the listener
// is bound; serve errors after that are logged.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", port)
	}
	return s.Serve(ln)
}

// Serve serves on an already bound listener
func (s *Server) Serve(ln net.Listener) error {
	if s.ctx.Err() != nil {
		ln.Close()
		return errors.New("server already stopped")
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.logger.Infow("Server ready", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests, closes notification streams and waits for
// the server goroutines to exit
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Wrap(err, "failed to shut down HTTP server")
		}
	}

	// Hijacked connections are not tracked by Shutdown; close them BEFORE
	// cancelling the context so readPump/writePump exit cleanly
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
	}
	s.mu.Unlock()

	for _, client := range clientsToClose {
		client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.conn.Close()
	}

	s.cancel()
	s.wg.Wait()

	s.logger.Infow("Server stopped", "clients_closed", len(clientsToClose))
	return shutdownErr
}
