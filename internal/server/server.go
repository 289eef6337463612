// Package server runs the monitoring pipeline and the subscription API as a
// single service.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gabapcia/xcmwatch/internal/pkg/logger"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("server already started")

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Scheduler runs persisted tasks in the background.
type Scheduler interface {
	Start(ctx context.Context) error
	Close()
}

// Switchboard recovers and monitors the persisted subscriptions.
type Switchboard interface {
	Start(ctx context.Context) error
	Stop()
}

// Sockets holds the open websocket connections.
type Sockets interface {
	Close()
}

// closeFunc stops the running pipeline.
type closeFunc func()

// service starts the pipeline stages in dependency order and stops them in
// reverse.
type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc
	listener  net.Listener

	addr        string
	handler     http.Handler
	scheduler   Scheduler
	switchboard Switchboard
	sockets     Sockets

	// releases frees the resources the stages were built on. They run in
	// reverse order on Close, after every stage stopped.
	releases []func()
}

// Start binds the API address, starts the scheduler, recovers the persisted
// subscriptions and serves the API.
//
// Returns ErrServiceAlreadyStarted if the service is running.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)

	if err := s.scheduler.Start(runCtx); err != nil {
		_ = ln.Close()
		return err
	}

	if err := s.switchboard.Start(runCtx); err != nil {
		s.scheduler.Close()
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	served := make(chan struct{})
	go func() {
		defer close(served)

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(runCtx, "api server stopped", "error", err)
		}
	}()

	logger.Info(ctx, "server started", "http.addr", ln.Addr().String())

	s.listener = ln
	s.closeFunc = func() {
		shutdownCtx, cancel := context.WithTimeout(runCtx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(runCtx, "api server shutdown", "error", err)
		}
		<-served

		s.sockets.Close()
		s.switchboard.Stop()
		s.scheduler.Close()

		logger.Info(runCtx, "server stopped")
	}
	s.isStarted = true
	return nil
}

// Addr returns the address the API is served on, or nil when the service is
// not running.
func (s *service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops serving the API, closes every socket, detaches every lane,
// stops the scheduler and releases the underlying resources. It is safe to
// call Close on a service that was never started.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}

	for _, release := range slices.Backward(s.releases) {
		release()
	}

	s.releases = nil
	s.closeFunc = nil
	s.listener = nil
	s.isStarted = false
}

func newService(addr string, handler http.Handler, sched Scheduler, sw Switchboard, sockets Sockets, releases []func()) *service {
	return &service{
		addr:        addr,
		handler:     handler,
		scheduler:   sched,
		switchboard: sw,
		sockets:     sockets,
		releases:    releases,
	}
}
