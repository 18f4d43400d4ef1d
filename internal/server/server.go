// Package server runs the panel's control port.
//
// The listener has a single thread of control. A helper goroutine only accepts
// connections and hands them over an unbuffered channel; the loop goroutine
// serves each connection to completion and, between connections, runs the
// periodic tasks (marquee frames, telemetry sampling). Nothing the handlers
// touch is ever used from two goroutines at once.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/metrics"
	"iot-panel-server/internal/router"

	"github.com/google/uuid"
)

const (
	// MaxRequestBytes is how much of a request is read; the rest is ignored.
	MaxRequestBytes     = 1024
	DefaultReadTimeout  = 2 * time.Second
	DefaultTickInterval = 20 * time.Millisecond
	acceptBackoff       = 50 * time.Millisecond
	writeTimeout        = 5 * time.Second
)

// Handler turns one raw request into a response and names the route taken.
type Handler interface {
	Handle(ctx context.Context, raw []byte) (router.Response, string)
}

type Options struct {
	ReadTimeout  time.Duration
	TickInterval time.Duration
}

type task struct {
	name  string
	every time.Duration
	next  time.Time
	run   func(ctx context.Context, now time.Time)
}

type Server struct {
	handler Handler
	opts    Options
	metrics *metrics.Metrics
	tasks   []*task
}

func New(h Handler, m *metrics.Metrics, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &Server{handler: h, opts: opts, metrics: m}
}

// AddTask schedules fn on the loop goroutine roughly every interval. The
// resolution is the server's tick interval. Must be called before Serve.
func (s *Server) AddTask(name string, every time.Duration, fn func(ctx context.Context, now time.Time)) {
	if every < s.opts.TickInterval {
		every = s.opts.TickInterval
	}
	s.tasks = append(s.tasks, &task{name: name, every: every, run: fn})
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// returns nil. A listener that fails permanently ends Serve with its error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conns := make(chan net.Conn)
	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- s.acceptLoop(ctx, ln, conns)
	}()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	now := time.Now()
	for _, t := range s.tasks {
		t.next = now.Add(t.every)
	}

	logger.Info("Control port listening on %s", ln.Addr())
	for {
		select {
		case <-ctx.Done():
			ln.Close()
			<-acceptDone
			logger.Info("Control port on %s stopped.", ln.Addr())
			return nil
		case err := <-acceptDone:
			ln.Close()
			if err == nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		case conn := <-conns:
			s.serveConn(ctx, conn)
		case now := <-ticker.C:
			s.runTasks(ctx, now)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, conns chan<- net.Conn) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.Warn("Accept failed: %v. Retrying in %v.", err, acceptBackoff)
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

func (s *Server) runTasks(ctx context.Context, now time.Time) {
	for _, t := range s.tasks {
		if now.Before(t.next) {
			continue
		}
		t.next = now.Add(t.every)
		s.runTask(ctx, t, now)
	}
}

func (s *Server) runTask(ctx context.Context, t *task, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Task %s panicked: %v", t.name, p)
		}
	}()
	t.run(ctx, now)
}

// serveConn reads one request, writes one response and closes the connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	start := time.Now()
	defer conn.Close()

	resp, route := s.respond(ctx, conn, id)

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(resp.Bytes()); err != nil {
		logger.Warn("[%s] Writing response to %s failed: %v", id, conn.RemoteAddr(), err)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveRequest(route, resp.Status, elapsed)
	logger.Debug("[%s] %s %s -> %d (%v)", id, conn.RemoteAddr(), route, resp.Status, elapsed)
}

func (s *Server) respond(ctx context.Context, conn net.Conn, id string) (resp router.Response, route string) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("[%s] Request handling panicked: %v", id, p)
			resp, route = router.InternalError(), "error"
		}
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	buf := make([]byte, MaxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("[%s] Reading request from %s failed: %v", id, conn.RemoteAddr(), err)
		return router.InternalError(), "error"
	}
	return s.handler.Handle(ctx, buf[:n])
}

// Listen binds addr. When the port is taken it walks upwards through at most
// retries further ports and returns the first listener that binds.
func Listen(host string, port, retries int) (net.Listener, error) {
	var lastErr error
	for i := 0; i <= retries; i++ {
		addr := net.JoinHostPort(host, fmt.Sprint(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Info("Port %d was in use. Using port %d instead.", port, port+i)
			}
			return ln, nil
		}
		logger.Warn("Could not bind to %s (reason: %v).", addr, err)
		lastErr = err
	}
	return nil, fmt.Errorf("no open port in %d..%d: %w", port, port+retries, lastErr)
}
