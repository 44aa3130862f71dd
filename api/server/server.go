// Package server exposes a gojostore engine over TCP. Each connection is a
// session with at most one open transaction.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"github.com/sushant-115/gojostore/pkg/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// Config configures a Server.
type Config struct {
	Addr string
	// RequestsPerSecond limits each session. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
}

// Server accepts sessions and runs their statements against a Store.
type Server struct {
	cfg     Config
	store   Store
	logger  *zap.Logger
	metrics *internaltelemetry.ServerMetrics

	listener net.Listener
	closed   atomic.Bool
	sessions atomic.Int64
	handled  atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server. metrics may be nil.
func NewServer(cfg Config, store Store, logger *zap.Logger, metrics *internaltelemetry.ServerMetrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger.Named("server"),
		metrics: metrics,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions is the number of open sessions.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

// Handled is the number of statements answered so far.
func (s *Server) Handled() int64 { return s.handled.Load() }

// Serve accepts connections until Close is called or ctx is done. After
// Close it returns ErrServerClosed once every session has ended.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				s.wg.Wait()
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept failed", zap.Error(err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			s.wg.Wait()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleSession(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleSession(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	logger := s.logger.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String()))
	logger.Info("session opened")

	s.sessions.Inc()
	if s.metrics != nil {
		s.metrics.ActiveSessionsUpDownCounter.Add(ctx, 1)
	}

	limit := rate.Inf
	if s.cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(s.cfg.RequestsPerSecond)
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	packager := transport.NewPackager(conn)
	exec := NewExecutor(s.store, logger)
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn("abort of open transaction failed", zap.Error(err))
		}
		packager.Close()
		s.sessions.Dec()
		if s.metrics != nil {
			s.metrics.ActiveSessionsUpDownCounter.Add(context.Background(), -1)
		}
		logger.Info("session closed")
	}()

	for {
		req, err := packager.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				logger.Warn("receive failed", zap.Error(err))
			}
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		s.startRequest(ctx)
		var resp transport.Package
		if req.Err != nil {
			resp.Err = req.Err
		} else {
			resp.Data, resp.Err = exec.Execute(req.Data)
		}
		s.finishRequest(ctx, start, resp.Err)
		if resp.Err != nil {
			logger.Debug("statement failed", zap.ByteString("stat", req.Data), zap.Error(resp.Err))
		}

		if err := packager.Send(resp); err != nil {
			logger.Warn("send failed", zap.Error(err))
			return
		}
		s.handled.Inc()
	}
}

func (s *Server) startRequest(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsStartedCounter.Add(ctx, 1)
}

func (s *Server) finishRequest(ctx context.Context, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	s.metrics.RequestsHandledCounter.Add(ctx, 1, attrs)
	s.metrics.RequestLatencyHistogram.Record(ctx, time.Since(start).Milliseconds(), attrs)
}

// Close stops accepting, closes every session and waits for them to end.
// Open transactions are aborted.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("server stopped", zap.Int64("handled", s.handled.Load()))
	return err
}
