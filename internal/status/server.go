// ABOUTME: HTTP status surface exposing Prometheus metrics and a live JSON snapshot
// ABOUTME: /metrics, /status.json and a /status websocket feed pushing the snapshot periodically
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// SnapshotFunc returns a JSON-encodable view of the running component.
type SnapshotFunc func() any

// Config configures a Server.
type Config struct {
	Addr     string
	Interval time.Duration
	Gatherer prometheus.Gatherer
	Snapshot SnapshotFunc
	Logger   *zap.Logger
}

// Server serves the status endpoints.
type Server struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a status server. A nil Gatherer uses the default registry.
func New(config Config) *Server {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Snapshot == nil {
		config.Snapshot = func() any { return struct{}{} }
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		logger: config.Logger.Named("status"),
		upgrader: websocket.Upgrader{
			// Read-only feed for the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
	}
	s.mux.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/status.json", s.handleSnapshot)
	s.mux.HandleFunc("/status", s.handleWebSocket)
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on config.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status server shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("status server listening", zap.Stringer("addr", ln.Addr()))
	err := srv.Serve(ln)
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.config.Snapshot()); err != nil {
		s.logger.Warn("failed to encode status", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Debug("status watcher connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(conn, done)
	}()

	// Drain reads so close frames and pongs are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("status watcher error", zap.Error(err))
			}
			break
		}
	}
	close(done)
}

// clientWriter pushes a snapshot every interval and pings periodically.
func (s *Server) clientWriter(conn *websocket.Conn, done <-chan struct{}) {
	defer conn.Close()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	if err := s.writeSnapshot(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-s.stopChan:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := s.writeSnapshot(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(s.config.Snapshot()); err != nil {
		s.logger.Debug("failed to write status", zap.Error(err))
		return err
	}
	return nil
}
