// Package server owns the process-wide components and runs them against one
// client connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/indexd/internal/discovery"
	"github.com/danmuck/indexd/internal/events"
	"github.com/danmuck/indexd/internal/handlers"
	"github.com/danmuck/indexd/internal/index"
	"github.com/danmuck/indexd/internal/observability"
	"github.com/danmuck/indexd/internal/protocol"
	"github.com/danmuck/indexd/internal/protocol/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidPort = errors.New("server: invalid port")

// Server is built once in main. It holds every long-lived component; none of
// them are package globals.
type Server struct {
	cfg     Config
	started time.Time
	logger  zerolog.Logger

	bus      *events.Bus
	state    *index.State
	scanner  *index.Scanner
	cache    *discovery.Cache[*index.Project]
	watcher  *discovery.Watcher
	registry *handlers.Registry

	mu   sync.Mutex
	conn *session.Conn
}

func New(cfg Config) (*Server, error) {
	cfg = cfg.WithDefaults()
	observability.RegisterMetrics()

	factory, err := index.NewProjectFactory(cfg.Ignore, cfg.Include, cfg.Comparer)
	if err != nil {
		return nil, fmt.Errorf("server: compile project rules: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		started: time.Now(),
		logger:  observability.Component("server"),
		bus:     events.NewBus(),
	}
	s.state = index.NewState(s.bus)
	s.scanner = index.NewScanner(s.bus, s.state)
	s.cache = discovery.NewCache[*index.Project](
		discovery.NewMarkerProber(cfg.ProjectMarkers...),
		factory,
		discovery.Hooks{OnRegister: s.onRegister, OnInvalidate: s.onInvalidate},
	)
	if cfg.WatchRoots {
		if s.watcher, err = discovery.NewWatcher(s.cache, cfg.WatchDebounce); err != nil {
			return nil, fmt.Errorf("server: start watcher: %w", err)
		}
	}

	s.registry, err = handlers.NewRegistry(
		handlers.EchoHandler{},
		handlers.NewTypedMessageHandler(handlers.IndexHandlers(handlers.IndexDeps{
			Projects:  s.cache,
			Searcher:  index.SubstringSearcher{IgnoreCase: !isCaseSensitive(cfg)},
			Refresher: s.scanner,
			State:     s.state,
			Started:   s.started,
			Version:   cfg.Version,
		})...),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func isCaseSensitive(cfg Config) bool {
	return cfg.Comparer.Equal("A", "A") && !cfg.Comparer.Equal("A", "a")
}

func (s *Server) onRegister(root string) {
	s.logger.Info().Str("root", root).Msg("server.project registered")
	if s.watcher != nil {
		s.watcher.Watch(root)
	}
}

func (s *Server) onInvalidate(removed []string) {
	if len(removed) > 0 {
		s.logger.Info().Strs("removed", removed).Msg("server.cache invalidated")
	}
}

// Run dials the launcher on host:port and serves the connection until it
// closes or ctx is done.
func (s *Server) Run(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	s.logger.Info().Str("addr", addr).Msg("server.Run dialing")
	nc, err := session.Dial(ctx, addr, s.cfg.Session)
	if err != nil {
		return fmt.Errorf("server: dial %s: %w", addr, err)
	}
	return s.Serve(ctx, nc)
}

// Serve runs the protocol over rwc. A graceful peer close and ctx
// cancellation return nil; anything else returns the transport error.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := session.New(rwc, s.cfg.Session, s.registry, s.onEvent)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	detach := events.NewForwarder(conn, s.cfg.ProgressEventsPerSecond).Attach(s.bus)
	defer detach()

	sideCtx, cancel := context.WithCancel(ctx)
	var side errgroup.Group
	if s.watcher != nil {
		side.Go(func() error { return s.watcher.Run(sideCtx) })
	}
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		admin := observability.NewAdmin(observability.AdminConfig{
			Addr:        s.cfg.AdminAddr,
			CORSOrigins: s.cfg.AdminCORSOrigins,
			Version:     s.cfg.Version,
			Status:      func() any { return s.Status() },
		})
		side.Go(func() error {
			if err := admin.Run(sideCtx); err != nil {
				s.logger.Warn().Err(err).Msg("server.admin stopped")
			}
			return nil
		})
	}

	s.logger.Info().Str("conn_id", conn.ID()).Strs("handlers", s.registry.Names()).Msg("server.Serve start")
	err := conn.Run(ctx)
	cancel()
	if werr := side.Wait(); werr != nil {
		s.logger.Warn().Err(werr).Msg("server.Serve side task failed")
	}
	s.scanner.Wait()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("server.Serve stop")
		return err
	}
	s.logger.Info().Msg("server.Serve stop")
	return nil
}

func (s *Server) onEvent(ev *protocol.Message) {
	s.logger.Debug().Str("protocol", ev.Protocol).Int("bytes", len(ev.Payload)).Msg("server.event from client ignored")
}

// Close releases the filesystem watcher.
func (s *Server) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

// Status is the admin /status body.
type Status struct {
	Version    string          `json:"version"`
	Uptime     string          `json:"uptime"`
	Connected  bool            `json:"connected"`
	Pending    int             `json:"pending"`
	QueueDepth int             `json:"queue_depth"`
	Paused     bool            `json:"paused"`
	Roots      []string        `json:"roots"`
	Cache      discovery.Stats `json:"cache"`
	Events     events.BusStats `json:"events"`
}

func (s *Server) Status() Status {
	st := Status{
		Version: s.cfg.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Paused:  s.state.Paused(),
		Roots:   s.cache.Roots(),
		Cache:   s.cache.Stats(),
		Events:  s.bus.Stats(),
	}
	s.mu.Lock()
	if s.conn != nil {
		st.Connected = true
		st.Pending = s.conn.Pending()
		st.QueueDepth = s.conn.QueueDepth()
	}
	s.mu.Unlock()
	return st
}
