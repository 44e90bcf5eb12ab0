package mcpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/certs"
	"github.com/usestring/trafficlab/internal/config"
	"github.com/usestring/trafficlab/internal/httpapi"
	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/internal/mcp"
	"github.com/usestring/trafficlab/internal/mcp/tools"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/internal/search"
	"github.com/usestring/trafficlab/internal/storage"
	"github.com/usestring/trafficlab/pkg/bodyquery"
)

const environmentsDebounce = 200 * time.Millisecond

// Server is the trafficlab MCP server.
// It wraps the internal implementation and provides extension points.
type Server struct {
	internal   *mcp.Server
	deps       *Deps
	archive    *storage.Archive
	envs       *replay.Environments
	http       *httpapi.Server
	logCleanup func() error
	logger     *slog.Logger
}

// NewServer creates a new MCP server with the builtin capture, certificate,
// replay and export tools.
//
// Configuration is read from the environment (see internal/config); use
// functional options to override logging, storage, the side channel, or to
// add custom tools.
func NewServer(opts ...Option) (*Server, error) {
	cfg := &serverConfig{
		config: config.Load(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c := cfg.config

	logCfg := logging.Config{
		Level:      c.LogLevel,
		FilePath:   c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
		Compress:   c.LogCompress,
	}
	if cfg.logLevel != "" {
		logCfg.Level = cfg.logLevel
	}
	if cfg.logFile != "" {
		logCfg.FilePath = cfg.logFile
	}
	logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	s := &Server{logCleanup: logCleanup, logger: logging.Component("server")}

	// Shared infrastructure
	m := metrics.New(metrics.DefaultNamespace)
	eventBus := bus.New()

	captureCache, err := cache.NewCaptureCache(c.CaptureCacheMaxItems)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create capture cache: %w", err)
	}
	idx := indexer.New(captureCache, indexer.Options{
		IndexBody:         c.IndexBody,
		IndexBodyMaxBytes: c.IndexBodyMaxBytes,
	})

	captureOpts := []capture.Option{
		capture.WithSink(idx),
		capture.WithPublisher(eventBus),
		capture.WithMetrics(m),
	}
	if c.StorageDSN != "" {
		s.archive, err = storage.Open(c.StorageDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open session archive: %w", err)
		}
		captureOpts = append(captureOpts, capture.WithArchive(s.archive))
	}
	captures := capture.NewManager(capture.Options{
		Paths: capture.ToolPaths{
			TShark:           c.TSharkPath,
			Mitmdump:         c.MitmdumpPath,
			FlowScript:       c.MitmFlowScript,
			MitmArgs:         []string{"--set", "confdir=" + c.CertDir},
			DefaultInterface: c.DefaultInterface,
		},
		StopTimeout:     c.StopTimeout,
		ParserMaxBuffer: c.ParserMaxBuffer,
	}, captureOpts...)

	authority := certs.NewAuthority(certs.Options{
		Dir:              c.CertDir,
		RootValidityDays: c.RootCAValidity,
		HostValidityDays: c.HostValidity,
	},
		certs.WithSigner(certs.NewOpenSSLSigner(c.OpenSSLPath, c.SignerTimeout)),
		certs.WithPublisher(eventBus),
		certs.WithMetrics(m),
	)

	s.envs = replay.NewEnvironments()
	if c.EnvironmentsFile != "" {
		s.envs, err = replay.LoadEnvironments(c.EnvironmentsFile)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load replay environments: %w", err)
		}
	}
	replayOpts := []replay.Option{
		replay.WithCaptures(captureCache),
		replay.WithEnvironments(s.envs),
		replay.WithPublisher(eventBus),
		replay.WithMetrics(m),
	}
	if cfg.executor != nil {
		replayOpts = append(replayOpts, replay.WithExecutor(cfg.executor))
	}
	replayEngine, err := replay.NewEngine(replay.Options{
		HistoryMax:     c.ReplayHistoryMax,
		DefaultTimeout: c.ReplayTimeout,
	}, replayOpts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create replay engine: %w", err)
	}

	searchEngine := search.New(idx, c.DefaultSearchLimit)
	bodyQueryEngine := bodyquery.NewEngine()

	// Create deps for internal tools and custom tools
	toolDeps := &tools.Deps{
		Config:    c,
		Captures:  captures,
		Cache:     captureCache,
		Indexer:   idx,
		Search:    searchEngine,
		Certs:     authority,
		Replay:    replayEngine,
		BodyQuery: bodyQueryEngine,
		Bus:       eventBus,
	}

	// Create public deps (same values, different type for public API)
	s.deps = &Deps{
		Config:    c,
		Captures:  captures,
		Cache:     captureCache,
		Indexer:   idx,
		Search:    searchEngine,
		Certs:     authority,
		Replay:    replayEngine,
		BodyQuery: bodyQueryEngine,
		Bus:       eventBus,
		Metrics:   m,
	}

	if c.HTTPAddr != "" && !cfg.disableHTTP {
		s.http = httpapi.New(httpapi.Deps{Bus: eventBus, Cache: captureCache, Metrics: m})
	}

	// Build internal server options
	internalOpts := []mcp.ServerOption{mcp.WithLogger(logging.Component("mcp"))}
	if !cfg.disableBuiltinTools {
		internalOpts = append(internalOpts, mcp.WithBuiltinTools())
	}
	if !cfg.disableBuiltinPrompts {
		internalOpts = append(internalOpts, mcp.WithBuiltinPrompts())
	}

	// Add custom extension registration callbacks
	for _, fn := range cfg.toolRegistrations {
		internalOpts = append(internalOpts, mcp.WithCustomRegistration(fn))
	}
	for _, fn := range cfg.promptRegistrations {
		internalOpts = append(internalOpts, mcp.WithCustomRegistration(fn))
	}
	for _, fn := range cfg.resourceRegistrations {
		internalOpts = append(internalOpts, mcp.WithCustomRegistration(fn))
	}

	// Add deferred tool registrations (tools that need Deps access)
	for _, fn := range cfg.deferredToolRegistrations {
		internalOpts = append(internalOpts, mcp.WithCustomRegistration(func(srv *sdkmcp.Server) {
			fn(srv, s.deps)
		}))
	}

	s.internal, err = mcp.NewServer(toolDeps, internalOpts...)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return s, nil
}

// Run starts the MCP server with stdio transport, along with the
// environments watcher and the HTTP side channel when configured.
// The server runs until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.deps.Certs.Initialize(ctx); err != nil {
		s.logger.Warn("certificate authority not loaded", "error", err)
	}
	if s.deps.Config.WatchEnvironment {
		if err := s.envs.Watch(ctx, environmentsDebounce); err != nil {
			s.logger.Warn("environments watcher disabled", "error", err)
		}
	}
	if s.http != nil {
		if _, err := s.http.Start(s.deps.Config.HTTPAddr); err != nil {
			return err
		}
	}
	return s.internal.Run(ctx)
}

// Close stops live capture sessions and releases server resources.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.deps != nil {
		errs = append(errs, s.deps.Captures.Close(ctx))
	}
	if s.http != nil {
		errs = append(errs, s.http.Shutdown(ctx))
	}
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	if s.logCleanup != nil {
		errs = append(errs, s.logCleanup())
	}
	return errors.Join(errs...)
}

// Deps returns the dependencies for building custom tools.
func (s *Server) Deps() *Deps {
	return s.deps
}

// MCPServer returns the underlying MCP server for testing.
func (s *Server) MCPServer() *sdkmcp.Server {
	return s.internal.MCPServer()
}
