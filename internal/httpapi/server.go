// Package httpapi serves the optional HTTP side channel: health, Prometheus
// metrics, a websocket feed of bus events and HAR/JSON exports.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/internal/filter"
	"github.com/usestring/trafficlab/internal/har"
	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBacklog  = 256
	shutdownPeriod = 5 * time.Second
)

// Deps are the components the side channel reads from.
type Deps struct {
	Bus     *bus.Bus
	Cache   *cache.CaptureCache
	Metrics *metrics.Metrics
}

// Server is the side-channel HTTP server.
type Server struct {
	deps     Deps
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger

	srv *http.Server
}

// New builds the router. Nothing listens until Start.
func New(d Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   d,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			// Local tooling only; the listener is expected on loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Component("httpapi"),
	}
	s.engine.Use(gin.Recovery(), d.Metrics.GinMiddleware())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	s.engine.GET("/events", s.handleEvents)
	s.engine.GET("/export/har", s.handleExport(func(w io.Writer, events []*types.TrafficEvent) error {
		return har.Encode(w, events, har.DefaultCreator)
	}, "har"))
	s.engine.GET("/export/json", s.handleExport(har.EncodeJSON, "json"))
	return s
}

// Handler returns the router for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and serves in the background. Listen errors are
// returned; serve errors after that are logged.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("side channel stopped", "error", err)
		}
	}()
	s.logger.Info("side channel listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownPeriod)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Cache != nil {
		body["cached_events"] = s.deps.Cache.Len()
	}
	if s.deps.Bus != nil {
		body["subscribers"] = s.deps.Bus.Len()
	}
	c.JSON(http.StatusOK, body)
}

// handleEvents streams bus events as JSON messages. The optional topics
// query parameter is a comma separated list of topics to receive.
func (s *Server) handleEvents(c *gin.Context) {
	if s.deps.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not configured"})
		return
	}
	var topics []types.Topic
	for _, t := range strings.Split(c.Query("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, types.Topic(t))
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Slow clients lose events rather than stall publishers.
	out := make(chan types.Event, clientBacklog)
	unsubscribe := s.deps.Bus.Subscribe(func(ev types.Event) {
		select {
		case out <- ev:
		default:
		}
	}, topics...)
	defer unsubscribe()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	s.logger.Debug("event client connected", "remote", c.Request.RemoteAddr)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			s.logger.Debug("event client disconnected", "remote", c.Request.RemoteAddr)
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and closes done when the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", "error", err)
			}
			return
		}
	}
}

// handleExport serves cached events. Query parameters: session_id, and the
// repeatable filter dimensions domain, method and status.
func (s *Server) handleExport(encode func(io.Writer, []*types.TrafficEvent) error, ext string) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := filterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sessionID := c.Query("session_id")
		events, err := filter.Select(s.deps.Cache.Session(sessionID), f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var buf bytes.Buffer
		if err := encode(&buf, events); err != nil {
			s.logger.Error("export failed", "format", ext, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}

		name := "trafficlab"
		if sessionID != "" {
			name += "-" + sessionID
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, name, ext))
		c.Header("X-Event-Count", strconv.Itoa(len(events)))
		c.Data(http.StatusOK, "application/json", buf.Bytes())
	}
}

func filterFromQuery(c *gin.Context) (types.TrafficFilter, error) {
	f := types.TrafficFilter{
		Domains: c.QueryArray("domain"),
		Methods: c.QueryArray("method"),
		Expr:    c.Query("expr"),
	}
	for _, raw := range c.QueryArray("status") {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return types.TrafficFilter{}, fmt.Errorf("invalid status %q", raw)
		}
		f.StatusCodes = append(f.StatusCodes, code)
	}
	return f, nil
}
