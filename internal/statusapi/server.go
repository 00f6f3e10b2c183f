package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tekaba/internal/metrics"
	"github.com/betbot/tekaba/internal/notify"
	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/internal/view"
)

const (
	defaultSignalLimit = 20
	readHeaderTimeout  = 5 * time.Second
)

// ConnectionSource reports the stream connection.
type ConnectionSource interface {
	Status() stream.Status
}

// ViewSource provides the dashboard state.
type ViewSource interface {
	Snapshot() view.Snapshot
}

// AlertSource reports alert delivery. Optional.
type AlertSource interface {
	Stats() notify.Stats
}

// Sources are what the API reads from.
type Sources struct {
	Connection ConnectionSource
	View       ViewSource
	Alerts     AlertSource
}

type Config struct {
	Addr string
	// Debug mounts expvar and pprof under /debug.
	Debug bool
}

// Server is a read-only JSON API over the local view.
type Server struct {
	cfg     Config
	src     Sources
	log     *logrus.Entry
	started time.Time

	httpSrv *http.Server
	ln      net.Listener
}

func New(cfg Config, src Sources, log *logrus.Entry) (*Server, error) {
	if src.Connection == nil || src.View == nil {
		return nil, errors.New("connection and view sources are required")
	}
	if log == nil {
		log = logrus.WithField("module", "statusapi")
	}
	return &Server{cfg: cfg, src: src, log: log, started: time.Now()}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/positions/closed", s.handleClosed)
	api.GET("/precursors", s.handlePrecursors)
	api.GET("/signals", s.handleSignals)

	if s.cfg.Debug {
		r.GET("/debug/*path", gin.WrapH(metrics.Handler()))
	}
	return r
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.log.Infof("status API listening on http://%s", ln.Addr())

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("status API stopped: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.src.Connection.Status()
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"connected": st.Connected,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

type statusResponse struct {
	Connection stream.Status     `json:"connection"`
	Alerts     *notify.Stats     `json:"alerts,omitempty"`
	Counts     map[string]uint64 `json:"counts"`
	Positions  int               `json:"positions"`
	Precursors int               `json:"precursors"`
	Decode     uint64            `json:"decode_errors"`
	LastEvent  time.Time         `json:"last_event_at,omitzero"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.src.View.Snapshot()
	resp := statusResponse{
		Connection: s.src.Connection.Status(),
		Counts:     snap.Counts,
		Positions:  len(snap.Positions),
		Precursors: len(snap.Precursors),
		Decode:     snap.DecodeErrors,
		LastEvent:  snap.LastEventAt,
	}
	if s.src.Alerts != nil {
		st := s.src.Alerts.Stats()
		resp.Alerts = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.View.Snapshot().Positions)
}

func (s *Server) handleClosed(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.View.Snapshot().Closed)
}

func (s *Server) handlePrecursors(c *gin.Context) {
	snap := s.src.View.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"updated_at": snap.PrecursorsAt,
		"precursors": snap.Precursors,
	})
}

func (s *Server) handleSignals(c *gin.Context) {
	limit := defaultSignalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	signals := s.src.View.Snapshot().Signals
	if len(signals) > limit {
		signals = signals[:limit]
	}
	c.JSON(http.StatusOK, signals)
}
