// Package web serves the status panel as a browser page: a server-rendered
// panel fragment, the terminal output, a JSON API and a websocket event
// stream.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zpdzap/sandpreview/internal/config"
	"github.com/zpdzap/sandpreview/internal/panel"
	"github.com/zpdzap/sandpreview/internal/preview"
	"github.com/zpdzap/sandpreview/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Server is the web front end for one controller.
type Server struct {
	ctrl   *preview.Controller
	log    *slog.Logger
	router *gin.Engine
}

func New(ctrl *preview.Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	cfg := ctrl.Config()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(corsMiddleware(cfg.Server.AllowOrigins))

	s := &Server{ctrl: ctrl, log: log, router: router}

	router.GET("/", s.page)
	router.GET("/panel", s.panelFragment)
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(ctrl.Registry(), promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/state", s.state)
	guard := originGuard(cfg.Server.AllowOrigins)
	api.POST("/reload", guard, s.reload)
	api.POST("/restart", guard, s.restart)
	api.GET("/events", s.events)

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Web panel listening", "addr", "http://"+addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type panelData struct {
	Status string
	Seq    uint64
	Layout panel.Layout
}

type pageData struct {
	Project string
	Panel   panelData
	Output  string
	Ad      *config.Ads
}

func panelFor(snap store.Snapshot) panelData {
	return panelData{Status: string(snap.Status), Seq: snap.Seq, Layout: panel.Compose(snap)}
}

func (s *Server) page(c *gin.Context) {
	cfg := s.ctrl.Config()
	snap := s.ctrl.Snapshot()
	data := pageData{
		Project: cfg.Project,
		Panel:   panelFor(snap),
		Output:  ansi.Strip(string(snap.Output)),
	}
	if cfg.Ads.Enabled() {
		ad := cfg.Ads
		if ad.Slot == "" {
			ad.Slot = config.DefaultAdSlot
		}
		if ad.Format == "" {
			ad.Format = config.DefaultAdFormat
		}
		data.Ad = &ad
	}
	s.render(c, "page.html", data)
}

func (s *Server) panelFragment(c *gin.Context) {
	s.render(c, "panel", panelFor(s.ctrl.Snapshot()))
}

func (s *Server) render(c *gin.Context, name string, data any) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := templates.ExecuteTemplate(c.Writer, name, data); err != nil {
		s.log.Error("Rendering template failed", "template", name, "error", err)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": s.ctrl.EngineName()})
}

type stateResponse struct {
	store.Snapshot
	Layout panel.Layout `json:"layout"`
	Engine string       `json:"engine"`
	Output string       `json:"output"`
}

func (s *Server) state(c *gin.Context) {
	snap := s.ctrl.Snapshot()
	c.JSON(http.StatusOK, stateResponse{
		Snapshot: snap,
		Layout:   panel.Compose(snap),
		Engine:   s.ctrl.EngineName(),
		Output:   ansi.Strip(string(snap.Output)),
	})
}

func (s *Server) reload(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"frame_key": s.ctrl.Reload()})
}

func (s *Server) restart(c *gin.Context) {
	run, err := s.ctrl.Restart(c.Request.Context())
	if err != nil {
		s.log.Error("Restart failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID()})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Microsecond),
		)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginWithContextFunc: func(c *gin.Context, origin string) bool {
			return originAllowed(origins, c.Request)
		},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	})
}
