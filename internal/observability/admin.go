package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const adminShutdownTimeout = 5 * time.Second

// AdminConfig configures the loopback admin HTTP surface.
type AdminConfig struct {
	Addr        string
	CORSOrigins []string
	Version     string
	// Status returns the body served at /status.
	Status func() any
}

// Admin serves /health, /status and /metrics.
type Admin struct {
	cfg     AdminConfig
	router  *gin.Engine
	started time.Time
}

func NewAdmin(cfg AdminConfig) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(Component("admin")))
	r.Use(RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{cfg: cfg, router: r, started: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"version": a.cfg.Version,
		})
	})

	a.router.GET("/status", func(c *gin.Context) {
		if a.cfg.Status == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, a.cfg.Status())
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

// Run listens on cfg.Addr and serves until ctx is done.
func (a *Admin) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (a *Admin) Serve(ctx context.Context, ln net.Listener) error {
	logger := Component("admin")
	srv := &http.Server{Handler: a.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("admin.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin.Serve shutdown")
		return err
	}
	logger.Info().Msg("admin.Serve stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
