package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/handlers"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/middleware"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		Long:  "Serve exposes instance checks, patch health and install progress over HTTP and a websocket until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub := middleware.NewHub(nil)
			a, err := newApp(opts, hub)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen == "" {
				listen = a.cfg.ListenAddr
			}
			stop, err := startStatusServer(a, hub, listen)
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			a.logger.Infof("Shutting down status API...")
			stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default: EML_LISTEN_ADDR)")
	return cmd
}

// startStatusServer starts the hub and the HTTP server on addr. The
// returned func shuts both down.
func startStatusServer(a *app, hub *middleware.Hub, addr string) (func(), error) {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go hub.Run()
	// 100 requests per minute per IP
	rl := middleware.NewRateLimiter(rate.Every(time.Minute/100), 10)
	// cancelled on shutdown so progress streams end
	base, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:        setupRouter(a, hub, rl),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		BaseContext:    func(net.Listener) context.Context { return base },
	}

	go func() {
		a.logger.Infof("Status API listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("Status API stopped: %v", err)
		}
	}()

	return func() {
		rl.Stop()
		hub.Stop()
		cancelBase()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warnf("Status API forced to shutdown: %v", err)
		}
	}, nil
}

func setupRouter(a *app, hub *middleware.Hub, rl *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a))
	r.Use(middleware.SecurityHeaders())
	r.Use(rl.Middleware())

	h := handlers.NewStatusHandlers(a.mgr)
	r.GET("/healthz", h.Healthz)
	r.GET("/version", h.Version)

	api := r.Group("/api")
	api.GET("/instances/:id/check", h.Check)
	api.GET("/instances/:id/health", h.Health)
	api.GET("/progress", h.Progress)
	api.GET("/progress/stream", h.ProgressStream)

	r.GET("/ws", hub.HandleWebSocket())
	return r
}

func requestLogger(a *app) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.WithFields(logrus.Fields{
			"client":  c.ClientIP(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debugf("request")
	}
}
