package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cfszone_connect/answer_uma_provider/internal/config"
	"cfszone_connect/answer_uma_provider/internal/events"
	"cfszone_connect/answer_uma_provider/internal/httpapi"
	"cfszone_connect/answer_uma_provider/internal/keys"
	"cfszone_connect/answer_uma_provider/internal/resourceowner"
	"cfszone_connect/answer_uma_provider/internal/store"
)

type ServeCmd struct {
	Config   string `name:"config" short:"c" required:"" type:"existingfile" env:"UMA_CONFIG_FILE" help:"Path to the config file."`
	CertFile string `env:"UMA_CERT_FILE" help:"Path to the TLS certificate file."`
	KeyFile  string `env:"UMA_KEY_FILE" help:"Path to the TLS key file."`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	file, err := config.LoadFile(c.Config)
	if err != nil {
		return err
	}
	level := file.Log.SlogLevel()
	if rootCmd.Debug {
		level = slog.LevelDebug
	}
	logger := newLogger(os.Stderr, file.Log.Format, level)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := newServer(ctx, file, reg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	var g run.Group
	g.Add(run.ContextHandler(ctx))

	hs := &http.Server{
		Addr:              file.Listen,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		var err error
		if c.CertFile != "" && c.KeyFile != "" {
			logger.Info("server listening", slog.String("addr", "https://"+file.Listen))
			err = hs.ListenAndServeTLS(c.CertFile, c.KeyFile)
		} else {
			logger.Info("server listening", slog.String("addr", "http://"+file.Listen))
			err = hs.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	}, func(error) {
		// new context for this, parent is likely already shut down
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(ctx)
	})

	if file.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		promsrv := &http.Server{Addr: file.MetricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			logger.Info("metrics server listening", slog.String("addr", "http://"+file.MetricsListen))
			if err := promsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		}, func(error) {
			_ = promsrv.Close()
		})
	}

	if err := g.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

type server struct {
	handler http.Handler
	closers []func() error
}

func (s *server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// newServer wires a store, the engine and the gin routes for file.
func newServer(ctx context.Context, file *config.File, reg prometheus.Registerer, logger *slog.Logger) (*server, error) {
	cfg, err := file.Provider()
	if err != nil {
		return nil, err
	}
	srv := &server{}

	var backend store.Store
	switch file.Store.Backend {
	case config.StoreRedis:
		rs, err := store.NewRedisStore(ctx, file.Store.Redis.StoreConfig())
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, rs.Close)
		backend = rs
	default:
		backend = store.NewInMemoryStore()
	}
	if err = file.Seed(ctx, backend); err != nil {
		_ = srv.Close()
		return nil, err
	}

	keySet, err := keys.NewKeySet(cfg.PrivateKeyPEM)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	owners, err := resourceowner.NewStaticAuthenticator(file.Users)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	users := httpapi.BasicUserResolver(owners)
	handlers := httpapi.NewHandlers(httpapi.Options{
		Config:    cfg,
		Store:     backend,
		Keys:      keySet,
		Owners:    owners,
		Users:     users,
		Publisher: events.Multi{events.NewLogPublisher(logger), events.NewMetrics(reg)},
		Logger:    logger,
	})
	current := func() *httpapi.Handlers { return handlers }

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	httpapi.RegisterPublic(engine.Group(cfg.BasePath), current)
	httpapi.RegisterAdmin(engine.Group(cfg.BasePath+"/admin", requireAdministrator(users)), current)
	srv.handler = engine
	return srv, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugContext(c.Request.Context(), "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

// requireAdministrator admits end users whose role claim is administrator,
// the same claim the Answer session maps admins to.
func requireAdministrator(resolve httpapi.UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth, err := resolve(httpapi.WrapGinContext(c))
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpapi.OAuthError{Error: "access_denied", ErrorDescription: "authentication required"})
			return
		}
		if role, _ := auth.Owner.Claims["role"].(string); role != "administrator" {
			c.AbortWithStatusJSON(http.StatusForbidden, httpapi.OAuthError{Error: "access_denied", ErrorDescription: "administrator role required"})
			return
		}
		c.Next()
	}
}
