package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/termgate/internal/api/http"
	"github.com/GriffinCanCode/termgate/internal/api/middleware"
	"github.com/GriffinCanCode/termgate/internal/api/ws"
	"github.com/GriffinCanCode/termgate/internal/domain/emulator"
	"github.com/GriffinCanCode/termgate/internal/gateway"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/config"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/remote/channel"
	"github.com/GriffinCanCode/termgate/internal/remote/rest"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the operator HTTP server and the gateway behind it
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	gateway *gateway.Gateway
	router  *gin.Engine
}

// NewServer wires the gateway, its backend clients and the operator routes
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	mode, err := protocol.ParseMode(cfg.Terminal.Mode)
	if err != nil {
		return nil, err
	}
	channelURL, err := cfg.Backend.ChannelURL()
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing terminal gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("backend", cfg.Backend.URL),
		zap.String("channel", channelURL),
		zap.String("mode", string(mode)),
	)

	metrics := monitoring.NewMetrics()

	breaker := resilience.New("channel-dial", resilience.Settings{
		Timeout: cfg.Channel.ReconnectMax,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	ch := channel.New(channelURL, channel.Options{
		ReconnectMin: cfg.Channel.ReconnectMin,
		ReconnectMax: cfg.Channel.ReconnectMax,
		PingInterval: cfg.Channel.PingInterval,
		Logger:       logger.Component("channel"),
		Breaker:      breaker,
		OnState:      metrics.SetConnected,
	})
	backend := rest.New(cfg.Backend.URL,
		rest.WithLogger(logger.Component("rest")),
		rest.WithHeader(channel.ClientIDHeader, ch.ClientID()),
	)

	gw := gateway.New(gateway.Config{
		Mode:         mode,
		DefaultSize:  emulator.Size{Rows: cfg.Terminal.Rows, Cols: cfg.Terminal.Cols},
		Scrollback:   cfg.Terminal.Scrollback,
		NotifyTTL:    cfg.Notify.TTL,
		PollInterval: cfg.Poll.Interval,
	}, ch, backend, logger.Component("gateway"), gateway.WithHooks(metrics.GatewayHooks()))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	router.Use(middleware.Gzip(gzip.DefaultCompression, "/metrics", "/api/terminals"))

	handlers := httpapi.NewHandlers(gw, metrics, logger.Component("api"))
	handlers.Register(router)

	stream := ws.NewHandler(gw, logger.Component("viewer"), ws.WithConnHooks(metrics.IncViewers, metrics.DecViewers))
	router.GET("/api/terminals/:id/stream", stream.Stream)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Gateway initialized")

	return &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		gateway: gw,
		router:  router,
	}, nil
}

// Handler returns the operator HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// Gateway returns the gateway the server fronts
func (s *Server) Gateway() *gateway.Gateway { return s.gateway }

// Run starts the gateway and serves until ctx is done, then shuts down
// gracefully
func (s *Server) Run(ctx context.Context) error {
	s.gateway.Start(ctx)

	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return serve(ctx, &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}, s.logger.Logger)
}

// Close stops the gateway and releases every session
func (s *Server) Close() error {
	err := s.gateway.Close()
	return errors.Join(err, s.logger.Sync())
}

// serve runs srv until ctx is done or it fails
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server", zap.String("addr", srv.Addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
