package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/executor/catalog"
	executor "github.com/GriffinCanCode/termgate/internal/executor/server"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/config"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/logging"
)

// Executor runs the reference execution backend
type Executor struct {
	config  *config.Config
	logger  *logging.Logger
	catalog *catalog.Catalog
	backend *executor.Server
}

// NewExecutor loads the tool catalog and builds the backend
func NewExecutor(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Executor, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	cat := catalog.New(cfg.Executor.Catalog, catalog.WithLogger(logger.Component("catalog")))
	if err := cat.Load(ctx); err != nil {
		return nil, err
	}

	backend := executor.New(executor.Config{
		Shell:          cfg.Executor.Shell,
		PackageManager: cfg.Executor.PackageManager,
		Sudo:           os.Geteuid() != 0,
	}, cat, logger.Component("executor"))

	return &Executor{config: cfg, logger: logger, catalog: cat, backend: backend}, nil
}

// Handler returns the backend's HTTP handler
func (e *Executor) Handler() http.Handler { return e.backend.Handler() }

// Run watches the catalog and serves until ctx is done
func (e *Executor) Run(ctx context.Context) error {
	go func() {
		err := e.catalog.Watch(ctx, catalog.DefaultDebounce, func() {
			e.logger.Info("Tool catalog reloaded", zap.Int("tools", e.catalog.Len()))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("Catalog watch stopped", zap.Error(err))
		}
	}()

	addr := net.JoinHostPort(e.config.Server.Host, e.config.Executor.Port)
	e.logger.Info("Starting execution backend", zap.String("addr", addr))
	return serve(ctx, &http.Server{Addr: addr, Handler: e.backend.Handler(), ReadHeaderTimeout: 10 * time.Second}, e.logger.Logger)
}

// Close kills every running session
func (e *Executor) Close() error {
	err := e.backend.Close()
	return errors.Join(err, e.logger.Sync())
}
