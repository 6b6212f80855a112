package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownHook runs after the listener stops, e.g. to close the watcher or database
type ShutdownHook func(ctx context.Context) error

// Runner serves until a signal or context cancellation, then shuts down
// within Timeout and runs the hooks in reverse registration order
type Runner struct {
	server  *Server
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []ShutdownHook
}

// NewRunner creates a runner
func NewRunner(s *Server, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{server: s, timeout: timeout, logger: logger}
}

// OnShutdown registers a hook
func (r *Runner) OnShutdown(hook ShutdownHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.server.listener == nil {
		if err := r.server.Listen(); err != nil {
			return err
		}
	}
	r.logger.Info("server listening", zap.String("address", r.server.Addr()))

	errc := make(chan error, 1)
	go func() { errc <- r.server.Serve() }()

	select {
	case err := <-errc:
		r.runHooks()
		return err
	case <-ctx.Done():
	}

	r.logger.Info("shutting down", zap.Duration("timeout", r.timeout))
	sctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.server.Shutdown(sctx)
	if err != nil {
		r.logger.Error("server shutdown failed", zap.Error(err))
	}
	<-errc
	r.runHooks()
	return err
}

func (r *Runner) runHooks() {
	r.mu.Lock()
	hooks := append([]ShutdownHook(nil), r.hooks...)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			r.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(err))
		}
	}
}
