// internal/bot/shutdown.go
package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc adapts a plain function to io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// ShutdownHandler tears registered services down in reverse registration
// order, so dependents close before what they depend on. Storage registers
// first and closes last.
type ShutdownHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name   string
	closer io.Closer
}

func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a closer under the name used in shutdown logs.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.mu.Unlock()
	sh.logger.Debug("service registered", zap.String("service", name))
}

// AddFunc registers a plain close function.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Shutdown closes every registered service, newest first. Each close runs
// in its own goroutine and gets at most the per-service timeout; a stuck
// service is abandoned so the rest still close. The first error is
// returned after all services were attempted.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	sh.logger.Info("shutting down", zap.Int("services", len(services)))

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]

		done := make(chan error, 1)
		go func() { done <- svc.closer.Close() }()

		timer := time.NewTimer(sh.timeout)
		select {
		case err := <-done:
			timer.Stop()
			if err != nil {
				sh.logger.Error("service close failed",
					zap.String("service", svc.name),
					zap.Error(err))
				if firstErr == nil {
					firstErr = fmt.Errorf("close %s: %w", svc.name, err)
				}
				continue
			}
			sh.logger.Info("service closed", zap.String("service", svc.name))
		case <-timer.C:
			sh.logger.Error("service close timed out",
				zap.String("service", svc.name),
				zap.Duration("timeout", sh.timeout))
			if firstErr == nil {
				firstErr = fmt.Errorf("close %s: timeout after %s", svc.name, sh.timeout)
			}
		case <-ctx.Done():
			timer.Stop()
			sh.logger.Error("shutdown deadline exceeded",
				zap.String("service", svc.name),
				zap.Int("remaining", i+1))
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown deadline exceeded at %s: %w", svc.name, ctx.Err())
			}
			return firstErr
		}
	}

	if firstErr == nil {
		sh.logger.Info("shutdown complete")
	}
	return firstErr
}
