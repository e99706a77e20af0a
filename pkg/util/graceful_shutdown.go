package util

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown runs registered shutdown hooks in priority order when
// the process stops. Lower priorities shut down first, so the HTTP server
// can stop accepting work before the sessions and sinks behind it close.
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource is one named shutdown hook.
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int
}

// NewGracefulShutdown creates a shutdown coordinator with an overall deadline.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource to be shut down.
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.resources = append(gs.resources, resource)
	sort.SliceStable(gs.resources, func(i, j int) bool {
		return gs.resources[i].Priority < gs.resources[j].Priority
	})

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterCloser registers an io.Closer as a shutdown hook.
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(ctx context.Context) error {
			return closer.Close()
		},
	})
}

// Shutdown runs every hook in priority order under one shared deadline.
// A failing hook is reported but never blocks the hooks behind it.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var failed []string
	for _, resource := range resources {
		if err := gs.shutdownOne(shutdownCtx, resource); err != nil {
			gs.logger.WithError(err).WithField("resource", resource.Name).Error("Error shutting down resource")
			failed = append(failed, resource.Name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("shutdown failed for: %v", failed)
	}

	gs.logger.Info("Graceful shutdown completed successfully")
	return nil
}

func (gs *GracefulShutdown) shutdownOne(ctx context.Context, resource ShutdownResource) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during shutdown: %v", r)
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during shutdown: %v", r)
			}
		}()
		done <- resource.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			gs.logger.WithField("resource", resource.Name).Debug("Resource shut down")
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown deadline exceeded")
	}
}
