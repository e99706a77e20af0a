package util

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestShutdownRunsInPriorityOrder(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), 5*time.Second)

	var order []string
	hook := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	gs.Register(ShutdownResource{Name: "sessions", Priority: 20, Shutdown: hook("sessions")})
	gs.Register(ShutdownResource{Name: "http", Priority: 10, Shutdown: hook("http")})
	gs.Register(ShutdownResource{Name: "amqp", Priority: 30, Shutdown: hook("amqp")})

	if err := gs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"http", "sessions", "amqp"}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestShutdownReportsFailures(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), 5*time.Second)

	ran := false
	gs.Register(ShutdownResource{
		Name:     "broken",
		Priority: 10,
		Shutdown: func(ctx context.Context) error { panic("boom") },
	})
	gs.Register(ShutdownResource{
		Name:     "healthy",
		Priority: 20,
		Shutdown: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})

	if err := gs.Shutdown(context.Background()); err == nil {
		t.Error("Expected an error from the failing hook")
	}
	if !ran {
		t.Error("A failing hook must not block later hooks")
	}
}

func TestShutdownHonorsDeadline(t *testing.T) {
	gs := NewGracefulShutdown(testLogger(), 50*time.Millisecond)

	gs.Register(ShutdownResource{
		Name:     "slow",
		Priority: 10,
		Shutdown: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Second)
			return nil
		},
	})

	start := time.Now()
	if err := gs.Shutdown(context.Background()); err == nil {
		t.Error("Expected a deadline error")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Shutdown took %v, deadline not enforced", elapsed)
	}
}
