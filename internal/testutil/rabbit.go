//go:build integration

// Package testutil holds helpers for the integration suite, which runs the
// guild messaging stack against a real RabbitMQ broker. Everything here is
// gated behind the integration build tag; the ordinary unit suite must not
// need Docker.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guildtool/guild/pkg/bus"
)

// StartRabbit launches a throwaway RabbitMQ container and returns a bus
// config pointing at it. The container is terminated through t.Cleanup.
func StartRabbit(t *testing.T) bus.Config {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}

	rabbitC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := rabbitC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate RabbitMQ container: %v", err)
		}
	})

	host, err := rabbitC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := rabbitC.MappedPort(ctx, "5672")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := bus.DefaultConfig()
	cfg.Broker.Host = host
	cfg.Broker.Port = port.Int()
	return cfg
}

// WaitFor polls check until it returns true or the deadline passes.
func WaitFor(t *testing.T, deadline time.Duration, check func() bool, msg string) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %v: %s", deadline, msg)
}
