// Package valkeytest runs a disposable valkey server for the tests of the
// valkey backed flow repository.
package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const image = "valkey/valkey:8-alpine"

// Start runs a valkey container and returns a connected client, the address
// of the server and a function terminating both. It panics when the server
// cannot be reached, as there is nothing left to test.
func Start(ctx context.Context) (valkey.Client, string, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start ValKey container", "error", err)
		panic(err)
	}

	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	if err != nil {
		slogctx.Error(ctx, "Failed to map a port for the ValKey container", "error", err)
		panic(err)
	}

	addr := net.JoinHostPort("localhost", port.Port())
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to initialise a ValKey client", "error", err)
		_ = container.Terminate(ctx)
		panic(err)
	}

	terminate := func(ctx context.Context) {
		client.Close()

		if err := container.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate ValKey container", "error", err)
			panic(err)
		}
	}

	return client, addr, terminate
}
