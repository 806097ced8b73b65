package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"
)

func TestPublishedPort(t *testing.T) {
	port := nat.Port("80/tcp")
	settings := &types.NetworkSettings{NetworkSettingsBase: types.NetworkSettingsBase{Ports: nat.PortMap{
		port:                {{HostIP: "0.0.0.0", HostPort: ""}, {HostIP: "::", HostPort: "49153"}},
		nat.Port("443/tcp"): {{HostPort: "49154"}},
	}}}
	if got := publishedPort(settings, port); got != 49153 {
		t.Fatalf("expected 49153, got %d", got)
	}
	if got := publishedPort(nil, port); got != 0 {
		t.Fatalf("expected 0 for nil settings, got %d", got)
	}
}

func TestZeroClientReturnsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Ping(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Ping: expected ErrNotInitialized, got %v", err)
	}
	if _, err := c.RunContainer(ctx, RunOptions{Name: "x", Image: "y", ContainerPort: 80}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("RunContainer: expected ErrNotInitialized, got %v", err)
	}
	if err := c.RemoveImage(ctx, "x"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("RemoveImage: expected ErrNotInitialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
