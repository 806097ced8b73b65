package docker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// RunOptions describes a container that publishes one port.
type RunOptions struct {
	Name          string
	Image         string
	Labels        map[string]string
	ContainerPort int
	// HostIP defaults to all interfaces.
	HostIP string
}

// ContainerInfo captures the runtime details of a started container.
type ContainerInfo struct {
	ID       string
	HostPort int
}

// RunContainer creates and starts a container, publishing ContainerPort on
// an ephemeral host port, and waits until Docker reports the binding.
func (c *Client) RunContainer(ctx context.Context, opts RunOptions) (ContainerInfo, error) {
	if c == nil || c.inner == nil {
		return ContainerInfo{}, ErrNotInitialized
	}
	if strings.TrimSpace(opts.Name) == "" {
		return ContainerInfo{}, errors.New("container name cannot be empty")
	}
	if strings.TrimSpace(opts.Image) == "" {
		return ContainerInfo{}, errors.New("image name cannot be empty")
	}
	port, err := nat.NewPort("tcp", strconv.Itoa(opts.ContainerPort))
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container port: %w", err)
	}

	config := &container.Config{
		Image:        opts.Image,
		Labels:       opts.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings:  nat.PortMap{port: []nat.PortBinding{{HostIP: opts.HostIP, HostPort: ""}}},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	created, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, fmt.Errorf("container start: %w", err)
	}

	for attempt := 0; attempt < 10; attempt++ {
		inspect, err := c.inner.ContainerInspect(ctx, created.ID)
		if err != nil {
			return ContainerInfo{}, fmt.Errorf("container inspect: %w", err)
		}
		if hostPort := publishedPort(inspect.NetworkSettings, port); hostPort > 0 {
			return ContainerInfo{ID: created.ID, HostPort: hostPort}, nil
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return ContainerInfo{}, fmt.Errorf("container %s published no host port for %s", opts.Name, port)
}

// RemoveContainer force-removes a container. A missing container is not an
// error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func publishedPort(settings *types.NetworkSettings, port nat.Port) int {
	if settings == nil {
		return 0
	}
	for _, binding := range settings.Ports[port] {
		if p, err := strconv.Atoi(strings.TrimSpace(binding.HostPort)); err == nil && p > 0 {
			return p
		}
	}
	return 0
}
