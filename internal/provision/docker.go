package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/airlock/internal/docker"
	"github.com/splax/airlock/internal/domain"
)

const (
	dockerfileName = ".airlock.Dockerfile"
	containerPort  = 80
	labelPrefix    = "io.airlock."
)

const staticDockerfile = `FROM nginx:alpine
RUN rm -rf /usr/share/nginx/html/*
COPY . /usr/share/nginx/html/
RUN rm -f /usr/share/nginx/html/` + dockerfileName + `
EXPOSE 80
`

// Engine is the subset of the Docker client the gateway drives.
type Engine interface {
	BuildImage(ctx context.Context, opts docker.BuildOptions, onOutput func(string)) error
	RunContainer(ctx context.Context, opts docker.RunOptions) (docker.ContainerInfo, error)
	RemoveContainer(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, ref string) error
	Ping(ctx context.Context) error
}

// DockerConfig configures the Docker gateway.
type DockerConfig struct {
	// Registry prefixes image names, e.g. "registry.local:5000".
	Registry string
	// PublicHost is the host name reported in deployment addresses.
	PublicHost string
}

// Docker serves each deployment from its own nginx container.
type Docker struct {
	engine Engine
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDocker builds a gateway on engine.
func NewDocker(engine Engine, cfg DockerConfig, logger *slog.Logger) *Docker {
	if cfg.PublicHost == "" {
		cfg.PublicHost = "localhost"
	}
	return &Docker{engine: engine, cfg: cfg, logger: logger.With("component", "gateway")}
}

// ImageRef returns the image reference for a deployment.
func (d *Docker) ImageRef(id string) string {
	name := "airlock-site-" + id + ":latest"
	if d.cfg.Registry == "" {
		return name
	}
	return strings.TrimRight(d.cfg.Registry, "/") + "/" + name
}

// ContainerName returns the container name for a deployment.
func ContainerName(id string) string {
	return "airlock-" + id
}

// BuildAndPublish builds an nginx image serving sourceDir.
func (d *Docker) BuildAndPublish(ctx context.Context, id, sourceDir string) (Artifact, error) {
	dockerfile := filepath.Join(sourceDir, dockerfileName)
	if err := os.WriteFile(dockerfile, []byte(staticDockerfile), 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write dockerfile: %w", err)
	}
	defer os.Remove(dockerfile)

	ref := d.ImageRef(id)
	log := d.logger.With("deployment_id", id, "image", ref)
	err := d.engine.BuildImage(ctx, docker.BuildOptions{
		Dir:        sourceDir,
		Dockerfile: dockerfileName,
		Tag:        ref,
		Labels:     map[string]string{labelPrefix + "deployment": id},
	}, func(line string) {
		log.Debug("build output", "line", line)
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("build image: %w", err)
	}
	log.Info("image built")
	return Artifact{Ref: ref}, nil
}

// Provision replaces any container of the deployment with a fresh one and
// returns its public address.
func (d *Docker) Provision(ctx context.Context, id string, artifact Artifact, mode domain.Mode, security domain.CheckStatus) (string, error) {
	name := ContainerName(id)
	if err := d.engine.RemoveContainer(ctx, name); err != nil {
		return "", fmt.Errorf("replace container: %w", err)
	}
	info, err := d.engine.RunContainer(ctx, docker.RunOptions{
		Name:  name,
		Image: artifact.Ref,
		Labels: map[string]string{
			labelPrefix + "deployment": id,
			labelPrefix + "mode":       string(mode),
			labelPrefix + "security":   string(security),
		},
		ContainerPort: containerPort,
	})
	if err != nil {
		return "", fmt.Errorf("run container: %w", err)
	}
	url := fmt.Sprintf("http://%s:%d", d.cfg.PublicHost, info.HostPort)
	d.logger.Info("container started", "deployment_id", id, "container_id", info.ID, "url", url, "mode", mode)
	return url, nil
}

// Deprovision removes the container and image of a deployment.
func (d *Docker) Deprovision(ctx context.Context, id string) error {
	return errors.Join(
		d.engine.RemoveContainer(ctx, ContainerName(id)),
		d.engine.RemoveImage(ctx, d.ImageRef(id)),
	)
}

func (d *Docker) Ping(ctx context.Context) error {
	return d.engine.Ping(ctx)
}
