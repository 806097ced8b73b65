package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
)

// BuildOptions describes an image build from a local directory.
type BuildOptions struct {
	Dir        string
	Dockerfile string
	Tag        string
	Labels     map[string]string
}

// BuildImage builds an image from opts.Dir and reports progress lines to
// onOutput when it is non-nil.
func (c *Client) BuildImage(ctx context.Context, opts BuildOptions, onOutput func(string)) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if opts.Dir == "" {
		return errors.New("build directory cannot be empty")
	}
	if opts.Tag == "" {
		return errors.New("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(opts.Dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := c.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		Labels:      opts.Labels,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
}

// RemoveImage deletes an image. A missing image is not an error.
func (c *Client) RemoveImage(ctx context.Context, ref string) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(ref) == "" {
		return errors.New("image reference cannot be empty")
	}
	if _, err := c.inner.ImageRemove(ctx, ref, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m buildMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}
