package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// DockerRuntime implements Runtime against a real Docker Engine API
// endpoint via the official client package.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime builds a DockerRuntime from the environment
// (DOCKER_HOST, DOCKER_CERT_PATH, etc.), negotiating the API version
// against the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("volume: create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.VolumeInspect(ctx, name)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (d *DockerRuntime) ContainersMounting(ctx context.Context, volumeName string) ([]ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("volume: list containers: %w", err)
	}

	var out []ContainerInfo
	for _, c := range containers {
		for _, m := range c.Mounts {
			if m.Name != volumeName {
				continue
			}
			inspect, err := d.cli.ContainerInspect(ctx, c.ID)
			if err != nil {
				return nil, fmt.Errorf("volume: inspect container %s: %w", c.ID, err)
			}
			name := c.ID
			if len(c.Names) > 0 {
				name = c.Names[0]
			}
			policy := ""
			if inspect.HostConfig != nil {
				policy = string(inspect.HostConfig.RestartPolicy.Name)
			}
			out = append(out, ContainerInfo{
				ID:            c.ID,
				Name:          name,
				Running:       c.State == "running",
				RestartPolicy: policy,
			})
			break
		}
	}
	return out, nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	return d.cli.ContainerStart(ctx, id, container.StartOptions{})
}

// RunPacker runs a throwaway alpine container that mounts volumeName
// read-only at /volume and stagingDir read-write at /staging, then
// tars+gzips /volume into /staging/<archiveName>.
func (d *DockerRuntime) RunPacker(ctx context.Context, volumeName, stagingDir, archiveName string) error {
	cmd := []string{"tar", "-czf", "/staging/" + archiveName, "-C", "/volume", "."}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: "alpine:3",
		Cmd:   cmd,
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeVolume, Source: volumeName, Target: "/volume", ReadOnly: true},
			{Type: mount.TypeBind, Source: stagingDir, Target: "/staging"},
		},
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("volume: create packer container: %w", err)
	}
	defer func() {
		_ = d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("volume: start packer container: %w", err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("volume: wait packer container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("volume: packer container exited with status %d", status.StatusCode)
		}
	}

	return nil
}
