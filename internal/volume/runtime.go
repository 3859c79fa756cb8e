// Package volume implements the container-volume backup pipeline:
// resolving a configured volume, optionally quiescing the
// containers that mount it, packing its contents with a throwaway
// worker container, and restoring container state afterward.
package volume

import (
	"context"
	"time"
)

// ContainerInfo describes one container, running or not, that mounts
// a volume of interest.
type ContainerInfo struct {
	ID            string
	Name          string
	Running       bool
	RestartPolicy string // "always", "unless-stopped", "no", "on-failure", ...
}

// Runtime is the container-runtime contract the volume pipeline
// depends on: existence check, mount enumeration, graceful
// stop/start with retry, restart-policy inspection, and execution of
// a throwaway packer container.
type Runtime interface {
	// VolumeExists reports whether a volume with this name exists.
	VolumeExists(ctx context.Context, name string) (bool, error)

	// ContainersMounting returns every container that currently
	// mounts the named volume.
	ContainersMounting(ctx context.Context, volumeName string) ([]ContainerInfo, error)

	// StopContainer gracefully stops a running container within
	// timeout.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// StartContainer starts a previously-stopped container.
	StartContainer(ctx context.Context, id string) error

	// RunPacker executes a throwaway container that mounts
	// volumeName read-only at /volume and stagingDir read-write at
	// /staging, then runs a command to tar+gzip /volume's contents to
	// /staging/<archiveName>. It blocks until the container exits.
	RunPacker(ctx context.Context, volumeName, stagingDir, archiveName string) error
}

// AutoRestartPolicies names the container restart policies the
// pipeline treats as "this container expects to come back on its
// own".
var AutoRestartPolicies = map[string]bool{
	"always":        true,
	"unless-stopped": true,
}
