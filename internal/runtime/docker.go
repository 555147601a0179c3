package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// Docker drives a Docker Engine endpoint.
type Docker struct {
	cli         *client.Client
	log         *zap.Logger
	stopTimeout int
}

// DockerOptions configures NewDocker. An empty Host uses DOCKER_HOST and friends.
type DockerOptions struct {
	Host string
	// StopTimeout is how many seconds the engine waits before killing on stop.
	StopTimeout int
}

func NewDocker(opts DockerOptions, log *zap.Logger) (*Docker, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Docker{cli: cli, log: log, stopTimeout: opts.StopTimeout}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// CreateContainer creates the container, pulling the image first if the engine
// does not have it.
func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	report(spec, 0)

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{
		// lets the workload reach a control plane bound on the docker host
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if cerrdefs.IsNotFound(err) {
		d.log.Info("pulling image", zap.String("image", spec.Image))
		if err := d.pull(ctx, spec.Image); err != nil {
			return "", fmt.Errorf("pull %s: %w", spec.Image, err)
		}
		report(spec, 50)
		resp, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		d.log.Warn("container create warning", zap.String("container", resp.ID), zap.String("warning", w))
	}

	report(spec, 100)
	return resp.ID, nil
}

func (d *Docker) pull(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// the pull only completes once the progress stream is drained
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *Docker) StartContainer(ctx context.Context, handle string) error {
	return d.cli.ContainerStart(ctx, handle, container.StartOptions{})
}

func (d *Docker) StopContainer(ctx context.Context, handle string) error {
	opts := container.StopOptions{}
	if d.stopTimeout > 0 {
		timeout := d.stopTimeout
		opts.Timeout = &timeout
	}
	return d.cli.ContainerStop(ctx, handle, opts)
}

func (d *Docker) RemoveContainer(ctx context.Context, handle string) error {
	return d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{})
}

func (d *Docker) InspectContainer(ctx context.Context, handle string) (Inspection, error) {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if cerrdefs.IsNotFound(err) {
		return Inspection{}, nil
	}
	if err != nil {
		return Inspection{}, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return Inspection{Exists: true}, nil
	}
	running := info.State.Running
	return Inspection{Exists: true, Running: &running}, nil
}

// ListContainers returns the ids of every labelled container, in any state.
func (d *Docker) ListContainers(ctx context.Context) ([]string, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelInstance)),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
