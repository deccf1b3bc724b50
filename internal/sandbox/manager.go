// Package sandbox provides Docker-backed virtual desktop instances for
// agent sessions. Each session owns exactly one instance: a container
// running Xvfb on display :0, a VNC/noVNC stack on port 6080 for the live
// view, and the xdotool/scrot utilities the agent capabilities drive
// through exec.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// Container configuration.
	streamPort      = "6080/tcp"
	displayEnv      = "DISPLAY=:0"
	stopTimeoutSecs = 10

	// Resource limits. Desktops are heavier than plain shells: Chromium
	// alone wants real memory and a large /dev/shm.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024
	cpuQuota         = 200000 // 2 CPUs
	pidsLimit        = 1024
	shmSizeBytes     = 512 * 1024 * 1024

	// Labels the reaper uses to find instances this server owns.
	labelManaged = "deskloop.managed"
	labelSession = "deskloop.session"
	labelUser    = "deskloop.user"

	// Desk network configuration.
	deskNetwork = "deskloop-desks"
	deskSubnet  = "172.29.0.0/16"

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond

	readyAttempts = 60
	readyDelay    = 500 * time.Millisecond
)

// StartOptions identifies the session an instance is provisioned for.
type StartOptions struct {
	SessionID string
	UserID    string
}

// InstanceInfo describes one managed container, for the reaper sweep.
type InstanceInfo struct {
	ContainerID string
	SessionID   string
	CreatedAt   time.Time
}

// Manager defines the interface for provisioning desk instances.
type Manager interface {
	// StartInstance creates and starts a fresh instance for one session.
	StartInstance(ctx context.Context, opts StartOptions) (Instance, error)

	// StopInstance stops and removes an instance's container. Idempotent.
	StopInstance(ctx context.Context, containerID string) error

	// ListInstances returns all managed instances, running or not.
	ListInstances(ctx context.Context) ([]InstanceInfo, error)

	// EnsureNetwork creates the desk bridge network if it doesn't exist.
	EnsureNetwork(ctx context.Context) (string, error)
}

// ManagerOptions configures a DockerManager.
type ManagerOptions struct {
	Image        string
	Runtime      string // "" = default (runc), "runsc" = gVisor
	StreamHost   string // public host clients use to reach the noVNC stream
	AuthStateDir string // saved browser auth state tarballs
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli  *client.Client
	opts ManagerOptions
}

// NewDockerManager creates a new Docker-backed instance manager.
func NewDockerManager(opts ManagerOptions) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	runtime := opts.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "image", opts.Image, "runtime", runtime)
	return &DockerManager{cli: cli, opts: opts}, nil
}

// StartInstance creates and starts a fresh desk container for one session.
// Instances are never shared or reused: the container is named after the
// session and torn down with it.
func (m *DockerManager) StartInstance(ctx context.Context, opts StartOptions) (Instance, error) {
	containerName := fmt.Sprintf("desk-%s", opts.SessionID)
	port := nat.Port(streamPort)

	config := &container.Config{
		Image: m.opts.Image,
		Env:   []string{displayEnv},
		Labels: map[string]string{
			labelManaged: "1",
			labelSession: opts.SessionID,
			labelUser:    opts.UserID,
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		Runtime:     m.opts.Runtime,
		NetworkMode: container.NetworkMode(deskNetwork),
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
		},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		ShmSize: shmSizeBytes,
		DNS:     []string{"8.8.8.8", "8.8.4.4"},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return nil, fmt.Errorf("create instance: %w", createErr)
		}

		// A crashed predecessor can leave the named container briefly.
		// Force-remove by name and retry shortly.
		slog.Warn("Instance name conflict during create, retrying",
			"session_id", opts.SessionID,
			"container_name", containerName,
			"attempt", i+1,
			"error", createErr,
		)

		if inspect, inspectErr := m.cli.ContainerInspect(ctx, containerName); inspectErr == nil {
			if stopErr := m.StopInstance(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return nil, fmt.Errorf("create instance after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if stopErr := m.StopInstance(ctx, resp.ID); stopErr != nil {
			slog.Warn("Failed to remove instance after start failure", "container_id", resp.ID, "error", stopErr)
		}
		return nil, fmt.Errorf("start instance %s: %w", resp.ID, err)
	}

	inst, err := m.newInstance(ctx, resp.ID, opts.SessionID)
	if err != nil {
		if stopErr := m.StopInstance(ctx, resp.ID); stopErr != nil {
			slog.Warn("Failed to remove instance after setup failure", "container_id", resp.ID, "error", stopErr)
		}
		return nil, err
	}

	slog.Info("Instance started",
		"container_id", resp.ID,
		"session_id", opts.SessionID,
		"stream_url", inst.StreamURL(),
	)
	return inst, nil
}

// newInstance inspects the started container, resolves the published
// stream port, and waits for the desktop display to come up.
func (m *DockerManager) newInstance(ctx context.Context, containerID, sessionID string) (*dockerInstance, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect instance %s: %w", containerID, err)
	}

	bindings := inspect.NetworkSettings.Ports[nat.Port(streamPort)]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return nil, fmt.Errorf("instance %s: stream port %s not published", containerID, streamPort)
	}
	streamURL := fmt.Sprintf("http://%s:%s/vnc.html?autoconnect=1", m.opts.StreamHost, bindings[0].HostPort)

	launchTime := time.Now().UTC()
	if created, parseErr := time.Parse(time.RFC3339Nano, inspect.Created); parseErr == nil {
		launchTime = created
	}

	inst := &dockerInstance{
		cli:        m.cli,
		id:         containerID,
		sessionID:  sessionID,
		launchTime: launchTime,
		streamURL:  streamURL,
		authDir:    m.opts.AuthStateDir,
	}

	if err := inst.waitReady(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// StopInstance stops and removes an instance's container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopInstance(ctx context.Context, containerID string) error {
	slog.Info("Stopping instance", "container_id", containerID)

	_, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Instance already removed", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("inspect instance %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		// Container may already be stopped or being removed by another path.
		if errdefs.IsNotFound(err) {
			slog.Debug("Instance already stopped/removed", "container_id", containerID)
		} else if ctx.Err() != nil {
			slog.Debug("Context canceled during stop, continuing with force removal", "container_id", containerID)
		} else {
			slog.Debug("Instance stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Instance already removed", "container_id", containerID)
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Instance removal already in progress", "container_id", containerID)
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, instance may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove instance %s: %w", containerID, err)
	}

	slog.Info("Instance stopped and removed", "container_id", containerID)
	return nil
}

// ListInstances returns every managed desk container, running or not.
func (m *DockerManager) ListInstances(ctx context.Context) ([]InstanceInfo, error) {
	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=1")),
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	infos := make([]InstanceInfo, 0, len(containers))
	for _, c := range containers {
		infos = append(infos, InstanceInfo{
			ContainerID: c.ID,
			SessionID:   c.Labels[labelSession],
			CreatedAt:   time.Unix(c.Created, 0),
		})
	}
	return infos, nil
}

// EnsureNetwork creates the desk bridge network if it doesn't exist.
func (m *DockerManager) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}

	for _, nw := range networks {
		if nw.Name == deskNetwork {
			slog.Info("Desk network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	createResp, err := m.cli.NetworkCreate(ctx, deskNetwork, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{
				{
					Subnet: deskSubnet,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", deskNetwork, err)
	}

	slog.Info("Desk network created", "network_id", createResp.ID, "subnet", deskSubnet)
	return createResp.ID, nil
}

func ptr[T any](v T) *T {
	return &v
}
