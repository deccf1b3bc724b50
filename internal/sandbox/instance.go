package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// exec output is capped so a runaway command can't exhaust server
	// memory. The tail is kept: that's where errors land.
	execOutputCap = 16 * 1024

	deskHome        = "/home/desk"
	browserCmd      = "chromium"
	browserDataDir  = deskHome + "/.config/chromium"
	screenshotPath  = "/tmp/.deskshot.png"
	authStateTarget = deskHome + "/.config"
)

// Instance is a live desktop handle. All operations run inside the
// instance's container and honor the passed context.
type Instance interface {
	ID() string
	SessionID() string
	LaunchTime() time.Time
	StreamURL() string

	// Exec runs a shell command on the desktop and returns its
	// demultiplexed output, each stream capped to the most recent
	// execOutputCap bytes.
	Exec(ctx context.Context, command string) (stdout, stderr string, exitCode int, err error)

	// Screenshot captures the display and returns base64-encoded PNG data.
	Screenshot(ctx context.Context) (string, error)

	// Xdotool runs an xdotool subcommand against the display.
	Xdotool(ctx context.Context, args ...string) (string, error)

	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error

	// StartBrowser launches the desktop browser in the background.
	StartBrowser(ctx context.Context) error

	// AuthenticateBrowser restores a saved browser auth state into the
	// instance, then starts the browser with it.
	AuthenticateBrowser(ctx context.Context, authStateID string) error
}

type dockerInstance struct {
	cli        *client.Client
	id         string
	sessionID  string
	launchTime time.Time
	streamURL  string
	authDir    string
}

func (i *dockerInstance) ID() string            { return i.id }
func (i *dockerInstance) SessionID() string     { return i.sessionID }
func (i *dockerInstance) LaunchTime() time.Time { return i.launchTime }
func (i *dockerInstance) StreamURL() string     { return i.streamURL }

// waitReady polls for the X display socket so callers never hand the
// agent a desktop that is still booting.
func (i *dockerInstance) waitReady(ctx context.Context) error {
	for attempt := 0; attempt < readyAttempts; attempt++ {
		_, _, code, err := i.execRaw(ctx, []string{"sh", "-c", "test -S /tmp/.X11-unix/X0"}, nil)
		if err == nil && code == 0 {
			slog.Debug("Instance display ready", "container_id", i.id, "attempts", attempt+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyDelay):
		}
	}
	return fmt.Errorf("instance %s: display did not become ready", i.id)
}

func (i *dockerInstance) Exec(ctx context.Context, command string) (string, string, int, error) {
	return i.execRaw(ctx, []string{"sh", "-lc", command}, nil)
}

// execRaw creates a non-TTY exec in the container, feeds it optional
// stdin, and demultiplexes its output into tail-capped buffers.
func (i *dockerInstance) execRaw(ctx context.Context, cmd []string, stdin []byte) (string, string, int, error) {
	execResp, err := i.cli.ContainerExecCreate(ctx, i.id, container.ExecOptions{
		Cmd:          cmd,
		Env:          []string{displayEnv},
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  len(stdin) > 0,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("create exec in instance %s: %w", i.id, err)
	}

	attach, err := i.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("attach exec in instance %s: %w", i.id, err)
	}
	defer attach.Close()

	if len(stdin) > 0 {
		if _, err := attach.Conn.Write(stdin); err != nil {
			return "", "", 0, fmt.Errorf("write exec stdin: %w", err)
		}
		if err := attach.CloseWrite(); err != nil {
			return "", "", 0, fmt.Errorf("close exec stdin: %w", err)
		}
	}

	stdout := NewTailBuffer(execOutputCap)
	stderr := NewTailBuffer(execOutputCap)
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return "", "", 0, fmt.Errorf("read exec output: %w", err)
	}
	if ctx.Err() != nil {
		return "", "", 0, ctx.Err()
	}

	inspect, err := i.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("inspect exec: %w", err)
	}

	out := stdout.String()
	if stdout.Truncated() {
		out = "[earlier output truncated]\n" + out
	}
	errOut := stderr.String()
	if stderr.Truncated() {
		errOut = "[earlier output truncated]\n" + errOut
	}
	return out, errOut, inspect.ExitCode, nil
}

// execDetached starts a command in the container without waiting for it.
func (i *dockerInstance) execDetached(ctx context.Context, cmd []string) error {
	execResp, err := i.cli.ContainerExecCreate(ctx, i.id, container.ExecOptions{
		Cmd: cmd,
		Env: []string{displayEnv},
	})
	if err != nil {
		return fmt.Errorf("create exec in instance %s: %w", i.id, err)
	}
	if err := i.cli.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("start detached exec: %w", err)
	}
	return nil
}

func (i *dockerInstance) Screenshot(ctx context.Context) (string, error) {
	cmd := fmt.Sprintf("scrot -z -o %s && base64 -w0 %s", screenshotPath, screenshotPath)
	stdout, stderr, code, err := i.execRaw(ctx, []string{"sh", "-c", cmd}, nil)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("screenshot failed: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

func (i *dockerInstance) Xdotool(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, code, err := i.execRaw(ctx, append([]string{"xdotool"}, args...), nil)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("xdotool %s failed: %s", args[0], strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

func (i *dockerInstance) ReadFile(ctx context.Context, path string) (string, error) {
	stdout, stderr, code, err := i.execRaw(ctx, []string{"cat", path}, nil)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("read %s: %s", path, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (i *dockerInstance) WriteFile(ctx context.Context, path, content string) error {
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(filepath.Dir(path)), shellQuote(path))
	_, stderr, code, err := i.execRaw(ctx, []string{"sh", "-c", cmd}, []byte(content))
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("write %s: %s", path, strings.TrimSpace(stderr))
	}
	return nil
}

func (i *dockerInstance) StartBrowser(ctx context.Context) error {
	cmd := fmt.Sprintf("%s --no-sandbox --start-maximized --user-data-dir=%s >/dev/null 2>&1", browserCmd, browserDataDir)
	if err := i.execDetached(ctx, []string{"sh", "-c", cmd}); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	return nil
}

// AuthenticateBrowser copies a saved auth state tarball into the browser
// profile directory, then launches the browser with the restored profile.
// The tarball is expected to contain a chromium/ top-level entry.
func (i *dockerInstance) AuthenticateBrowser(ctx context.Context, authStateID string) error {
	tarPath := filepath.Join(i.authDir, authStateID+".tar")
	f, err := os.Open(tarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("auth state %s not found", authStateID)
		}
		return fmt.Errorf("open auth state %s: %w", authStateID, err)
	}
	defer f.Close()

	if err := i.cli.CopyToContainer(ctx, i.id, authStateTarget, f, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("restore auth state %s: %w", authStateID, err)
	}

	// The profile lands owned by root; hand it back to the desk user.
	if _, _, _, err := i.execAsRoot(ctx, fmt.Sprintf("chown -R desk:desk %s", shellQuote(browserDataDir))); err != nil {
		slog.Warn("Failed to chown restored auth state", "container_id", i.id, "error", err)
	}

	slog.Info("Browser auth state restored", "container_id", i.id, "auth_state_id", authStateID)
	return i.StartBrowser(ctx)
}

func (i *dockerInstance) execAsRoot(ctx context.Context, command string) (string, string, int, error) {
	execResp, err := i.cli.ContainerExecCreate(ctx, i.id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		User:         "root",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("create root exec in instance %s: %w", i.id, err)
	}
	attach, err := i.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("attach root exec: %w", err)
	}
	defer attach.Close()

	stdout := NewTailBuffer(execOutputCap)
	stderr := NewTailBuffer(execOutputCap)
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return "", "", 0, fmt.Errorf("read root exec output: %w", err)
	}
	inspect, err := i.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("inspect root exec: %w", err)
	}
	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

// shellQuote wraps s in single quotes, escaping embedded single quotes,
// so paths survive the shell unharmed.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
