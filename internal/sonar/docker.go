package sonar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/faults"
)

const containerSourceDir = "/usr/src"

// DockerScanner runs the scanner CLI image with the workspace bind-mounted
type DockerScanner struct {
	docker  *client.Client
	config  config.DockerConfig
	hostURL string
	token   string
	timeout time.Duration
}

// NewDockerScanner connects to the docker daemon described by cfg
func NewDockerScanner(cfg config.DockerConfig, hostURL, token string, timeout time.Duration) (*DockerScanner, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(cfg.Host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerScanner{
		docker:  cli,
		config:  cfg,
		hostURL: hostURL,
		token:   token,
		timeout: timeout,
	}, nil
}

// Ping checks docker daemon connectivity
func (s *DockerScanner) Ping(ctx context.Context) error {
	if _, err := s.docker.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// Close releases the docker client
func (s *DockerScanner) Close() error {
	return s.docker.Close()
}

// Scan runs one scanner container to completion and removes it
func (s *DockerScanner) Scan(ctx context.Context, dir, projectKey string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return faults.Wrap(faults.KindScannerInvocationFailed, err, "failed to resolve workspace")
	}

	if err := s.pullImage(ctx, s.config.ScannerImage); err != nil {
		return faults.Wrap(faults.KindScannerInvocationFailed, err, "failed to pull scanner image")
	}

	containerID, err := s.createContainer(ctx, abs, projectKey)
	if err != nil {
		return faults.Wrap(faults.KindScannerInvocationFailed, err, "failed to create scanner container")
	}
	defer func() {
		// ctx may already be done here
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.docker.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove scanner container", "error", err, "container", containerID)
		}
	}()

	if err := s.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return faults.Wrap(faults.KindScannerInvocationFailed, err, "failed to start scanner container")
	}

	slog.Info("scanner container started", "project", projectKey, "container", containerID)

	statusCh, errCh := s.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		details := "scanner container wait failed"
		if ctx.Err() != nil {
			details = "scanner timed out"
		}
		return faults.Wrap(faults.KindScannerInvocationFailed, err, details)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return faults.New(faults.KindScannerInvocationFailed,
				"scanner exited with code %d: %s", status.StatusCode, s.logs(containerID))
		}
	}

	return nil
}

// pullImage pulls the scanner image according to the pull policy
func (s *DockerScanner) pullImage(ctx context.Context, imageName string) error {
	if s.config.PullPolicy == "never" {
		return nil
	}

	_, _, err := s.docker.ImageInspectWithRaw(ctx, imageName)
	if err == nil && s.config.PullPolicy == "if-not-present" {
		return nil
	}

	slog.Info("pulling image", "image", imageName)
	out, err := s.docker.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer out.Close()

	_, _ = io.Copy(io.Discard, out)
	return nil
}

func (s *DockerScanner) createContainer(ctx context.Context, dir, projectKey string) (string, error) {
	env := []string{"SONAR_HOST_URL=" + s.hostURL}
	if s.token != "" {
		env = append(env, "SONAR_TOKEN="+s.token)
	}

	containerConfig := &container.Config{
		Image:      s.config.ScannerImage,
		Env:        env,
		WorkingDir: containerSourceDir,
		Cmd:        []string{"-Dsonar.projectKey=" + projectKey, "-Dsonar.projectBaseDir=" + containerSourceDir},
		Labels: map[string]string{
			"skillscout.managed": "true",
			"skillscout.project": projectKey,
		},
	}

	hostConfig := &container.HostConfig{
		Binds:       []string{dir + ":" + containerSourceDir},
		NetworkMode: container.NetworkMode(s.config.Network),
		AutoRemove:  false,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
	}

	name := fmt.Sprintf("skillscout-scan-%s", uuid.New().String()[:12])
	resp, err := s.docker.ContainerCreate(ctx, containerConfig, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// logs returns the tail of a finished container's output
func (s *DockerScanner) logs(containerID string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := s.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "50",
	})
	if err != nil {
		return "logs unavailable: " + err.Error()
	}
	defer rc.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, rc); err != nil {
		return "logs unavailable: " + err.Error()
	}
	return tail(output.String(), 2048)
}
