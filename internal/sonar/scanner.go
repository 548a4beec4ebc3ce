package sonar

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/terra-clan/skillscout/internal/faults"
)

// Scanner runs the analysis scanner against a workspace holding a
// properties file. A non-nil error means the scan was not submitted.
type Scanner interface {
	Scan(ctx context.Context, dir, projectKey string) error
}

// ExecScanner runs a locally installed sonar-scanner binary
type ExecScanner struct {
	path    string
	hostURL string
	token   string
	timeout time.Duration
}

// NewExecScanner creates a scanner invoking the binary at path
func NewExecScanner(path, hostURL, token string, timeout time.Duration) *ExecScanner {
	return &ExecScanner{path: path, hostURL: hostURL, token: token, timeout: timeout}
}

// Scan runs the scanner with dir as working directory
func (s *ExecScanner) Scan(ctx context.Context, dir, projectKey string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{
		"-Dsonar.projectKey=" + projectKey,
		"-Dsonar.sources=.",
		"-Dsonar.host.url=" + s.hostURL,
	}
	if s.token != "" {
		args = append(args, "-Dsonar.token="+s.token)
	}

	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	slog.Info("running scanner", "project", projectKey, "dir", dir)
	if err := cmd.Run(); err != nil {
		details := tail(output.String(), 2048)
		if ctx.Err() != nil {
			details = "scanner timed out: " + details
		}
		return faults.Wrap(faults.KindScannerInvocationFailed, err, details)
	}
	return nil
}

// tail returns the last n bytes of s, trimmed
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	if s == "" {
		return "no scanner output"
	}
	return s
}

// NewScanner picks the scanner implementation for mode
func NewScanner(mode string, local *ExecScanner, container *DockerScanner) (Scanner, error) {
	switch mode {
	case "exec":
		if local == nil {
			return nil, fmt.Errorf("exec scanner not configured")
		}
		return local, nil
	case "docker":
		if container == nil {
			return nil, fmt.Errorf("docker scanner not configured")
		}
		return container, nil
	}
	return nil, fmt.Errorf("unsupported scanner mode: %s", mode)
}
