package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
)

// runner executes a command line on a runtime and returns stdout.
type runner interface {
	run(ctx context.Context, rt Runtime, args []string) (string, error)
}

// execRunner runs commands via os/exec, locally or wrapped in ssh.
type execRunner struct{}

func (execRunner) run(ctx context.Context, rt Runtime, args []string) (string, error) {
	argv := args
	if !rt.IsLocal() {
		argv = sshArgv(rt, args)
	}
	out, stderr, err := runOnce(ctx, argv)
	if err != nil && !rt.IsLocal() {
		classified := classifySSHError(stderr, err)
		if Transient(classified) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(constants.SSHRetryDelay):
			}
			out, stderr, err = runOnce(ctx, argv)
			if err != nil {
				return out, classifySSHError(stderr, err)
			}
			return out, nil
		}
		return out, classified
	}
	if err != nil {
		return out, commandError(argv, stderr, err)
	}
	return out, nil
}

func runOnce(ctx context.Context, argv []string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// sshArgv wraps a command for remote execution. The command runs through a
// login shell so the remote PATH includes user-installed binaries; the whole
// command line crosses two quoting boundaries and is single-quoted once for
// the remote shell.
func sshArgv(rt Runtime, args []string) []string {
	host, port, user, identity, config := rt.SSHTarget()
	argv := []string{
		"ssh",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(constants.SSHConnectTimeout.Seconds())),
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "BatchMode=yes",
	}
	if port != 0 && port != 22 {
		argv = append(argv, "-p", strconv.Itoa(port))
	}
	if identity != "" {
		argv = append(argv, "-i", identity)
	}
	if config != "" {
		argv = append(argv, "-F", config)
	}
	target := host
	if user != "" {
		target = user + "@" + host
	}
	argv = append(argv, target, "bash", "-lc", singleQuote(shellJoin(args)))
	return argv
}

// classifySSHError maps ssh stderr text onto the driver's sentinel errors,
// wrapped in a RuntimeUnavailable app error.
func classifySSHError(stderr string, err error) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "permission denied") || strings.Contains(s, "authentication failed") ||
		strings.Contains(s, "host key verification failed"):
		return apperrors.RuntimeUnavailable("ssh authentication denied", fmt.Errorf("%w: %s", ErrAuthDenied, firstLine(stderr)))
	case strings.Contains(s, "connection refused"):
		return apperrors.RuntimeUnavailable("ssh connection refused", fmt.Errorf("%w: %s", ErrConnectionRefused, firstLine(stderr)))
	case strings.Contains(s, "timed out") || strings.Contains(s, "timeout"):
		return apperrors.RuntimeUnavailable("ssh connection timed out", fmt.Errorf("%w: %s", ErrConnectTimeout, firstLine(stderr)))
	case strings.Contains(s, "command not found") && strings.Contains(s, "tmux"):
		return apperrors.RuntimeUnavailable("tmux not installed on remote host", fmt.Errorf("%w: %s", ErrMuxNotInstalled, firstLine(stderr)))
	default:
		return apperrors.RuntimeUnavailable("ssh command failed", fmt.Errorf("%v: %s", err, firstLine(stderr)))
	}
}

func commandError(argv []string, stderr string, err error) error {
	if strings.Contains(stderr, "command not found") || strings.Contains(err.Error(), "executable file not found") {
		return apperrors.RuntimeUnavailable("tmux not installed", fmt.Errorf("%w: %s", ErrMuxNotInstalled, firstLine(stderr)))
	}
	return fmt.Errorf("%s: %v: %s", argv[0], err, firstLine(stderr))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
