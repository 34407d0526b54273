// Package dynsec manages Mosquitto's dynamic-security plugin state through
// the mosquitto_ctrl command line tool.
package dynsec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/bunkerm/mqadmin/pkg/metrics"
)

// DefaultCommandTimeout bounds a single mosquitto_ctrl invocation.
const DefaultCommandTimeout = 15 * time.Second

// Runner executes one dynsec subcommand and returns its stdout. stdin is
// passed to the process when non-empty (mosquitto_ctrl reads passwords from
// stdin for some commands).
type Runner interface {
	Run(ctx context.Context, args []string, stdin string) (string, error)
}

// CommandError is returned when mosquitto_ctrl exits non-zero. Stderr holds
// the tool's diagnostic; Command holds the dynsec subcommand name only, never
// its arguments, since those may carry credentials.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("dynsec: %s exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// CtrlConfig configures the mosquitto_ctrl invocation.
type CtrlConfig struct {
	// Binary is the mosquitto_ctrl executable. Empty means "mosquitto_ctrl"
	// resolved from PATH.
	Binary string

	// AdminUsername and AdminPassword authenticate against the broker's
	// dynamic-security admin client.
	AdminUsername string
	AdminPassword string

	// Timeout bounds each invocation. Zero means DefaultCommandTimeout.
	Timeout time.Duration
}

// CtrlRunner runs mosquitto_ctrl as a subprocess.
type CtrlRunner struct {
	cfg CtrlConfig
	log *slog.Logger
}

// NewCtrlRunner creates a Runner invoking mosquitto_ctrl with the configured
// admin credentials.
func NewCtrlRunner(cfg CtrlConfig, log *slog.Logger) *CtrlRunner {
	if cfg.Binary == "" {
		cfg.Binary = "mosquitto_ctrl"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	return &CtrlRunner{cfg: cfg, log: log}
}

// Run executes `mosquitto_ctrl -u <admin> -P <pass> dynsec <args...>`.
func (r *CtrlRunner) Run(ctx context.Context, args []string, stdin string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("dynsec: empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	full := append([]string{
		"-u", r.cfg.AdminUsername,
		"-P", r.cfg.AdminPassword,
		"dynsec",
	}, args...)

	cmd := exec.CommandContext(ctx, r.cfg.Binary, full...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("running mosquitto_ctrl", "command", args[0])

	err := cmd.Run()
	if err != nil {
		metrics.CtrlCommandsTotal.WithLabelValues(args[0], metrics.OutcomeError).Inc()
		if ctx.Err() != nil {
			return "", fmt.Errorf("dynsec: %s: %w", args[0], ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &CommandError{
				Command:  args[0],
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return "", fmt.Errorf("dynsec: run %s: %w", args[0], err)
	}
	metrics.CtrlCommandsTotal.WithLabelValues(args[0], metrics.OutcomeOK).Inc()
	return stdout.String(), nil
}
