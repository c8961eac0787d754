package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
)

// ErrRecoveryDisabled is returned when no restart command is configured.
var ErrRecoveryDisabled = errors.New("store restart command not configured")

// CommandRestarter runs an operator-supplied command, such as
// "systemctl restart mongod" or "docker restart mongo".
type CommandRestarter struct {
	command []string
	timeout time.Duration
	log     *logger.Logger
}

// NewCommandRestarter runs command to restart the store. An empty command disables restarts.
func NewCommandRestarter(command []string, timeout time.Duration, log *logger.Logger) *CommandRestarter {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &CommandRestarter{command: command, timeout: timeout, log: log.WithComponent("restarter")}
}

func (r *CommandRestarter) Restart(ctx context.Context) error {
	if len(r.command) == 0 || r.command[0] == "" {
		return ErrRecoveryDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, r.command[0], r.command[1:]...).CombinedOutput()
	fields := logger.Fields{
		"command":              strings.Join(r.command, " "),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.log.WithFields(fields).WithField("output", strings.TrimSpace(string(out))).WithError(err).Error("Restart command failed")
		return fmt.Errorf("restart command: %w", err)
	}
	r.log.WithFields(fields).Info("Restart command succeeded")
	return nil
}
