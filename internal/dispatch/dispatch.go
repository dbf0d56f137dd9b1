// Package dispatch executes resolved actions by handing them to platform
// utilities. Everything here is fire-and-forget: the launcher UI has already
// closed by the time a spawned program could fail, so failures are logged
// and never surface to clients.
package dispatch

import (
	"log/slog"
	"os/exec"
	"strings"
	"syscall"

	"github.com/aresa/glimpse/internal/config"
	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

// Dispatcher runs actions with the commands named in the configuration.
type Dispatcher struct {
	cfg    config.DispatchConfig
	logger *slog.Logger
}

// New creates a Dispatcher using the configured platform commands.
func New(cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{cfg: cfg, logger: log.WithComponent("dispatch")}
}

// Dispatch runs the action in the background and returns immediately.
func (d *Dispatcher) Dispatch(a protocol.Action) {
	go d.run(a)
}

func (d *Dispatcher) run(a protocol.Action) {
	switch a.Type {
	case protocol.ActionExec:
		d.spawn(a.Command, a.Args, "")
	case protocol.ActionLaunch:
		args := append([]string{a.AppID}, a.Args...)
		if a.NewInstance {
			// gtk-launch starts a fresh instance either way; the flag only
			// matters for DBus-activated launchers.
			d.logger.Debug("launching new instance", "app_id", a.AppID)
		}
		d.spawn(d.cfg.LauncherCmd, args, "")
	case protocol.ActionClipboard:
		d.spawn(d.cfg.ClipboardCmd, nil, a.Text)
	case protocol.ActionOpen:
		d.spawn(d.cfg.OpenerCmd, []string{a.URI}, "")
	case protocol.ActionCallback:
		// Callbacks route back to the owning plugin; they never reach here.
		d.logger.Warn("callback action cannot be dispatched locally", "key", a.Key)
	default:
		d.logger.Warn("unknown action type", "type", a.Type)
	}
}

// spawn starts the command in its own session so it outlives the daemon,
// then reaps it. stdin is fed to the child when non-empty.
func (d *Dispatcher) spawn(command string, args []string, stdin string) {
	if command == "" {
		d.logger.Warn("action has no command to run")
		return
	}
	cmd := exec.Command(command, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	if err := cmd.Start(); err != nil {
		d.logger.Error("failed to start action command", "command", command, "error", err)
		return
	}
	d.logger.Info("action dispatched", "command", command, "pid", cmd.Process.Pid)
	if err := cmd.Wait(); err != nil {
		d.logger.Warn("action command exited with error", "command", command, "error", err)
	}
}
