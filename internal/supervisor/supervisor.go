// Package supervisor spawns each discovered plugin executable as a child
// process, bridges its stdio to the daemon, and restarts it when it exits.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/aresa/glimpse/internal/config"
	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
	"github.com/aresa/glimpse/internal/router"
)

// Supervisor runs one supervision loop per plugin executable.
type Supervisor struct {
	cfg    config.SupervisorConfig
	router *router.Router
	logger *slog.Logger

	// Stderr receives plugin stderr lines verbatim. Defaults to the
	// daemon's own stderr.
	Stderr io.Writer
}

// New creates a Supervisor feeding bridges into r.
func New(cfg config.SupervisorConfig, r *router.Router) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		router: r,
		logger: log.WithComponent("supervisor"),
		Stderr: os.Stderr,
	}
}

// Run supervises every candidate until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, candidates []Candidate) {
	var wg sync.WaitGroup
	for _, cand := range candidates {
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			s.supervise(ctx, c)
		}(cand)
	}
	wg.Wait()
}

// supervise is the infinitely-retried loop for one plugin: spawn, bridge,
// wait, back off, restart. Only ctx cancellation or an exhausted restart
// budget ends it.
func (s *Supervisor) supervise(ctx context.Context, cand Candidate) {
	logger := s.logger.With("plugin", cand.SlotID)

	restarts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx, cand)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("plugin exited", "error", err, "restarts", restarts)

		restarts++
		if s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts {
			logger.Error("restart budget exhausted, giving up", "max_restarts", s.cfg.MaxRestarts)
			return
		}
		select {
		case <-time.After(s.cfg.RestartBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce spawns the plugin process, wires its three bridges, and blocks
// until the process exits, a bridge fails, or ctx is cancelled. The
// ConnectedPlugin entry lives exactly as long as this invocation.
func (s *Supervisor) runOnce(ctx context.Context, cand Candidate) error {
	logger := log.WithPlugin(cand.SlotID)

	cmd := exec.Command(cand.Path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start plugin: %w", err)
	}
	logger.Info("plugin started", "pid", cmd.Process.Pid)

	plugin := router.NewConnectedPlugin(cand.SlotID, cand.Fingerprint, s.cfg.OutboundBuffer)
	s.router.Registry().Add(plugin)
	defer s.router.Registry().Remove(plugin)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First failure wins; the loser's send is dropped.
	failed := make(chan error, 2)

	// stdout: plugin responses into the router.
	go func() {
		sc := protocol.NewScanner(stdout, logger)
		for {
			msg, err := sc.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					failed <- fmt.Errorf("plugin closed stdout")
				} else {
					failed <- err
				}
				return
			}
			s.router.HandlePluginMessage(cand.SlotID, msg)
		}
	}()

	// stdin: the plugin's dedicated outbound channel onto its pipe.
	go func() {
		w := protocol.NewWriter(stdin)
		for {
			select {
			case <-runCtx.Done():
				return
			case msg := <-plugin.Out:
				if err := w.Write(msg); err != nil {
					failed <- fmt.Errorf("write to plugin stdin: %w", err)
					return
				}
			}
		}
	}()

	// stderr: diagnostic passthrough, never parsed.
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			fmt.Fprintln(s.Stderr, sc.Text())
		}
	}()

	select {
	case <-ctx.Done():
		// Daemon shutdown: the router has already broadcast Quit where it
		// applies; close stdin so a well-behaved plugin exits, then make sure.
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return ctx.Err()
	case err := <-failed:
		cancel()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
}
