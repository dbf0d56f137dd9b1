// glimpsed is the launcher daemon: it supervises plugin subprocesses,
// listens for UI clients on a Unix socket, and routes searches and
// activations between the two.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aresa/glimpse/internal/api"
	"github.com/aresa/glimpse/internal/config"
	"github.com/aresa/glimpse/internal/dispatch"
	"github.com/aresa/glimpse/internal/history"
	"github.com/aresa/glimpse/internal/lock"
	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
	"github.com/aresa/glimpse/internal/router"
	"github.com/aresa/glimpse/internal/server"
	"github.com/aresa/glimpse/internal/supervisor"
)

var version = "dev"

// broadcastFunc adapts a closure to the router's Broadcaster seam so the
// server can be constructed after the router it feeds.
type broadcastFunc func(*protocol.Message)

func (f broadcastFunc) Broadcast(msg *protocol.Message) { f(msg) }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpsed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to configuration file")
		socketPath  = flag.String("socket", "", "override the client socket path")
		logLevel    = flag.String("log-level", "", "override the log level")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("glimpsed %s\n", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.Service.LogLevel = *logLevel
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	log.Info("starting glimpsed", "version", version, "socket", cfg.SocketPath)

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer pidLock.Release()

	var (
		hist     *history.Store
		recorder router.ActivationRecorder
	)
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer hist.Close()
		recorder = hist
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *server.Server
	r := router.New(
		router.NewRegistry(),
		broadcastFunc(func(msg *protocol.Message) { srv.Broadcast(msg) }),
		dispatch.New(cfg.Dispatch),
		recorder,
		cancel, // a client Quit shuts the whole daemon down
	)
	srv = server.New(cfg.SocketPath, r)

	candidates := supervisor.Discover(cfg.PluginDirs, log.Get())
	if len(candidates) == 0 {
		log.Warn("no plugins discovered", "dirs", cfg.PluginDirs)
	}
	sup := supervisor.New(cfg.Supervisor, r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		sup.Run(ctx, candidates)
		return nil
	})
	if cfg.API.Enabled {
		apiSrv := api.New(cfg.API.Listen, r, srv, hist)
		g.Go(func() error { return apiSrv.Run(ctx) })
	}

	err = g.Wait()
	log.Info("glimpsed stopped")
	return err
}
