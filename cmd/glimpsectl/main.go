// glimpsectl is a line-mode client for a running glimpsed: it sends one
// command over the daemon socket and prints any responses. Meant for
// scripting and for poking at the daemon without a launcher UI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/aresa/glimpse/internal/config"
	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glimpsectl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: glimpsectl [flags] <command> [args]

commands:
  search <query>            fan a search out and print responses
  activate <match> <action> activate an entry of the current match table
  cancel                    cancel the in-flight search
  quit                      ask the daemon to shut down

flags:
`)
	flag.PrintDefaults()
}

func run() error {
	var (
		socketPath = flag.String("socket", "", "daemon socket path (default: config default or GLIMPSE_SOCKET)")
		target     = flag.String("target", "", "address a search to one plugin id")
		wait       = flag.Duration("wait", 2*time.Second, "how long to collect search responses")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return errors.New("missing command")
	}

	path := *socketPath
	if path == "" {
		path = config.Defaults().SocketPath
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()
	w := protocol.NewWriter(conn)

	switch args[0] {
	case "search":
		if len(args) != 2 {
			return errors.New("search takes exactly one query argument")
		}
		// Each invocation starts a fresh request generation; a wall-clock id
		// keeps it ahead of whatever generation was active before.
		id := uint64(time.Now().UnixMilli())
		req := protocol.NewRequest(id, protocol.Method{
			Name:  protocol.MethodSearch,
			Query: args[1],
		})
		req.Target = *target
		if err := w.Write(req); err != nil {
			return fmt.Errorf("send search: %w", err)
		}
		return printResponses(conn, *wait)

	case "activate":
		if len(args) != 3 {
			return errors.New("activate takes match and action indices")
		}
		matchIdx, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid match index %q", args[1])
		}
		actionIdx, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid action index %q", args[2])
		}
		return w.Write(protocol.NewRequest(uint64(time.Now().UnixMilli()), protocol.Method{
			Name:        protocol.MethodActivate,
			MatchIndex:  uint(matchIdx),
			ActionIndex: uint(actionIdx),
		}))

	case "cancel":
		return w.Write(protocol.NewNotification(protocol.Method{Name: protocol.MethodCancel}))

	case "quit":
		return w.Write(protocol.NewNotification(protocol.Method{Name: protocol.MethodQuit}))

	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// printResponses copies daemon responses to stdout, one JSON line each,
// until the collection window closes.
func printResponses(conn net.Conn, wait time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	sc := protocol.NewScanner(conn, log.Get())
	for {
		msg, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("read responses: %w", err)
		}
		line, err := protocol.EncodeMessage(msg)
		if err != nil {
			return err
		}
		os.Stdout.Write(line)
	}
}
