// Package runtime is the library half of every plugin executable: it reads
// requests from stdin, runs the plugin's handler, and writes responses to
// stdout, enforcing the single-in-flight-request contract.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

// Handler is the seam where plugin business logic plugs in. Handle must
// honor ctx cancellation: a superseded request's context is cancelled and
// its eventual result discarded.
type Handler interface {
	Metadata() protocol.Metadata
	Handle(ctx context.Context, m protocol.Method) (*protocol.MethodResult, error)
}

// Serve runs h over the process's stdio until the daemon closes the pipe or
// sends Quit. Intended as the last call in a plugin's main.
func Serve(h Handler) error {
	return Run(context.Background(), h, os.Stdin, os.Stdout)
}

// Run drives h over the given streams. It returns nil on a clean shutdown
// (EOF or Quit) and an error when writing to out fails; a write failure
// means the daemon side is gone and the plugin process should exit.
func Run(ctx context.Context, h Handler, in io.Reader, out io.Writer) error {
	logger := log.WithComponent("runtime")
	w := protocol.NewWriter(out)

	// Identify ourselves before accepting any work.
	if err := w.Write(protocol.AuthenticateResponse(h.Metadata())); err != nil {
		return fmt.Errorf("send authenticate handshake: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	fatal := make(chan error, 1)
	reportFatal := func(err error) {
		select {
		case fatal <- err:
		default:
		}
		cancelRun()
	}

	msgs := make(chan *protocol.Message)
	go func() {
		defer close(msgs)
		s := protocol.NewScanner(in, logger)
		for {
			msg, err := s.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("request stream failed", "error", err)
				}
				return
			}
			select {
			case msgs <- msg:
			case <-runCtx.Done():
				return
			}
		}
	}()

	// The single request slot. Only this loop touches it, so no lock: every
	// start and every preemption happens here.
	var inflight context.CancelFunc
	preempt := func() {
		if inflight != nil {
			inflight()
			inflight = nil
		}
	}
	defer preempt()

	for {
		select {
		case <-runCtx.Done():
			select {
			case err := <-fatal:
				return err
			default:
				return runCtx.Err()
			}
		case msg, ok := <-msgs:
			if !ok {
				return nil // EOF: daemon closed our stdin
			}
			switch msg.Type {
			case protocol.MessageRequest:
				preempt()
				inflight = start(runCtx, h, w, msg, reportFatal)
			case protocol.MessageNotification:
				switch msg.Method.Name {
				case protocol.MethodCancel:
					preempt()
				case protocol.MethodQuit:
					preempt()
					return nil
				default:
					// Callbacks and the like run through the same slot so
					// at most one handler executes at any time. No reply.
					preempt()
					inflight = start(runCtx, h, w, msg, reportFatal)
				}
			default:
				logger.Debug("ignoring unexpected message", "type", msg.Type)
			}
		}
	}
}

// start launches the handler for msg and returns the cancel handle that
// preemption uses. Requests get a response; notifications do not.
func start(parent context.Context, h Handler, w *protocol.Writer, msg *protocol.Message, reportFatal func(error)) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		result, err := safeHandle(ctx, h, *msg.Method)
		if ctx.Err() != nil {
			// Superseded or cancelled: the daemon has moved on.
			return
		}
		if msg.Type != protocol.MessageRequest {
			if err != nil {
				log.WithComponent("runtime").Warn("notification handler failed",
					"method", msg.Method.Name, "error", err)
			}
			return
		}

		var reply *protocol.Message
		switch {
		case err != nil:
			reply = protocol.NewErrorResponse(msg.ID, err.Error())
		case result == nil:
			reply = protocol.NewResultResponse(msg.ID, protocol.MethodResult{Kind: protocol.ResultNone})
		default:
			reply = protocol.NewResultResponse(msg.ID, *result)
		}
		if werr := w.Write(reply); werr != nil {
			reportFatal(fmt.Errorf("write response: %w", werr))
		}
	}()
	return cancel
}

// safeHandle converts a handler panic into an ordinary error so a faulty
// handler cannot kill the read/write loops.
func safeHandle(ctx context.Context, h Handler, m protocol.Method) (result *protocol.MethodResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("plugin handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, m)
}
