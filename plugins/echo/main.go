// The echo plugin returns the query itself as a single match whose action
// copies it to the clipboard. Useful as the smallest possible end-to-end
// check of a running daemon.
package main

import (
	"context"
	"os"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
	"github.com/aresa/glimpse/internal/runtime"
)

type echoPlugin struct{}

func (echoPlugin) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:      "me.aresa.glimpse.echo",
		Name:    "Echo",
		Version: "0.2.0",
		Author:  "glimpse developers",
	}
}

func (echoPlugin) Handle(_ context.Context, m protocol.Method) (*protocol.MethodResult, error) {
	if m.Name != protocol.MethodSearch || m.Query == "" {
		return nil, nil
	}
	return &protocol.MethodResult{
		Kind: protocol.ResultMatches,
		Matches: []protocol.Match{{
			Title:       m.Query,
			Description: "Copy to clipboard",
			Icon:        "edit-copy",
			Score:       1,
			Actions: []protocol.MatchAction{{
				Title:           "Copy",
				CloseOnActivate: true,
				Action: protocol.Action{
					Type: protocol.ActionClipboard,
					Text: m.Query,
				},
			}},
		}},
	}, nil
}

func main() {
	log.Setup("INFO", "text")
	if err := runtime.Serve(echoPlugin{}); err != nil {
		log.Error("plugin exiting", "error", err)
		os.Exit(1)
	}
}
