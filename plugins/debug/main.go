// The debug plugin serves a fixed match table covering every action
// variant, plus trigger queries that misbehave on purpose. It exists to
// exercise the daemon: activation routing, error replies, panic recovery,
// and cancellation can all be driven from a client with nothing but this
// plugin installed.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
	"github.com/aresa/glimpse/internal/runtime"
)

type debugPlugin struct {
	table []protocol.Match
}

func (p *debugPlugin) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          "me.aresa.glimpse.debug",
		Name:        "Debug",
		Version:     "0.2.0",
		Description: "Fixed matches for exercising the daemon",
		Author:      "glimpse developers",
	}
}

func (p *debugPlugin) Handle(ctx context.Context, m protocol.Method) (*protocol.MethodResult, error) {
	switch m.Name {
	case protocol.MethodSearch:
		return p.search(ctx, m.Query)
	case protocol.MethodCallAction:
		log.Info("callback received", "key", m.Key, "params", m.Params)
		return nil, nil
	default:
		return nil, nil
	}
}

func (p *debugPlugin) search(ctx context.Context, query string) (*protocol.MethodResult, error) {
	switch query {
	case "panic":
		panic("debug plugin panic requested")
	case "error":
		return nil, errors.New("debug plugin error requested")
	case "slow":
		// Holds the request slot so cancellation and preemption can be
		// observed from the outside.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}

	needle := strings.ToLower(query)
	var matches []protocol.Match
	for _, m := range p.table {
		if needle == "" || strings.Contains(strings.ToLower(m.Title), needle) {
			matches = append(matches, m)
		}
	}
	return &protocol.MethodResult{Kind: protocol.ResultMatches, Matches: matches}, nil
}

func fixedTable() []protocol.Match {
	return []protocol.Match{
		{
			Title:       "Exec: print date",
			Description: "Runs date via the exec action",
			Icon:        "utilities-terminal",
			Score:       50,
			Actions: []protocol.MatchAction{{
				Title:           "Run",
				CloseOnActivate: true,
				Action: protocol.Action{
					Type:    protocol.ActionExec,
					Command: "date",
				},
			}},
		},
		{
			Title:       "Launch: text editor",
			Description: "Starts an application by desktop id",
			Icon:        "accessories-text-editor",
			Score:       40,
			Actions: []protocol.MatchAction{{
				Title:           "Launch",
				CloseOnActivate: true,
				Action: protocol.Action{
					Type:  protocol.ActionLaunch,
					AppID: "org.gnome.TextEditor",
				},
			}},
		},
		{
			Title:       "Clipboard: copy greeting",
			Description: "Places text on the clipboard",
			Icon:        "edit-copy",
			Score:       30,
			Actions: []protocol.MatchAction{{
				Title:           "Copy",
				CloseOnActivate: true,
				Action: protocol.Action{
					Type: protocol.ActionClipboard,
					Text: "hello from the debug plugin",
				},
			}},
		},
		{
			Title:       "Open: example.com",
			Description: "Opens a URI with the default handler",
			Icon:        "web-browser",
			Score:       20,
			Actions: []protocol.MatchAction{{
				Title:           "Open",
				CloseOnActivate: true,
				Action: protocol.Action{
					Type: protocol.ActionOpen,
					URI:  "https://example.com",
				},
			}},
		},
		{
			Title:       "Callback: ping this plugin",
			Description: "Routes an activation back to the plugin",
			Icon:        "network-transmit-receive",
			Score:       10,
			Actions: []protocol.MatchAction{
				{
					Title:           "Ping",
					CloseOnActivate: false,
					Action: protocol.Action{
						Type:   protocol.ActionCallback,
						Key:    "ping",
						Params: map[string]string{"source": "debug"},
					},
				},
				{
					Title:           "Ping and close",
					CloseOnActivate: true,
					Action: protocol.Action{
						Type: protocol.ActionCallback,
						Key:  "ping",
					},
				},
			},
		},
	}
}

func main() {
	log.Setup("INFO", "text")
	if err := runtime.Serve(&debugPlugin{table: fixedTable()}); err != nil {
		log.Error("plugin exiting", "error", err)
		os.Exit(1)
	}
}
