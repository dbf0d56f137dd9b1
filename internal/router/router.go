// Package router owns the active request id, fans client requests out to
// plugin bridges, aggregates match results tagged by origin, and resolves
// activations back to concrete actions.
package router

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

// Broadcaster delivers a response to every connected client.
type Broadcaster interface {
	Broadcast(msg *protocol.Message)
}

// ActionRunner fires a resolved action. Implementations must not block.
type ActionRunner interface {
	Dispatch(action protocol.Action)
}

// ActivationRecorder is notified of every dispatched activation; the
// history store uses it to build usage ranking.
type ActivationRecorder interface {
	Record(pluginID, matchTitle, actionTitle string)
	Boost(pluginID string, match *protocol.Match)
}

// TaggedMatch pairs a match with the plugin that produced it.
type TaggedMatch struct {
	PluginID string
	Match    protocol.Match
}

// Router is the daemon core. Its two pieces of mutable state have separate
// guards: currentID is atomic, matches sits behind mu; neither is held
// across I/O.
type Router struct {
	logger   *slog.Logger
	registry *Registry
	clients  Broadcaster
	actions  ActionRunner
	history  ActivationRecorder // optional
	onQuit   func()             // begins daemon shutdown; optional

	currentID atomic.Uint64

	mu      sync.Mutex
	matches []TaggedMatch
}

// New creates a Router. history and onQuit may be nil.
func New(registry *Registry, clients Broadcaster, actions ActionRunner, history ActivationRecorder, onQuit func()) *Router {
	return &Router{
		logger:   log.WithComponent("router"),
		registry: registry,
		clients:  clients,
		actions:  actions,
		history:  history,
		onQuit:   onQuit,
	}
}

// Registry exposes the plugin registry for the supervisor and the API.
func (r *Router) Registry() *Registry { return r.registry }

// CurrentRequestID returns the id of the request generation in flight.
func (r *Router) CurrentRequestID() uint64 { return r.currentID.Load() }

// Matches returns a snapshot of the aggregated match table.
func (r *Router) Matches() []TaggedMatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaggedMatch, len(r.matches))
	copy(out, r.matches)
	return out
}

// HandleClientMessage routes one request or notification from a client
// connection.
func (r *Router) HandleClientMessage(msg *protocol.Message) {
	if msg.Method == nil {
		r.logger.Debug("client message without method", "type", msg.Type)
		return
	}
	switch msg.Method.Name {
	case protocol.MethodSearch:
		r.handleSearch(msg)
	case protocol.MethodActivate:
		r.handleActivate(msg)
	case protocol.MethodCancel:
		r.handleCancel()
	case protocol.MethodQuit:
		r.handleQuit()
	default:
		r.logger.Debug("unhandled client method", "method", msg.Method.Name)
	}
}

// handleSearch starts a new request generation: every response bearing an
// older id is superseded from this point on.
func (r *Router) handleSearch(msg *protocol.Message) {
	r.currentID.Store(msg.ID)

	r.mu.Lock()
	r.matches = nil
	r.mu.Unlock()

	targets := r.fanOutTargets(msg.Target)
	for _, p := range targets {
		if err := p.Send(protocol.NewRequest(msg.ID, *msg.Method)); err != nil {
			r.logger.Warn("enqueue search failed", "plugin", p.ID(), "error", err)
		}
	}
	r.logger.Debug("search fanned out", "id", msg.ID, "query", msg.Method.Query, "plugins", len(targets))
}

// fanOutTargets returns all plugins for a broadcast, or the one matching an
// authenticated target id. Unauthenticated plugins still receive broadcasts;
// they just cannot be addressed by id yet.
func (r *Router) fanOutTargets(target string) []*ConnectedPlugin {
	if target == "" {
		return r.registry.All()
	}
	p, ok := r.registry.Find(target)
	if !ok || !p.Authenticated() {
		r.logger.Warn("target plugin not available", "target", target)
		return nil
	}
	return []*ConnectedPlugin{p}
}

// handleActivate resolves (matchIndex, actionIndex) against the current
// match table. Out-of-range indices come from a superseded generation and
// are dropped, never dispatched.
func (r *Router) handleActivate(msg *protocol.Message) {
	matchIdx := int(msg.Method.MatchIndex)
	actionIdx := int(msg.Method.ActionIndex)

	r.mu.Lock()
	if matchIdx >= len(r.matches) {
		r.mu.Unlock()
		r.logger.Debug("activate match index out of range", "match_index", matchIdx)
		return
	}
	tagged := r.matches[matchIdx]
	if actionIdx >= len(tagged.Match.Actions) {
		r.mu.Unlock()
		r.logger.Debug("activate action index out of range",
			"match_index", matchIdx, "action_index", actionIdx)
		return
	}
	matchAction := tagged.Match.Actions[actionIdx]
	r.mu.Unlock()

	if r.history != nil {
		go r.history.Record(tagged.PluginID, tagged.Match.Title, matchAction.Title)
	}

	action := matchAction.Action
	if action.Type == protocol.ActionCallback {
		r.routeCallback(tagged.PluginID, action)
		return
	}
	r.actions.Dispatch(action)
}

// routeCallback sends a call_action notification back to the plugin that
// owns the activated match.
func (r *Router) routeCallback(pluginID string, action protocol.Action) {
	p, ok := r.registry.Find(pluginID)
	if !ok {
		r.logger.Warn("callback owner no longer connected", "plugin", pluginID)
		return
	}
	note := protocol.NewNotification(protocol.Method{
		Name:   protocol.MethodCallAction,
		Key:    action.Key,
		Params: action.Params,
	})
	if err := p.Send(note); err != nil {
		r.logger.Warn("enqueue callback failed", "plugin", pluginID, "error", err)
	}
}

func (r *Router) handleCancel() {
	r.currentID.Store(0)

	r.mu.Lock()
	r.matches = nil
	r.mu.Unlock()

	r.notifyAll(protocol.MethodCancel)
}

func (r *Router) handleQuit() {
	r.notifyAll(protocol.MethodQuit)
	if r.onQuit != nil {
		r.onQuit()
	}
}

func (r *Router) notifyAll(name protocol.MethodName) {
	for _, p := range r.registry.All() {
		if err := p.Send(protocol.NewNotification(protocol.Method{Name: name})); err != nil {
			r.logger.Warn("enqueue notification failed",
				"plugin", p.ID(), "method", name, "error", err)
		}
	}
}

// HandlePluginMessage routes one message read from a plugin bridge. slotID
// names the bridge the message arrived on; the daemon stamps the response
// with the plugin's routing id before forwarding.
func (r *Router) HandlePluginMessage(slotID string, msg *protocol.Message) {
	if msg.Type != protocol.MessageResponse {
		r.logger.Debug("ignoring non-response from plugin", "plugin", slotID, "type", msg.Type)
		return
	}
	p, ok := r.registry.Get(slotID)
	if !ok {
		r.logger.Debug("response from unknown bridge", "plugin", slotID)
		return
	}

	// The handshake is bookkeeping, not a search result: it always carries
	// id 0 and must survive plugin restarts mid-generation, so it is
	// handled before the stale-id check and never forwarded.
	if msg.Result != nil && msg.Result.Kind == protocol.ResultAuthenticate {
		p.SetMetadata(*msg.Result.Metadata)
		r.logger.Info("plugin authenticated",
			"plugin", msg.Result.Metadata.ID,
			"name", msg.Result.Metadata.Name,
			"version", msg.Result.Metadata.Version)
		return
	}

	current := r.currentID.Load()
	if msg.ID != current {
		r.logger.Debug("dropping superseded response",
			"plugin", p.ID(), "id", msg.ID, "current", current)
		return
	}

	msg.PluginID = p.ID()

	if msg.Result != nil && msg.Result.Kind == protocol.ResultMatches {
		r.appendMatches(p.ID(), msg.Result.Matches)
	}
	r.clients.Broadcast(msg)
}

// appendMatches adds one plugin's results to the current generation's table,
// applying the usage-ranking boost when a history store is attached. The
// boost mutates the slice in place so clients see the adjusted scores too.
func (r *Router) appendMatches(pluginID string, matches []protocol.Match) {
	tagged := make([]TaggedMatch, 0, len(matches))
	for i := range matches {
		if r.history != nil {
			r.history.Boost(pluginID, &matches[i])
		}
		tagged = append(tagged, TaggedMatch{PluginID: pluginID, Match: matches[i]})
	}

	r.mu.Lock()
	r.matches = append(r.matches, tagged...)
	total := len(r.matches)
	r.mu.Unlock()

	r.logger.Debug("matches aggregated", "plugin", pluginID, "added", len(matches), "total", total)
}
