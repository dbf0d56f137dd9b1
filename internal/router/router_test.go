package router

import (
	"sync"
	"testing"

	"github.com/aresa/glimpse/internal/protocol"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (b *fakeBroadcaster) Broadcast(msg *protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *fakeBroadcaster) all() []*protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*protocol.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

type fakeDispatcher struct {
	mu      sync.Mutex
	actions []protocol.Action
}

func (d *fakeDispatcher) Dispatch(action protocol.Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
}

func (d *fakeDispatcher) all() []protocol.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Action, len(d.actions))
	copy(out, d.actions)
	return out
}

type fixture struct {
	router     *Router
	broadcasts *fakeBroadcaster
	dispatcher *fakeDispatcher
}

func newFixture() *fixture {
	b := &fakeBroadcaster{}
	d := &fakeDispatcher{}
	return &fixture{
		router:     New(NewRegistry(), b, d, nil, nil),
		broadcasts: b,
		dispatcher: d,
	}
}

func (f *fixture) addPlugin(t *testing.T, slotID, metaID string) *ConnectedPlugin {
	t.Helper()
	p := NewConnectedPlugin(slotID, "", 16)
	f.router.Registry().Add(p)
	if metaID != "" {
		f.router.HandlePluginMessage(slotID, protocol.AuthenticateResponse(protocol.Metadata{
			ID: metaID, Name: metaID, Version: "0.0.1",
		}))
	}
	return p
}

func drainOne(t *testing.T, p *ConnectedPlugin) *protocol.Message {
	t.Helper()
	select {
	case msg := <-p.Out:
		return msg
	default:
		t.Fatalf("expected a message on %s outbound channel", p.SlotID)
		return nil
	}
}

func matchesResponse(id uint64, matches ...protocol.Match) *protocol.Message {
	return protocol.NewResultResponse(id, protocol.MethodResult{
		Kind:    protocol.ResultMatches,
		Matches: matches,
	})
}

func TestSearchFansOutToAllPlugins(t *testing.T) {
	f := newFixture()
	p1 := f.addPlugin(t, "slot-a", "plugin.a")
	p2 := f.addPlugin(t, "slot-b", "") // unauthenticated, still broadcast target

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{
		Name: protocol.MethodSearch, Query: "foo",
	}))

	for _, p := range []*ConnectedPlugin{p1, p2} {
		msg := drainOne(t, p)
		if msg.Type != protocol.MessageRequest || msg.ID != 1 || msg.Method.Query != "foo" {
			t.Fatalf("unexpected fan-out message on %s: %#v", p.SlotID, msg)
		}
	}
	if got := f.router.CurrentRequestID(); got != 1 {
		t.Fatalf("current request id = %d, want 1", got)
	}
}

func TestTargetedSearchRequiresAuthentication(t *testing.T) {
	f := newFixture()
	authed := f.addPlugin(t, "slot-a", "plugin.a")
	anon := f.addPlugin(t, "slot-b", "")

	req := protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch, Query: "x"})
	req.Target = "plugin.a"
	f.router.HandleClientMessage(req)

	drainOne(t, authed)
	select {
	case msg := <-anon.Out:
		t.Fatalf("unauthenticated plugin received targeted request: %#v", msg)
	default:
	}

	// Targeting an unauthenticated plugin by slot id sends nothing.
	req2 := protocol.NewRequest(2, protocol.Method{Name: protocol.MethodSearch, Query: "y"})
	req2.Target = "slot-b"
	f.router.HandleClientMessage(req2)
	select {
	case msg := <-anon.Out:
		t.Fatalf("unauthenticated plugin is not a valid target: %#v", msg)
	default:
	}
}

func TestSupersededResponseDropped(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{
		Name: protocol.MethodSearch, Query: "first",
	}))
	f.router.HandleClientMessage(protocol.NewRequest(2, protocol.Method{
		Name: protocol.MethodSearch, Query: "second",
	}))

	// A late answer for generation 1 must never reach clients.
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{Title: "stale", Score: 1}))
	if got := f.broadcasts.all(); len(got) != 0 {
		t.Fatalf("stale response forwarded: %#v", got)
	}

	f.router.HandlePluginMessage("slot-a", matchesResponse(2, protocol.Match{Title: "fresh", Score: 1}))
	got := f.broadcasts.all()
	if len(got) != 1 || got[0].Result.Matches[0].Title != "fresh" {
		t.Fatalf("current response not forwarded: %#v", got)
	}
	if m := f.router.Matches(); len(m) != 1 || m[0].Match.Title != "fresh" {
		t.Fatalf("match table should hold only the current generation: %#v", m)
	}
}

func TestNewSearchClearsMatchTable(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{Title: "old", Score: 1}))
	if len(f.router.Matches()) != 1 {
		t.Fatal("expected one aggregated match")
	}

	f.router.HandleClientMessage(protocol.NewRequest(2, protocol.Method{Name: protocol.MethodSearch}))
	if len(f.router.Matches()) != 0 {
		t.Fatal("match table must be rebuilt from empty per generation")
	}
}

func TestAggregationTagsByOrigin(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")
	f.addPlugin(t, "slot-b", "plugin.b")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{Title: "A", Score: 1}))
	f.router.HandlePluginMessage("slot-b", matchesResponse(1, protocol.Match{Title: "B", Score: 1}))

	table := f.router.Matches()
	if len(table) != 2 {
		t.Fatalf("expected 2 aggregated matches, got %d", len(table))
	}
	byTitle := map[string]string{}
	for _, tm := range table {
		byTitle[tm.Match.Title] = tm.PluginID
	}
	if byTitle["A"] != "plugin.a" || byTitle["B"] != "plugin.b" {
		t.Fatalf("wrong origin tags: %#v", byTitle)
	}

	forwarded := f.broadcasts.all()
	if len(forwarded) != 2 {
		t.Fatalf("expected both responses forwarded, got %d", len(forwarded))
	}
	for _, msg := range forwarded {
		if msg.PluginID == "" {
			t.Fatalf("forwarded response missing plugin stamp: %#v", msg)
		}
	}
}

func TestActivateDispatchesResolvedAction(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{
		Title: "Open docs",
		Score: 1,
		Actions: []protocol.MatchAction{
			{Title: "Open", Action: protocol.Action{Type: protocol.ActionOpen, URI: "https://go.dev"}},
			{Title: "Copy", Action: protocol.Action{Type: protocol.ActionClipboard, Text: "go.dev"}},
		},
	}))

	f.router.HandleClientMessage(protocol.NewRequest(2, protocol.Method{
		Name: protocol.MethodActivate, MatchIndex: 0, ActionIndex: 1,
	}))

	actions := f.dispatcher.all()
	if len(actions) != 1 || actions[0].Type != protocol.ActionClipboard || actions[0].Text != "go.dev" {
		t.Fatalf("unexpected dispatch: %#v", actions)
	}
}

func TestActivateBoundsSafety(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{
		Title:   "only",
		Score:   1,
		Actions: []protocol.MatchAction{{Title: "Go", Action: protocol.Action{Type: protocol.ActionOpen, URI: "x"}}},
	}))

	// Out-of-range on either index: no panic, no dispatch.
	f.router.HandleClientMessage(protocol.NewRequest(2, protocol.Method{
		Name: protocol.MethodActivate, MatchIndex: 5, ActionIndex: 0,
	}))
	f.router.HandleClientMessage(protocol.NewRequest(3, protocol.Method{
		Name: protocol.MethodActivate, MatchIndex: 0, ActionIndex: 7,
	}))
	// Empty table from a superseded generation behaves the same.
	f.router.HandleClientMessage(protocol.NewRequest(4, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandleClientMessage(protocol.NewRequest(5, protocol.Method{
		Name: protocol.MethodActivate, MatchIndex: 0, ActionIndex: 0,
	}))

	if got := f.dispatcher.all(); len(got) != 0 {
		t.Fatalf("out-of-range activate must not dispatch: %#v", got)
	}
}

func TestCallbackRoutesToOwningPlugin(t *testing.T) {
	f := newFixture()
	owner := f.addPlugin(t, "slot-a", "plugin.a")
	other := f.addPlugin(t, "slot-b", "plugin.b")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	drainOne(t, owner)
	drainOne(t, other)

	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{
		Title: "callback match",
		Score: 1,
		Actions: []protocol.MatchAction{{
			Title: "Run",
			Action: protocol.Action{
				Type:   protocol.ActionCallback,
				Key:    "refresh",
				Params: map[string]string{"scope": "all"},
			},
		}},
	}))

	f.router.HandleClientMessage(protocol.NewRequest(2, protocol.Method{
		Name: protocol.MethodActivate, MatchIndex: 0, ActionIndex: 0,
	}))

	note := drainOne(t, owner)
	if note.Type != protocol.MessageNotification || note.Method.Name != protocol.MethodCallAction {
		t.Fatalf("expected call_action notification, got %#v", note)
	}
	if note.Method.Key != "refresh" || note.Method.Params["scope"] != "all" {
		t.Fatalf("callback payload mangled: %#v", note.Method)
	}
	select {
	case msg := <-other.Out:
		t.Fatalf("callback routed to wrong plugin: %#v", msg)
	default:
	}
	if got := f.dispatcher.all(); len(got) != 0 {
		t.Fatalf("callbacks must not reach the action dispatcher: %#v", got)
	}
}

func TestCancelResetsStateAndNotifiesPlugins(t *testing.T) {
	f := newFixture()
	p := f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	drainOne(t, p)
	f.router.HandlePluginMessage("slot-a", matchesResponse(1, protocol.Match{Title: "m", Score: 1}))

	f.router.HandleClientMessage(protocol.NewRequest(0, protocol.Method{Name: protocol.MethodCancel}))

	if f.router.CurrentRequestID() != 0 {
		t.Fatal("cancel must reset the current request id")
	}
	if len(f.router.Matches()) != 0 {
		t.Fatal("cancel must clear the match table")
	}
	note := drainOne(t, p)
	if note.Type != protocol.MessageNotification || note.Method.Name != protocol.MethodCancel {
		t.Fatalf("expected cancel notification, got %#v", note)
	}
}

func TestQuitNotifiesPluginsAndTriggersShutdown(t *testing.T) {
	b := &fakeBroadcaster{}
	d := &fakeDispatcher{}
	quit := false
	r := New(NewRegistry(), b, d, nil, func() { quit = true })
	p := NewConnectedPlugin("slot-a", "", 4)
	r.Registry().Add(p)

	r.HandleClientMessage(protocol.NewRequest(0, protocol.Method{Name: protocol.MethodQuit}))

	note := drainOne(t, p)
	if note.Method.Name != protocol.MethodQuit {
		t.Fatalf("expected quit notification, got %#v", note)
	}
	if !quit {
		t.Fatal("quit must begin daemon shutdown")
	}
}

func TestErrorResponseForwardedVerbatim(t *testing.T) {
	f := newFixture()
	f.addPlugin(t, "slot-a", "plugin.a")

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", protocol.NewErrorResponse(1, "handler exploded"))

	got := f.broadcasts.all()
	if len(got) != 1 || got[0].Error != "handler exploded" {
		t.Fatalf("plugin error not surfaced: %#v", got)
	}
	if got[0].PluginID != "plugin.a" {
		t.Fatalf("error response missing plugin stamp: %#v", got[0])
	}
}

func TestAuthenticateNotForwardedAndSurvivesGenerations(t *testing.T) {
	f := newFixture()
	p := NewConnectedPlugin("slot-a", "", 16)
	f.router.Registry().Add(p)

	// Mid-generation handshake (a restarted plugin) must still register.
	f.router.HandleClientMessage(protocol.NewRequest(41, protocol.Method{Name: protocol.MethodSearch}))
	f.router.HandlePluginMessage("slot-a", protocol.AuthenticateResponse(protocol.Metadata{
		ID: "plugin.late", Name: "Late", Version: "1.0.0",
	}))

	if got := f.broadcasts.all(); len(got) != 0 {
		t.Fatalf("authenticate must not be forwarded to clients: %#v", got)
	}
	if !p.Authenticated() || p.ID() != "plugin.late" {
		t.Fatalf("handshake not recorded: %#v", p.Metadata())
	}
}

func TestFullOutboundChannelIsIsolated(t *testing.T) {
	f := newFixture()
	stuck := NewConnectedPlugin("slot-stuck", "", 1)
	f.router.Registry().Add(stuck)
	healthy := f.addPlugin(t, "slot-ok", "plugin.ok")

	stuck.Out <- protocol.NewNotification(protocol.Method{Name: protocol.MethodCancel}) // fill

	f.router.HandleClientMessage(protocol.NewRequest(1, protocol.Method{
		Name: protocol.MethodSearch, Query: "q",
	}))

	// The healthy plugin still gets the request.
	msg := drainOne(t, healthy)
	if msg.ID != 1 {
		t.Fatalf("healthy plugin missed fan-out: %#v", msg)
	}
}
