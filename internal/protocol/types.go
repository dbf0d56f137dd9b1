package protocol

import "fmt"

// MessageType discriminates the three envelope shapes on the wire.
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
)

// MethodName discriminates the request payload variants.
type MethodName string

const (
	MethodSearch     MethodName = "search"
	MethodActivate   MethodName = "activate"
	MethodCallAction MethodName = "call_action"
	MethodCancel     MethodName = "cancel"
	MethodQuit       MethodName = "quit"
)

// ResultKind discriminates the response payload variants.
type ResultKind string

const (
	ResultAuthenticate ResultKind = "authenticate"
	ResultMatches      ResultKind = "matches"
	ResultError        ResultKind = "error"
	ResultNone         ResultKind = "none"
)

// ActionType discriminates the action variants a match can carry.
type ActionType string

const (
	ActionExec      ActionType = "exec"
	ActionLaunch    ActionType = "launch"
	ActionClipboard ActionType = "clipboard"
	ActionOpen      ActionType = "open"
	ActionCallback  ActionType = "callback"
)

// Metadata is a plugin's identity, declared once via the authenticate
// handshake and immutable for the lifetime of the plugin connection.
type Metadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Method is the payload of a request or notification. Name selects the
// variant; the remaining fields are populated per variant.
type Method struct {
	Name MethodName `json:"name"`

	// search
	Query string `json:"query,omitempty"`

	// activate
	MatchIndex  uint `json:"match_index,omitempty"`
	ActionIndex uint `json:"action_index,omitempty"`

	// call_action
	Key    string            `json:"key,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// MethodResult is the payload of a response. Kind selects the variant.
type MethodResult struct {
	Kind ResultKind `json:"kind"`

	Metadata *Metadata `json:"metadata,omitempty"` // authenticate
	Matches  []Match   `json:"matches,omitempty"`  // matches
	Message  string    `json:"message,omitempty"`  // error
}

// Match is one search result returned by a plugin.
type Match struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Icon        string        `json:"icon,omitempty"`
	Score       float64       `json:"score"`
	Actions     []MatchAction `json:"actions"`
}

// MatchAction is one activatable entry on a match. Order within
// Match.Actions is significant: Activate addresses actions by index.
type MatchAction struct {
	Title           string `json:"title"`
	CloseOnActivate bool   `json:"close_on_activate"`
	Action          Action `json:"action"`
}

// Action describes what activating a match action does. Type selects the
// variant; the remaining fields are populated per variant.
type Action struct {
	Type ActionType `json:"type"`

	// exec, launch
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// launch
	AppID       string `json:"app_id,omitempty"`
	NewInstance bool   `json:"new_instance,omitempty"`

	// clipboard
	Text string `json:"text,omitempty"`

	// open
	URI string `json:"uri,omitempty"`

	// callback
	Key    string            `json:"key,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Message is the envelope shared by every process boundary. Type selects
// the shape: requests carry ID and Method, responses carry ID plus Error or
// Result, notifications carry only Method.
type Message struct {
	Type MessageType `json:"type"`

	ID     uint64  `json:"id,omitempty"`
	Method *Method `json:"method,omitempty"`

	// Target narrows request fan-out to one plugin id; empty means broadcast.
	Target string `json:"target,omitempty"`

	Error  string        `json:"error,omitempty"`
	Result *MethodResult `json:"result,omitempty"`

	// PluginID is stamped by the daemon when a response arrives from a
	// plugin bridge. Plugins never set it themselves.
	PluginID string `json:"plugin_id,omitempty"`
}

// NewRequest builds a request envelope.
func NewRequest(id uint64, method Method) *Message {
	return &Message{Type: MessageRequest, ID: id, Method: &method}
}

// NewNotification builds a notification envelope.
func NewNotification(method Method) *Message {
	return &Message{Type: MessageNotification, Method: &method}
}

// NewResultResponse builds a successful response envelope.
func NewResultResponse(id uint64, result MethodResult) *Message {
	return &Message{Type: MessageResponse, ID: id, Result: &result}
}

// NewErrorResponse builds an error response envelope.
func NewErrorResponse(id uint64, msg string) *Message {
	return &Message{Type: MessageResponse, ID: id, Error: msg}
}

// AuthenticateResponse builds the handshake response a plugin emits on
// startup. The handshake always uses id 0.
func AuthenticateResponse(meta Metadata) *Message {
	return NewResultResponse(0, MethodResult{Kind: ResultAuthenticate, Metadata: &meta})
}

// Validate checks the envelope invariants for the message's declared type.
func (m *Message) Validate() error {
	switch m.Type {
	case MessageRequest:
		if m.Method == nil {
			return fmt.Errorf("request missing method")
		}
		return m.Method.validate()
	case MessageResponse:
		if m.Error == "" && m.Result == nil {
			return fmt.Errorf("response carries neither result nor error")
		}
		if m.Result != nil {
			return m.Result.validate()
		}
		return nil
	case MessageNotification:
		if m.ID != 0 {
			return fmt.Errorf("notification must not carry an id")
		}
		if m.Method == nil {
			return fmt.Errorf("notification missing method")
		}
		return m.Method.validate()
	case "":
		return fmt.Errorf("message missing type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

func (m *Method) validate() error {
	switch m.Name {
	case MethodSearch, MethodActivate, MethodCancel, MethodQuit:
		return nil
	case MethodCallAction:
		if m.Key == "" {
			return fmt.Errorf("call_action missing key")
		}
		return nil
	case "":
		return fmt.Errorf("method missing name")
	default:
		return fmt.Errorf("unknown method %q", m.Name)
	}
}

func (r *MethodResult) validate() error {
	switch r.Kind {
	case ResultAuthenticate:
		if r.Metadata == nil || r.Metadata.ID == "" {
			return fmt.Errorf("authenticate result missing metadata id")
		}
		return nil
	case ResultMatches, ResultError, ResultNone:
		return nil
	case "":
		return fmt.Errorf("result missing kind")
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
}
