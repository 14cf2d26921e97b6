package domain

// Protocol identifies one of the managed listeners
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Protocols lists the managed listeners in a fixed order
var Protocols = []Protocol{ProtocolHTTP, ProtocolHTTPS}

// Status is the lifecycle status of a managed listener
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusStarted  Status = "started"
	StatusError    Status = "error"
)

// ServerState is the live state of one listener. Port is meaningful while
// starting or started, Message while in error.
type ServerState struct {
	Status  Status `json:"status"`
	Port    int    `json:"port,omitempty"`
	Message string `json:"message,omitempty"`
}

// Active reports whether the listener is starting or started
func (s ServerState) Active() bool {
	return s.Status == StatusStarting || s.Status == StatusStarted
}

// LanguageLiveState tracks the connections of one enabled language.
// InterpreterSocketID is empty when nobody is interpreting.
type LanguageLiveState struct {
	InterpreterSocketID     string   `json:"interpreterSocketId,omitempty"`
	Listeners               []string `json:"listeners"`
	InterpreterConnectCount int      `json:"interpreterConnectCount"`
	ListenerConnectCount    int      `json:"listenerConnectCount"`
}

// HasListener reports whether socketID is a listener of this language
func (l LanguageLiveState) HasListener(socketID string) bool {
	for _, id := range l.Listeners {
		if id == socketID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (l LanguageLiveState) Clone() LanguageLiveState {
	out := l
	out.Listeners = append([]string{}, l.Listeners...)
	return out
}

// LiveState is the ephemeral state derived from settings and connections.
// It is never persisted.
type LiveState struct {
	Languages      map[string]LanguageLiveState `json:"languages"`
	Server         map[Protocol]ServerState     `json:"server"`
	LocalIPAddress string                       `json:"localIpAddress,omitempty"`
	Domain         string                       `json:"domain,omitempty"`
}

// NewLiveState returns an empty live state with every listener stopped
func NewLiveState() LiveState {
	server := make(map[Protocol]ServerState, len(Protocols))
	for _, p := range Protocols {
		server[p] = ServerState{Status: StatusStopped}
	}
	return LiveState{
		Languages: make(map[string]LanguageLiveState),
		Server:    server,
	}
}

// Clone returns a deep copy
func (s LiveState) Clone() LiveState {
	out := s
	out.Languages = make(map[string]LanguageLiveState, len(s.Languages))
	for id, l := range s.Languages {
		out.Languages[id] = l.Clone()
	}
	out.Server = make(map[Protocol]ServerState, len(s.Server))
	for p, st := range s.Server {
		out.Server[p] = st
	}
	return out
}

// LanguageOf returns the language id the socket is attached to, either as
// interpreter or listener.
func (s LiveState) LanguageOf(socketID string) (string, bool) {
	for id, l := range s.Languages {
		if l.InterpreterSocketID == socketID || l.HasListener(socketID) {
			return id, true
		}
	}
	return "", false
}

// SocketIDs returns every socket id referenced by the live state
func (s LiveState) SocketIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, l := range s.Languages {
		if l.InterpreterSocketID != "" {
			ids[l.InterpreterSocketID] = struct{}{}
		}
		for _, id := range l.Listeners {
			ids[id] = struct{}{}
		}
	}
	return ids
}
