package state

import (
	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

// ActionType names an action for logging
type ActionType string

const (
	TypeAddListener        ActionType = "ADD_LISTENER"
	TypeRemoveListener     ActionType = "REMOVE_LISTENER"
	TypeAddInterpreter     ActionType = "ADD_INTERPRETER"
	TypeRemoveInterpreter  ActionType = "REMOVE_INTERPRETER"
	TypeServerStateChanged ActionType = "SERVER_STATE_CHANGED"
	TypeChangeSettings     ActionType = "CHANGE_SETTINGS"
	TypeResetSettings      ActionType = "RESET_SETTINGS"
	TypeLiveInfoChanged    ActionType = "LIVE_INFO_CHANGED"
)

// Action is the closed set of state transitions. Only the types in this
// file implement it.
type Action interface {
	Type() ActionType
	isAction()
}

// AddListener attaches a listener socket to a language
type AddListener struct {
	LanguageID string
	SocketID   string
}

// RemoveListener detaches a listener socket from whatever language holds it
type RemoveListener struct {
	SocketID string
}

// AddInterpreter records the interpreter socket of a language
type AddInterpreter struct {
	LanguageID string
	SocketID   string
}

// RemoveInterpreter clears the interpreter slot holding the socket
type RemoveInterpreter struct {
	SocketID string
}

// ServerStatePatch is a partial ServerState. Nil fields keep their value.
type ServerStatePatch struct {
	Status  *domain.Status
	Port    *int
	Message *string
}

// ServerStateChanged deep-merges Patch into the live state of Protocol
type ServerStateChanged struct {
	Protocol domain.Protocol
	Patch    ServerStatePatch
}

// ChangeSettings replaces the settings wholesale
type ChangeSettings struct {
	Settings *domain.Settings
}

// ResetSettings restores default settings
type ResetSettings struct{}

// LiveInfoChanged updates the informational live fields. Nil fields keep
// their value.
type LiveInfoChanged struct {
	LocalIPAddress *string
	Domain         *string
}

func (AddListener) Type() ActionType        { return TypeAddListener }
func (RemoveListener) Type() ActionType     { return TypeRemoveListener }
func (AddInterpreter) Type() ActionType     { return TypeAddInterpreter }
func (RemoveInterpreter) Type() ActionType  { return TypeRemoveInterpreter }
func (ServerStateChanged) Type() ActionType { return TypeServerStateChanged }
func (ChangeSettings) Type() ActionType     { return TypeChangeSettings }
func (ResetSettings) Type() ActionType      { return TypeResetSettings }
func (LiveInfoChanged) Type() ActionType    { return TypeLiveInfoChanged }

func (AddListener) isAction()        {}
func (RemoveListener) isAction()     {}
func (AddInterpreter) isAction()     {}
func (RemoveInterpreter) isAction()  {}
func (ServerStateChanged) isAction() {}
func (ChangeSettings) isAction()     {}
func (ResetSettings) isAction()      {}
func (LiveInfoChanged) isAction()    {}

// Stopped returns a patch that sets the status to stopped
func Stopped() ServerStatePatch {
	s := domain.StatusStopped
	return ServerStatePatch{Status: &s}
}

// Starting returns a patch that sets status starting on port
func Starting(port int) ServerStatePatch {
	s := domain.StatusStarting
	return ServerStatePatch{Status: &s, Port: &port}
}

// Started returns a patch that sets status started on port
func Started(port int) ServerStatePatch {
	s := domain.StatusStarted
	return ServerStatePatch{Status: &s, Port: &port}
}

// Failed returns a patch that records an error
func Failed(message string) ServerStatePatch {
	s := domain.StatusError
	return ServerStatePatch{Status: &s, Message: &message}
}
