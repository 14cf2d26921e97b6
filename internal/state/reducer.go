package state

import (
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

// State is an immutable snapshot of the whole store. Settings is shared
// between snapshots and must not be modified; Live is copied on write.
type State struct {
	Settings *domain.Settings `json:"settings"`
	Live     domain.LiveState `json:"liveState"`
	Version  uint64           `json:"-"`
}

// Reducer applies actions to snapshots
type Reducer struct {
	logger   *zap.Logger
	defaults func() *domain.Settings
}

// NewReducer creates a reducer. defaults produces the settings used by
// ResetSettings; nil means domain.DefaultSettings.
func NewReducer(logger *zap.Logger, defaults func() *domain.Settings) *Reducer {
	if defaults == nil {
		defaults = domain.DefaultSettings
	}
	return &Reducer{
		logger:   logger.Named("reducer"),
		defaults: defaults,
	}
}

// Apply runs the reducer followed by Reconcile. The input is not modified.
func (r *Reducer) Apply(s State, action Action) State {
	return Reconcile(r.reduce(s, action))
}

func (r *Reducer) reduce(s State, action Action) State {
	switch a := action.(type) {
	case AddInterpreter:
		if !languageEnabled(s.Settings, a.LanguageID) {
			r.logger.Info("Cannot interpret for non-available language", zap.String("language_id", a.LanguageID))
			return s
		}
		next := s.withLive()
		lang := next.Live.Languages[a.LanguageID]
		if lang.InterpreterSocketID != "" {
			r.logger.Warn("Language already has an interpreter, overwriting",
				zap.String("language_id", a.LanguageID),
				zap.String("current", lang.InterpreterSocketID),
				zap.String("new", a.SocketID),
			)
		}
		lang.InterpreterSocketID = a.SocketID
		lang.InterpreterConnectCount++
		next.Live.Languages[a.LanguageID] = lang
		return next

	case AddListener:
		if !languageEnabled(s.Settings, a.LanguageID) {
			r.logger.Info("Cannot listen to non-available language", zap.String("language_id", a.LanguageID))
			return s
		}
		if s.Live.Languages[a.LanguageID].HasListener(a.SocketID) {
			return s
		}
		next := s.withLive()
		lang := next.Live.Languages[a.LanguageID]
		lang.Listeners = append(lang.Listeners, a.SocketID)
		lang.ListenerConnectCount++
		next.Live.Languages[a.LanguageID] = lang
		return next

	case RemoveInterpreter:
		next := s.withLive()
		for id, lang := range next.Live.Languages {
			if lang.InterpreterSocketID == a.SocketID {
				lang.InterpreterSocketID = ""
				next.Live.Languages[id] = lang
			}
		}
		return next

	case RemoveListener:
		next := s.withLive()
		for id, lang := range next.Live.Languages {
			kept := lang.Listeners[:0]
			for _, l := range lang.Listeners {
				if l != a.SocketID {
					kept = append(kept, l)
				}
			}
			lang.Listeners = kept
			next.Live.Languages[id] = lang
		}
		return next

	case ServerStateChanged:
		next := s.withLive()
		next.Live.Server[a.Protocol] = mergeServerState(next.Live.Server[a.Protocol], a.Patch)
		return next

	case ChangeSettings:
		if a.Settings == nil {
			r.logger.Warn("Ignoring settings change without settings")
			return s
		}
		next := s
		next.Settings = a.Settings.Clone()
		return next

	case ResetSettings:
		next := s
		next.Settings = r.defaults()
		return next

	case LiveInfoChanged:
		next := s.withLive()
		if a.LocalIPAddress != nil {
			next.Live.LocalIPAddress = *a.LocalIPAddress
		}
		if a.Domain != nil {
			next.Live.Domain = *a.Domain
		}
		return next

	default:
		r.logger.Warn("Unknown action", zap.String("type", string(action.Type())))
		return s
	}
}

// mergeServerState applies the set fields of patch. A status other than
// error drops a stale error message unless the patch carries one.
func mergeServerState(cur domain.ServerState, patch ServerStatePatch) domain.ServerState {
	if patch.Status != nil {
		cur.Status = *patch.Status
		if cur.Status != domain.StatusError && patch.Message == nil {
			cur.Message = ""
		}
	}
	if patch.Port != nil {
		cur.Port = *patch.Port
	}
	if patch.Message != nil {
		cur.Message = *patch.Message
	}
	return cur
}

// withLive returns a copy of s whose live state can be modified
func (s State) withLive() State {
	s.Live = s.Live.Clone()
	return s
}

func languageEnabled(settings *domain.Settings, id string) bool {
	if settings == nil {
		return false
	}
	lang, ok := settings.Language(id)
	return ok && lang.Enable
}
