package state

import (
	"github.com/sirosfoundation/go-interpreter-relay/internal/domain"
)

// Reconcile restores the settings/live-state invariants:
//   - live languages are exactly the enabled settings languages, keeping
//     the sub-state of ids that survive
//   - an error status is reset to stopped once its protocol is disabled
//
// It is a pure function of its input and never touches connections.
func Reconcile(s State) State {
	out := s
	out.Live = s.Live.Clone()

	languages := make(map[string]domain.LanguageLiveState)
	if s.Settings != nil {
		for _, lang := range s.Settings.Languages {
			if !lang.Enable {
				continue
			}
			live, ok := out.Live.Languages[lang.ID]
			if !ok {
				live = domain.LanguageLiveState{Listeners: []string{}}
			}
			if live.Listeners == nil {
				live.Listeners = []string{}
			}
			languages[lang.ID] = live
		}
	}
	out.Live.Languages = languages

	if out.Live.Server == nil {
		out.Live.Server = make(map[domain.Protocol]domain.ServerState, len(domain.Protocols))
	}
	for _, p := range domain.Protocols {
		srv, ok := out.Live.Server[p]
		if !ok || srv.Status == "" {
			out.Live.Server[p] = domain.ServerState{Status: domain.StatusStopped}
			continue
		}
		enabled := s.Settings != nil && s.Settings.Server.ProtocolEnabled(p)
		if srv.Status == domain.StatusError && !enabled {
			out.Live.Server[p] = domain.ServerState{Status: domain.StatusStopped}
		}
	}
	return out
}
