package registry

import "encoding/json"

// Snapshot is the serializable image of a registry, used to retain
// component state across detach/reattach of a client connection.
type Snapshot struct {
	States        map[string]json.RawMessage `json:"states"`
	Types         map[string]string          `json:"types"`
	Subscriptions map[string][]string        `json:"subscriptions,omitempty"`
	Parents       map[string]string          `json:"parents,omitempty"`
}

// Snapshot captures the current registry contents.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{
		States:        make(map[string]json.RawMessage, len(r.instances)),
		Types:         make(map[string]string, len(r.instances)),
		Subscriptions: make(map[string][]string),
		Parents:       make(map[string]string),
	}
	for id, in := range r.instances {
		snap.States[id] = append(json.RawMessage(nil), in.State...)
		snap.Types[id] = in.Type
		if len(in.Subscriptions) > 0 {
			subs := make([]string, 0, len(in.Subscriptions))
			for s := range in.Subscriptions {
				subs = append(subs, s)
			}
			snap.Subscriptions[id] = subs
		}
		if in.ParentID != "" {
			snap.Parents[id] = in.ParentID
		}
	}
	return snap
}

// Restore folds a snapshot back into the registry. Existing entries with
// the same ids are replaced.
func (r *Registry) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	for id, state := range snap.States {
		r.Register(id, snap.Types[id], state, snap.Parents[id], snap.Subscriptions[id])
	}
}
