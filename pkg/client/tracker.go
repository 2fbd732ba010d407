package client

import (
	"sort"

	"github.com/edelvalle/djhtmx/pkg/protocol"
)

// MountTracker records which component ids the server has been told about.
// It is the single source of truth for "still present in the document" on
// the client side; the server's registry is allowed to lag it.
type MountTracker struct {
	known map[string]struct{}
}

// NewMountTracker creates an empty tracker.
func NewMountTracker() *MountTracker {
	return &MountTracker{known: make(map[string]struct{})}
}

// Sync diffs the currently mounted ids against the known set and commits
// the new set immediately. The update is optimistic, not
// acknowledgment-gated: if the resulting messages never arrive, the next
// cycle's diff against the live document re-derives the correct delta.
func (t *MountTracker) Sync(mounted []string) (added, removed []string) {
	next := make(map[string]struct{}, len(mounted))
	for _, id := range mounted {
		next[id] = struct{}{}
		if _, ok := t.known[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range t.known {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	t.known = next
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Track adds a single id, as when the server instantiates a component into
// the document via build_and_render.
func (t *MountTracker) Track(id string) {
	t.known[id] = struct{}{}
}

// Forget drops a single id, as when a destroy command removes its element.
func (t *MountTracker) Forget(id string) {
	delete(t.known, id)
}

// Known returns the tracked ids, sorted.
func (t *MountTracker) Known() []string {
	ids := make([]string, 0, len(t.known))
	for id := range t.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SyncMessages builds the removal and addition messages for one diff. The
// states map carries the signed blob per added id, subscriptions the
// descriptor per added id. Either returned message may be nil when its
// side of the diff is empty.
func SyncMessages(added, removed []string, states map[string]string, subscriptions map[string]string) (rem, add *protocol.ClientMessage) {
	if len(removed) > 0 {
		rem = protocol.NewRemoved(removed)
	}
	if len(added) > 0 {
		blobs := make([]string, 0, len(added))
		subs := make(map[string]string, len(added))
		for _, id := range added {
			blobs = append(blobs, states[id])
			if s, ok := subscriptions[id]; ok {
				subs[id] = s
			}
		}
		add = protocol.NewAdded(blobs, subs)
	}
	return rem, add
}
