package registry

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Instance is one live component: its type, serialized state, subscription
// set, and position in the parent/child forest.
type Instance struct {
	ID            string
	Type          string
	State         json.RawMessage
	Fingerprint   string
	Subscriptions map[string]struct{}
	ParentID      string
}

// clone returns a copy safe to hand to callers outside the lock.
func (in *Instance) clone() *Instance {
	subs := make(map[string]struct{}, len(in.Subscriptions))
	for s := range in.Subscriptions {
		subs[s] = struct{}{}
	}
	cp := *in
	cp.State = append(json.RawMessage(nil), in.State...)
	cp.Subscriptions = subs
	return &cp
}

// Registry is the authoritative store of live component instances for one
// session. It is safe for concurrent use, although each session funnels all
// mutations through its single event loop.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	children  map[string]map[string]struct{}

	// byTopic is the inverted subscription index: topic pattern to the set
	// of subscribed component ids.
	byTopic map[string]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		children:  make(map[string]map[string]struct{}),
		byTopic:   make(map[string]map[string]struct{}),
	}
}

// Register adds or replaces an instance. The parent link is recorded only
// when parentID names a different component; self-links are dropped so the
// forest stays acyclic. Replacing an existing id under a new parent
// re-links it, so the old parent's cascade no longer reaches it.
func (r *Registry) Register(id, typeName string, state json.RawMessage, parentID string, subscriptions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parentID == id {
		parentID = ""
	}
	in := &Instance{
		ID:            id,
		Type:          typeName,
		State:         append(json.RawMessage(nil), state...),
		Fingerprint:   Fingerprint(state),
		Subscriptions: make(map[string]struct{}, len(subscriptions)),
		ParentID:      parentID,
	}
	if old := r.instances[id]; old != nil {
		r.dropSubscriptionsLocked(old)
		if in.ParentID == "" {
			in.ParentID = old.ParentID
		}
		if old.ParentID != "" && old.ParentID != in.ParentID {
			r.unlinkLocked(old.ParentID, id)
		}
	}
	r.instances[id] = in
	for _, s := range subscriptions {
		in.Subscriptions[s] = struct{}{}
		r.indexLocked(s, id)
	}
	if in.ParentID != "" {
		kids := r.children[in.ParentID]
		if kids == nil {
			kids = make(map[string]struct{})
			r.children[in.ParentID] = kids
		}
		kids[id] = struct{}{}
	}
}

// Get returns a copy of the instance and whether it exists. A missing id is
// an expected race, not an error.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.instances[id]
	if !ok {
		return nil, false
	}
	return in.clone(), true
}

// Commit stores the post-handler state and recomputed subscription set of a
// component, refreshing its fingerprint and diffing the subscriptions
// against the previous set to update the topic index. Committing a missing
// id is a no-op and reports false.
func (r *Registry) Commit(id string, state json.RawMessage, subscriptions []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.instances[id]
	if !ok {
		return false
	}
	in.State = append(json.RawMessage(nil), state...)
	in.Fingerprint = Fingerprint(state)

	next := make(map[string]struct{}, len(subscriptions))
	for _, s := range subscriptions {
		next[s] = struct{}{}
	}
	for s := range in.Subscriptions {
		if _, keep := next[s]; !keep {
			r.unindexLocked(s, id)
		}
	}
	for s := range next {
		if _, had := in.Subscriptions[s]; !had {
			r.indexLocked(s, id)
		}
	}
	in.Subscriptions = next
	return true
}

// Unregister removes the component and its transitive descendants. The
// whole subtree is collected first and removed under one lock, so the
// cascade is all-or-nothing: no descendant survives its ancestor and no
// sibling is touched. The removed ids are returned children-first; a
// missing id yields nil.
func (r *Registry) Unregister(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[id]; !ok {
		return nil
	}
	removed := r.collectLocked(id, nil)
	for _, rid := range removed {
		in := r.instances[rid]
		r.dropSubscriptionsLocked(in)
		delete(r.instances, rid)
		delete(r.children, rid)
		if in.ParentID != "" {
			r.unlinkLocked(in.ParentID, rid)
		}
	}
	return removed
}

// unlinkLocked removes a child from its parent's children set.
func (r *Registry) unlinkLocked(parentID, id string) {
	if kids := r.children[parentID]; kids != nil {
		delete(kids, id)
		if len(kids) == 0 {
			delete(r.children, parentID)
		}
	}
}

func (r *Registry) collectLocked(id string, acc []string) []string {
	kids := make([]string, 0, len(r.children[id]))
	for kid := range r.children[id] {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	for _, kid := range kids {
		acc = r.collectLocked(kid, acc)
	}
	return append(acc, id)
}

// DropSubscriptions detaches the given components from the topic index
// without removing their state. Used when the client reports an id as
// unmounted: the state may be retained for reattachment, but mutation
// notifications must stop matching it.
func (r *Registry) DropSubscriptions(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if in := r.instances[id]; in != nil {
			r.dropSubscriptionsLocked(in)
			in.Subscriptions = make(map[string]struct{})
		}
	}
}

// FindByTopic returns the ids of all instances whose subscription set
// matches topic, sorted for deterministic scheduling.
func (r *Registry) FindByTopic(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	seen := make(map[string]struct{})
	for pattern, subs := range r.byTopic {
		if !TopicMatches(pattern, topic) {
			continue
		}
		for id := range subs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// ByType returns copies of all instances of the named type.
func (r *Registry) ByType(typeName string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Instance
	for _, in := range r.instances {
		if in.Type == typeName {
			out = append(out, in.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns all live component ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

func (r *Registry) indexLocked(pattern, id string) {
	subs := r.byTopic[pattern]
	if subs == nil {
		subs = make(map[string]struct{})
		r.byTopic[pattern] = subs
	}
	subs[id] = struct{}{}
}

func (r *Registry) unindexLocked(pattern, id string) {
	if subs := r.byTopic[pattern]; subs != nil {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.byTopic, pattern)
		}
	}
}

func (r *Registry) dropSubscriptionsLocked(in *Instance) {
	for s := range in.Subscriptions {
		r.unindexLocked(s, in.ID)
	}
}

// TopicMatches reports whether a subscription pattern matches a concrete
// topic. A pattern matches its exact topic and, as a bare prefix, any
// deeper topic on a dot boundary: "store.item" matches "store.item",
// "store.item.123" and "store.item.123.updated", but not "store.items".
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	return strings.HasPrefix(topic, pattern+".")
}
