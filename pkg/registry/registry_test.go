package registry

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a := Fingerprint(json.RawMessage(`{"a":1,"b":"x"}`))
	b := Fingerprint(json.RawMessage(`{"b":"x","a":1}`))
	if a != b {
		t.Errorf("fingerprints differ across key order: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint %q is not 16 hex chars", a)
	}
}

func TestFingerprintChangesWithValue(t *testing.T) {
	a := Fingerprint(json.RawMessage(`{"count":1}`))
	b := Fingerprint(json.RawMessage(`{"count":2}`))
	if a == b {
		t.Error("different states produced equal fingerprints")
	}
}

func TestFingerprintInvalidJSON(t *testing.T) {
	a := Fingerprint(json.RawMessage(`not json`))
	b := Fingerprint(json.RawMessage(`not json`))
	if a != b {
		t.Error("invalid JSON fingerprint is not stable")
	}
}

func TestRegisterAndGetCopies(t *testing.T) {
	r := New()
	state := json.RawMessage(`{"id":"a","n":1}`)
	r.Register("a", "T", state, "", []string{"x.y"})

	in, ok := r.Get("a")
	if !ok {
		t.Fatal("Get after Register failed")
	}
	if in.Type != "T" || in.Fingerprint != Fingerprint(state) {
		t.Errorf("instance = %+v", in)
	}

	// Mutating the returned copy must not leak back.
	in.Subscriptions["z"] = struct{}{}
	again, _ := r.Get("a")
	if _, leaked := again.Subscriptions["z"]; leaked {
		t.Error("Get returned shared subscription map")
	}
}

func TestRegisterSelfParentDropped(t *testing.T) {
	r := New()
	r.Register("a", "T", nil, "a", nil)
	in, _ := r.Get("a")
	if in.ParentID != "" {
		t.Errorf("self parent kept: %q", in.ParentID)
	}
}

func TestCommitRefreshesFingerprintAndSubscriptions(t *testing.T) {
	r := New()
	r.Register("a", "T", json.RawMessage(`{"n":1}`), "", []string{"old.topic"})

	if !r.Commit("a", json.RawMessage(`{"n":2}`), []string{"new.topic"}) {
		t.Fatal("Commit reported false")
	}

	in, _ := r.Get("a")
	if in.Fingerprint != Fingerprint(json.RawMessage(`{"n":2}`)) {
		t.Error("fingerprint not refreshed")
	}
	if got := r.FindByTopic("old.topic"); len(got) != 0 {
		t.Errorf("old subscription still matches: %v", got)
	}
	if got := r.FindByTopic("new.topic.123"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("new subscription = %v", got)
	}

	if r.Commit("missing", nil, nil) {
		t.Error("Commit of missing id reported true")
	}
}

func TestUnregisterCascade(t *testing.T) {
	r := New()
	r.Register("root", "T", nil, "", nil)
	r.Register("kid1", "T", nil, "root", nil)
	r.Register("kid2", "T", nil, "root", []string{"a.b"})
	r.Register("grand", "T", nil, "kid1", nil)
	r.Register("bystander", "T", nil, "", []string{"a.b"})

	removed := r.Unregister("root")
	want := []string{"grand", "kid1", "kid2", "root"}
	if len(removed) != 4 {
		t.Fatalf("removed = %v", removed)
	}
	// Children come before their ancestors.
	pos := map[string]int{}
	for i, id := range removed {
		pos[id] = i
	}
	if pos["grand"] > pos["kid1"] || pos["kid1"] > pos["root"] || pos["kid2"] > pos["root"] {
		t.Errorf("order not children-first: %v", removed)
	}
	for _, id := range want {
		if _, ok := r.Get(id); ok {
			t.Errorf("%s survived cascade", id)
		}
	}
	if _, ok := r.Get("bystander"); !ok {
		t.Error("sibling removed by cascade")
	}
	if got := r.FindByTopic("a.b"); !reflect.DeepEqual(got, []string{"bystander"}) {
		t.Errorf("topic index after cascade = %v", got)
	}

	if removed := r.Unregister("missing"); removed != nil {
		t.Errorf("Unregister missing = %v", removed)
	}
}

func TestReregisterUnderNewParent(t *testing.T) {
	r := New()
	r.Register("p1", "T", nil, "", nil)
	r.Register("p2", "T", nil, "", nil)
	r.Register("kid", "T", nil, "p1", nil)

	// Re-registering moves the child; the old parent's cascade must not
	// reach it anymore.
	r.Register("kid", "T", nil, "p2", nil)

	if removed := r.Unregister("p1"); !reflect.DeepEqual(removed, []string{"p1"}) {
		t.Fatalf("removed = %v, want only p1", removed)
	}
	if _, ok := r.Get("kid"); !ok {
		t.Fatal("re-parented child removed with its old parent")
	}
	if removed := r.Unregister("p2"); !reflect.DeepEqual(removed, []string{"kid", "p2"}) {
		t.Errorf("removed = %v, want the child under its new parent", removed)
	}
}

func TestReregisterKeepsParentWhenUnset(t *testing.T) {
	r := New()
	r.Register("p1", "T", nil, "", nil)
	r.Register("kid", "T", nil, "p1", nil)

	// Replacement without a parent inherits the existing link.
	r.Register("kid", "T", json.RawMessage(`{"n":2}`), "", nil)

	if removed := r.Unregister("p1"); !reflect.DeepEqual(removed, []string{"kid", "p1"}) {
		t.Errorf("removed = %v, want kid still under p1", removed)
	}
}

func TestDropSubscriptionsKeepsState(t *testing.T) {
	r := New()
	r.Register("a", "T", json.RawMessage(`{"n":1}`), "", []string{"x.y"})

	r.DropSubscriptions("a")

	if got := r.FindByTopic("x.y"); len(got) != 0 {
		t.Errorf("still matching after drop: %v", got)
	}
	in, ok := r.Get("a")
	if !ok || string(in.State) != `{"n":1}` {
		t.Errorf("state lost: %+v", in)
	}
}

func TestFindByTopicSorted(t *testing.T) {
	r := New()
	r.Register("b", "T", nil, "", []string{"t"})
	r.Register("a", "T", nil, "", []string{"t"})
	r.Register("c", "T", nil, "", []string{"t.1"})

	if got := r.FindByTopic("t.1.updated"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("FindByTopic = %v", got)
	}
}

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"store.item", "store.item", true},
		{"store.item", "store.item.123", true},
		{"store.item", "store.item.123.updated", true},
		{"store.item", "store.items", false},
		{"store.item.123", "store.item", false},
		{"store.item.123.deleted", "store.item.123.deleted", true},
		{"store.item.123.deleted", "store.item.123.updated", false},
	}
	for _, tc := range cases {
		if got := TopicMatches(tc.pattern, tc.topic); got != tc.want {
			t.Errorf("TopicMatches(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := New()
	r.Register("parent", "List", json.RawMessage(`{"n":1}`), "", []string{"t.a"})
	r.Register("child", "Item", json.RawMessage(`{"n":2}`), "parent", nil)

	snap := r.Snapshot()

	r2 := New()
	r2.Restore(snap)

	in, ok := r2.Get("child")
	if !ok || in.ParentID != "parent" || string(in.State) != `{"n":2}` {
		t.Errorf("restored child = %+v", in)
	}
	if got := r2.FindByTopic("t.a"); !reflect.DeepEqual(got, []string{"parent"}) {
		t.Errorf("restored subscriptions = %v", got)
	}
	// The parent link survives: cascading still works.
	if removed := r2.Unregister("parent"); len(removed) != 2 {
		t.Errorf("cascade after restore = %v", removed)
	}

	r2.Restore(nil)
}
