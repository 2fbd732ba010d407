package signal

import "fmt"

// Action is the kind of mutation a notification reports.
type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Relation names a related entity that should also be notified when the
// owning entity changes, e.g. the parent collection of an item.
type Relation struct {
	// Entity is the related entity kind, e.g. "store.list".
	Entity string

	// InstanceID is the related instance, e.g. the foreign key value.
	InstanceID string

	// Name is the relation as seen from the related entity, e.g. "items".
	Name string
}

// Notifier expands a mutation into the full applicable topic set. The
// default implementation covers the standard hierarchy; stores with richer
// schemas can wrap it or provide their own.
type Notifier interface {
	TopicsFor(entity, instanceID string, action Action, related ...Relation) []string
}

// TopicsFor is the default Notifier. For entity "store.item", instance
// "123" and action updated it yields:
//
//	store.item
//	store.item.123
//	store.item.123.updated
//
// plus, per related entity, "<entity>.<id>.<name>" and
// "<entity>.<id>.<name>.<action>" so a parent collection's subscribers see
// item-level changes.
type TopicsFor struct{}

func (TopicsFor) TopicsFor(entity, instanceID string, action Action, related ...Relation) []string {
	topics := []string{entity}
	if instanceID != "" {
		topics = append(topics,
			fmt.Sprintf("%s.%s", entity, instanceID),
			fmt.Sprintf("%s.%s.%s", entity, instanceID, action),
		)
	}
	for _, rel := range related {
		base := fmt.Sprintf("%s.%s.%s", rel.Entity, rel.InstanceID, rel.Name)
		topics = append(topics, base, fmt.Sprintf("%s.%s", base, action))
	}
	return topics
}
