// Package signal routes external mutation notifications to subscribed
// components.
//
// The data store collaborator reports each committed mutation as an entity
// kind, instance id and action. A Notifier expands that into the full
// applicable topic set (entity, instance, instance+action, and declared
// related-entity topics); the Router matches every topic against the
// registry's subscription sets and plans one evaluation per matched
// component. A deleted instance destroys the components subscribed to it
// at the instance level; entity-prefix subscribers re-render.
package signal
