package signal

import (
	"sort"
	"strings"

	"github.com/edelvalle/djhtmx/pkg/registry"
)

// Evaluation is the planned outcome for one matched component: a re-render,
// or destruction when the batch says its backing data is gone.
type Evaluation struct {
	ComponentID string
	Destroy     bool
}

// Scheduler places a closure onto a session's ordered event loop. Signal
// evaluations share the loop with user events so the two never interleave
// inside one connection.
type Scheduler interface {
	Schedule(fn func()) error
}

// Router matches mutation topics against a registry's subscriptions and
// schedules the affected components for evaluation on the owning session's
// loop.
type Router struct {
	reg   *registry.Registry
	sched Scheduler

	// evaluate is the dispatcher's entry point for a planned batch.
	evaluate func(evals []Evaluation)
}

// NewRouter creates a Router over one session's registry. The evaluate
// callback runs on the scheduler's loop and applies the planned batch.
func NewRouter(reg *registry.Registry, sched Scheduler, evaluate func(evals []Evaluation)) *Router {
	return &Router{reg: reg, sched: sched, evaluate: evaluate}
}

// Notify plans evaluations for the given topic set and schedules them. The
// topic set must be the complete expansion for one mutation (see Notifier);
// expansion is the store collaborator's job, not the router's.
func (rt *Router) Notify(topics []string) error {
	evals := Plan(rt.reg, topics)
	if len(evals) == 0 {
		return nil
	}
	return rt.sched.Schedule(func() { rt.evaluate(evals) })
}

// Plan matches every topic against the registry and collapses the matches
// into at most one evaluation per component id.
//
// Destruction requires ownership: a ".deleted" topic destroys only the
// components subscribed at or below the deleted subject's instance topic,
// whose backing data is now gone. Components watching the bare entity
// prefix (a list re-rendering as its items come and go) keep their
// re-render; destroying them on a member deletion would tear down the
// collection view with the member.
func Plan(reg *registry.Registry, topics []string) []Evaluation {
	destroy := make(map[string]bool)
	order := make([]string, 0)

	for _, topic := range topics {
		subject, deleted := strings.CutSuffix(topic, "."+string(Deleted))
		for _, id := range reg.FindByTopic(topic) {
			if _, seen := destroy[id]; !seen {
				order = append(order, id)
				destroy[id] = false
			}
			if deleted && !destroy[id] {
				destroy[id] = ownsSubject(reg, id, subject)
			}
		}
	}
	sort.Strings(order)

	evals := make([]Evaluation, 0, len(order))
	for _, id := range order {
		evals = append(evals, Evaluation{ComponentID: id, Destroy: destroy[id]})
	}
	return evals
}

// ownsSubject reports whether the component subscribes to the deleted
// subject at its instance topic or deeper.
func ownsSubject(reg *registry.Registry, id, subject string) bool {
	in, ok := reg.Get(id)
	if !ok {
		return false
	}
	for pattern := range in.Subscriptions {
		if registry.TopicMatches(subject, pattern) {
			return true
		}
	}
	return false
}
