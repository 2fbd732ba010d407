package dispatch

import (
	"sort"

	"github.com/edelvalle/djhtmx/pkg/component"
)

// commandQueue orders pending commands and applies the suppression rules:
// a Destroy kills every render of the same id scheduled around it, and only
// the latest full render of a component survives.
type commandQueue struct {
	items     []queuedCommand
	destroyed map[string]struct{}
	seq       int
}

type queuedCommand struct {
	cmd component.Command
	seq int
}

func newCommandQueue() *commandQueue {
	return &commandQueue{destroyed: make(map[string]struct{})}
}

func (q *commandQueue) push(cmds ...component.Command) {
	for _, cmd := range cmds {
		q.items = append(q.items, queuedCommand{cmd: cmd, seq: q.seq})
		q.seq++
	}
	q.optimize()
}

func (q *commandQueue) empty() bool { return len(q.items) == 0 }

func (q *commandQueue) pop() component.Command {
	cmd := q.items[0].cmd
	q.items = q.items[1:]
	return cmd
}

// priority buckets. Lower runs first: state-changing commands before the
// renders that read the result, terminal client effects last.
func priority(cmd component.Command) (int, string) {
	switch c := cmd.(type) {
	case component.Emit:
		return 1, ""
	case component.Destroy:
		return 2, ""
	case component.SkipRender:
		return 3, ""
	case component.BuildAndRender:
		return 4, ""
	case component.Render:
		if c.Template != "" {
			return 5, c.ComponentID
		}
		return 6, c.ComponentID
	default:
		return 7, ""
	}
}

// optimize sorts by priority (stable on arrival order) and drops commands
// that target destroyed components. For full renders of the same id, the
// latest wins and earlier ones are dropped.
func (q *commandQueue) optimize() {
	sort.SliceStable(q.items, func(i, j int) bool {
		pi, gi := priority(q.items[i].cmd)
		pj, gj := priority(q.items[j].cmd)
		if pi != pj {
			return pi < pj
		}
		if gi != gj {
			return gi < gj
		}
		return q.items[i].seq < q.items[j].seq
	})

	for _, it := range q.items {
		if d, ok := it.cmd.(component.Destroy); ok {
			q.destroyed[d.ComponentID] = struct{}{}
		}
	}

	kept := q.items[:0]
	for i, it := range q.items {
		switch c := it.cmd.(type) {
		case component.Render:
			if _, dead := q.destroyed[c.ComponentID]; dead {
				continue
			}
			if c.Template == "" && q.laterFullRender(i, c.ComponentID) {
				continue
			}
		case component.SkipRender:
			if _, dead := q.destroyed[c.ComponentID]; dead {
				continue
			}
		case component.BuildAndRender:
			if id, ok := c.State["id"].(string); ok {
				if _, dead := q.destroyed[id]; dead {
					continue
				}
			}
		}
		kept = append(kept, it)
	}
	q.items = kept
}

// laterFullRender reports whether another template-less render of the same
// component is queued after position i.
func (q *commandQueue) laterFullRender(i int, id string) bool {
	for _, it := range q.items[i+1:] {
		if r, ok := it.cmd.(component.Render); ok && r.ComponentID == id && r.Template == "" {
			return true
		}
	}
	return false
}
