package agent

import (
	"github.com/jllopis/hive/pkg/errors"
)

// Graph holds the agents of a hive keyed by id. The queen is the root every
// specialist can hand back to.
type Graph struct {
	queen  string
	agents map[string]*Agent
	order  []string
}

// NewGraph builds the graph from copies of the given agents. The queen gets
// a transfer_to_<id> tool for every specialist that she does not already
// have, and every specialist gets exactly one transfer_to_<queen> tool.
func NewGraph(queen *Agent, specialists ...*Agent) (*Graph, error) {
	if queen == nil {
		return nil, errors.Errorf(errors.CodeConfig, "graph requires a queen agent")
	}
	g := &Graph{
		queen:  queen.ID,
		agents: make(map[string]*Agent, len(specialists)+1),
	}
	if err := g.add(queen.clone()); err != nil {
		return nil, err
	}
	for _, s := range specialists {
		if s == nil {
			return nil, errors.Errorf(errors.CodeConfig, "nil specialist agent")
		}
		if err := g.add(s.clone()); err != nil {
			return nil, err
		}
	}

	q := g.agents[g.queen]
	for _, id := range g.order[1:] {
		sa := g.agents[id]
		if !hasHandoverTo(q, id) {
			if err := q.addTool(NewHandoverTool(id, sa.Description, nil)); err != nil {
				return nil, err
			}
		}
		if !hasHandoverTo(sa, g.queen) {
			if err := sa.addTool(NewHandoverTool(g.queen, q.Description, nil)); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) add(a *Agent) error {
	if _, dup := g.agents[a.ID]; dup {
		return errors.Errorf(errors.CodeConfig, "duplicate agent id %q", a.ID)
	}
	g.agents[a.ID] = a
	g.order = append(g.order, a.ID)
	return nil
}

func hasHandoverTo(a *Agent, target string) bool {
	for _, h := range a.handovers() {
		if h.Target == target {
			return true
		}
	}
	return false
}

// Queen returns the root agent.
func (g *Graph) Queen() *Agent { return g.agents[g.queen] }

// Agent looks up an agent by id.
func (g *Graph) Agent(id string) (*Agent, bool) {
	a, ok := g.agents[id]
	return a, ok
}

// Agents returns the queen followed by the specialists in insertion order.
func (g *Graph) Agents() []*Agent {
	out := make([]*Agent, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.agents[id])
	}
	return out
}

// Resolve returns the agent a handover points to.
func (g *Graph) Resolve(h Handover) (*Agent, error) {
	a, ok := g.agents[h.Agent]
	if !ok {
		return nil, errors.Errorf(errors.CodeHandover, "handover to unknown agent %q", h.Agent).
			WithContext("agent", h.Agent)
	}
	return a, nil
}

// Validate checks that every handover target exists and that every
// specialist has exactly one handover back to the queen.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		a := g.agents[id]
		back := 0
		for _, h := range a.handovers() {
			if _, ok := g.agents[h.Target]; !ok {
				return errors.Errorf(errors.CodeConfig, "agent %q hands over to unknown agent %q", id, h.Target)
			}
			if h.Target == g.queen {
				back++
			}
		}
		if id != g.queen && back != 1 {
			return errors.Errorf(errors.CodeConfig, "agent %q must have exactly one handover to %q, has %d", id, g.queen, back)
		}
	}
	return nil
}
