package graph

import (
	"sort"

	"github.com/rendis/stride/pkg/schema"
)

// Node is one step's entry in the dependency graph arena.
type Node struct {
	Step      *schema.Step
	DependsOn []int // forward edges: steps that must complete first
	Blocks    []int // reverse edges: steps waiting on this one
}

// Graph is the id-indexed dependency graph for one phase's steps.
// Nodes are addressed by integer step id rather than live object references.
type Graph struct {
	Nodes map[int]*Node
	ids   []int // all step ids, ascending, for deterministic walks
}

// IDs returns all step ids in ascending order.
func (g *Graph) IDs() []int {
	return g.ids
}

// Build turns a phase's step collection into an adjacency structure with
// forward depends_on and derived reverse blocks edges. It fails with a
// DEPENDENCY_ERROR on a dangling reference, before any cycle or ordering
// work, so structurally broken plans never begin executing.
func Build(steps []schema.Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeDecomposition, "phase has no steps")
	}

	g := &Graph{
		Nodes: make(map[int]*Node, len(steps)),
		ids:   make([]int, 0, len(steps)),
	}

	// First pass: register all steps and check for duplicates.
	for i := range steps {
		step := &steps[i]
		if _, exists := g.Nodes[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDependency,
				"duplicate step id: %d", step.ID)
		}
		g.Nodes[step.ID] = &Node{Step: step}
		g.ids = append(g.ids, step.ID)
	}
	sort.Ints(g.ids)

	// Second pass: build adjacency lists and reject dangling references.
	for _, id := range g.ids {
		node := g.Nodes[id]
		seen := make(map[int]bool, len(node.Step.Dependencies))
		for _, dep := range node.Step.Dependencies {
			if _, exists := g.Nodes[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeDependency,
					"dangling reference: step %d depends on non-existent step %d", id, dep).
					WithStep(id).
					WithDetails(map[string]any{"missing_step": dep})
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			node.DependsOn = append(node.DependsOn, dep)
			g.Nodes[dep].Blocks = append(g.Nodes[dep].Blocks, id)
		}
		sort.Ints(node.DependsOn)
	}

	// Keep reverse edges deterministic too.
	for _, id := range g.ids {
		sort.Ints(g.Nodes[id].Blocks)
	}

	return g, nil
}
