package graph

// Order computes a topological execution order over the graph: every step's
// dependencies appear strictly before it. The walk is depth-first post-order:
// a step is appended only after all of its dependencies have been appended,
// which already satisfies the ordering invariant, so the result is NOT reversed.
// Ties among independent steps break by ascending step id, keeping the order
// deterministic. The graph must be cycle-checked with Validate first.
func Order(g *Graph) []int {
	visited := make(map[int]bool, len(g.Nodes))
	order := make([]int, 0, len(g.Nodes))

	type frame struct {
		id   int
		next int
	}

	for _, root := range g.ids {
		if visited[root] {
			continue
		}
		visited[root] = true
		stack := []frame{{id: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.Nodes[top.id].DependsOn

			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++
				if !visited[dep] {
					visited[dep] = true
					stack = append(stack, frame{id: dep})
				}
				continue
			}

			order = append(order, top.id)
			stack = stack[:len(stack)-1]
		}
	}

	return order
}
