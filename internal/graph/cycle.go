package graph

import (
	"strconv"
	"strings"

	"github.com/rendis/stride/pkg/schema"
)

// DFS coloring states.
const (
	colorWhite = iota // unvisited
	colorGray         // in progress (on the current walk path)
	colorBlack        // done
)

// Validate runs a depth-first walk over the graph with three-state coloring
// and fails with a DEPENDENCY_ERROR naming the exact cycle when a node is
// reached while still in progress. Iteration order is ascending step id, so
// the same cyclic graph always reports an equivalent cycle. O(V+E).
func Validate(g *Graph) error {
	color := make(map[int]int, len(g.Nodes))

	type frame struct {
		id   int
		next int // index of the next dependency to visit
	}

	for _, root := range g.ids {
		if color[root] != colorWhite {
			continue
		}

		// Explicit stack instead of recursion; path mirrors the gray chain.
		stack := []frame{{id: root}}
		path := []int{root}
		color[root] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.Nodes[top.id].DependsOn

			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++

				switch color[dep] {
				case colorGray:
					return cycleError(path, dep)
				case colorWhite:
					color[dep] = colorGray
					stack = append(stack, frame{id: dep})
					path = append(path, dep)
				}
				continue
			}

			color[top.id] = colorBlack
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return nil
}

// cycleError reconstructs the cycle from the current walk path and formats
// it as "a -> b -> ... -> a".
func cycleError(path []int, repeated int) error {
	start := 0
	for i, id := range path {
		if id == repeated {
			start = i
			break
		}
	}
	cycle := append(append([]int{}, path[start:]...), repeated)

	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = strconv.Itoa(id)
	}
	return schema.NewErrorf(schema.ErrCodeDependency,
		"circular dependency: %s", strings.Join(parts, " -> ")).
		WithDetails(map[string]any{"cycle": cycle})
}
