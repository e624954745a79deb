package graph

// Walk visits every layer reachable from the graph inputs exactly once, in
// depth-first preorder along outbound edges, and returns the visitation
// order. A consumer already visited through another path is skipped.
//
// The walk starts at the Input layers themselves, in declaration order, so
// an input with several consumers is accepted and each consumer is reached
// from it.
//
// The traversal uses an explicit stack, so its depth does not depend on the
// call stack. Outbound nodes are pushed in reverse to keep the order of a
// recursive descent. If visit returns an error the walk stops and returns the
// order up to and including the failing node.
func Walk(g *Graph, visit func(*Node) error) ([]*Node, error) {
	visited := make(map[*Node]bool, len(g.Nodes))
	order := make([]*Node, 0, len(g.Nodes))

	stack := make([]*Node, 0, len(g.Inputs))
	for i := len(g.Inputs) - 1; i >= 0; i-- {
		stack = append(stack, g.Inputs[i])
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		order = append(order, n)

		if visit != nil {
			if err := visit(n); err != nil {
				return order, err
			}
		}

		for i := len(n.Outbound) - 1; i >= 0; i-- {
			if next := n.Outbound[i]; !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return order, nil
}

// Unvisited returns the graph nodes missing from order, in graph order.
func Unvisited(g *Graph, order []*Node) []*Node {
	seen := make(map[*Node]bool, len(order))
	for _, n := range order {
		seen[n] = true
	}
	var result []*Node
	for _, n := range g.Nodes {
		if !seen[n] {
			result = append(result, n)
		}
	}
	return result
}
