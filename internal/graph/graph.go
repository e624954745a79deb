package graph

import (
	"github.com/born-ml/nnexport/internal/tensor"
)

// Node is a named layer of a graph.
type Node struct {
	Name  string
	Layer Layer
	// Shape is the output shape without batch dimension: [H, W, C] for
	// spatial layers, [N] after Flatten or Dense.
	Shape tensor.Shape
	// Inbound lists the inputs in argument order.
	Inbound []*Node
	// Outbound lists the consumers in the order they were connected.
	Outbound []*Node
}

// Kind returns the kind of the node's layer.
func (n *Node) Kind() Kind {
	return KindOf(n.Layer)
}

// Graph is a network of layers.
type Graph struct {
	// Nodes in insertion order.
	Nodes []*Node
	// Inputs are the Input layers the walk starts from.
	Inputs []*Node
	// Outputs are the declared model outputs.
	Outputs []*Node

	byName map[string]*Node
}

func newGraph() *Graph {
	return &Graph{byName: make(map[string]*Node)}
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// AddDetached adds a node that no input leads to. The node is not reachable
// by Walk; converters reject graphs containing such nodes.
func (g *Graph) AddDetached(name string, layer Layer, shape tensor.Shape) *Node {
	n := &Node{Name: name, Layer: layer, Shape: shape.Clone()}
	g.add(n)
	return n
}

// Connect adds an edge from one node to another.
func (g *Graph) Connect(from, to *Node) {
	from.Outbound = append(from.Outbound, to)
	to.Inbound = append(to.Inbound, from)
}

func (g *Graph) add(n *Node) {
	if g.byName == nil {
		g.byName = make(map[string]*Node)
	}
	g.Nodes = append(g.Nodes, n)
	g.byName[n.Name] = n
}
