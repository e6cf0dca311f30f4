// Package graph implements a small symbolic computation graph.
//
// A Graph is an append-only list of Nodes. Nodes are created through a Scope,
// which namespaces their names ("Dense/MatMul", "Dense_1/Add") and infers
// static shapes when the inputs' shapes are known. Nothing is computed here;
// a session.Session evaluates the graph.
//
// Node IDs grow with creation order and every node's inputs were created
// before it, so ID order is a valid topological order.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/born-ml/weaver/internal/tensor"
)

// Op identifies the operation a Node performs.
type Op string

// Supported operations.
const (
	OpPlaceholder Op = "Placeholder"
	OpConst       Op = "Const"
	OpVariable    Op = "Variable"

	OpAdd       Op = "Add"
	OpSub       Op = "Sub"
	OpMul       Op = "Mul"
	OpDiv       Op = "Div"
	OpNeg       Op = "Neg"
	OpScale     Op = "Scale"
	OpSquare    Op = "Square"
	OpMatMul    Op = "MatMul"
	OpTranspose Op = "Transpose"
	OpReLU      Op = "ReLU"
	OpSigmoid   Op = "Sigmoid"
	OpTanh      Op = "Tanh"
	OpSum       Op = "Sum"
	OpMean      Op = "Mean"

	// Helpers emitted by Gradients.
	OpStep          Op = "Step"
	OpSumLike       Op = "SumLike"
	OpBroadcastLike Op = "BroadcastLike"
	OpOnesLike      Op = "OnesLike"
	OpZerosLike     Op = "ZerosLike"
	OpCount         Op = "Count"
)

// Node is a single operation in a Graph. Nodes are immutable once created.
type Node struct {
	graph  *Graph
	id     int
	name   string
	op     Op
	inputs []*Node
	shape  tensor.Shape
	value  *tensor.Tensor
	factor float64
}

// ID returns the node's position in its graph.
func (n *Node) ID() int { return n.id }

// Name returns the node's unique, scope-qualified name.
func (n *Node) Name() string { return n.name }

// Op returns the node's operation.
func (n *Node) Op() Op { return n.op }

// Graph returns the graph owning the node.
func (n *Node) Graph() *Graph { return n.graph }

// Inputs returns the node's inputs in argument order.
func (n *Node) Inputs() []*Node {
	return append([]*Node(nil), n.inputs...)
}

// Shape returns the statically known shape, or nil if it is only known at run time.
func (n *Node) Shape() tensor.Shape { return n.shape }

// Value returns the constant value of a Const node or the initial value of a Variable.
func (n *Node) Value() *tensor.Tensor { return n.value }

// Factor returns the multiplier of a Scale node.
func (n *Node) Factor() float64 { return n.factor }

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)%v", n.op, n.name, n.shape)
}

// Graph holds the nodes of one computation.
type Graph struct {
	mu        sync.Mutex
	nodes     []*Node
	names     map[string]int
	variables []*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{names: make(map[string]int)}
}

// Root returns the unnamed top-level scope of the graph.
func (g *Graph) Root() *Scope {
	return &Scope{graph: g}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id int) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id < 0 || id >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns all nodes in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.nodes...)
}

// Variables returns the Variable nodes in creation order.
func (g *Graph) Variables() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.variables...)
}

// Lookup finds a node by its full name.
func (g *Graph) Lookup(name string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if n.name == name {
			return n
		}
	}
	return nil
}

// unique returns base, or base_N when base was already taken.
// Caller must hold g.mu.
func (g *Graph) unique(base string) string {
	count, taken := g.names[base]
	g.names[base] = count + 1
	if !taken {
		return base
	}
	for {
		candidate := fmt.Sprintf("%s_%d", base, count)
		if _, clash := g.names[candidate]; !clash {
			g.names[candidate] = 1
			return candidate
		}
		count++
	}
}

func (g *Graph) add(n *Node, prefix, base string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	n.graph = g
	n.id = len(g.nodes)
	n.name = g.unique(join(prefix, base))
	g.nodes = append(g.nodes, n)
	if n.op == OpVariable {
		g.variables = append(g.variables, n)
	}
	return n
}

func (g *Graph) reserveScope(prefix, name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unique(join(prefix, name))
}

func join(prefix, name string) string {
	name = strings.Trim(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
