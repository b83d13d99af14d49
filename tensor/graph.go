package tensor

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-autograd/internal/device"
)

const tracerName = "github.com/23skdu/longbow-autograd/tensor"

// NodeID indexes a node in a Graph arena.
type NodeID int

// NoNode marks a tensor that is not part of any graph arena.
const NoNode NodeID = -1

// Op identifies the operation that produced a node.
type Op uint8

const (
	// OpLeaf is a tensor built from caller data.
	OpLeaf Op = iota
	// OpDot is a matrix product of two operands.
	OpDot
)

func (o Op) String() string {
	switch o {
	case OpLeaf:
		return "leaf"
	case OpDot:
		return "dot"
	default:
		return "unknown"
	}
}

// operand is a captured input of a node. id is NoNode for constants, whose
// value is still needed to compute the other operand's gradient.
type operand struct {
	id    NodeID
	value device.Tensor
}

type node struct {
	op       Op
	shape    Shape
	operands []operand
	grad     device.Tensor
}

// Graph is an append-only arena of operation records. Operands are always
// recorded before their results, so ascending NodeID order is a topological
// order of the computation.
//
// A Graph is not safe for concurrent use.
type Graph struct {
	backend device.Backend
	nodes   []node
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// Option configures a Graph.
type Option func(*Graph)

// WithBackend sets the device backend that stores values and gradients.
func WithBackend(b device.Backend) Option {
	return func(g *Graph) {
		g.backend = b
	}
}

// WithLogger sets the logger used for graph events.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Graph) {
		g.logger = l
	}
}

// WithTracer sets the tracer used for Backward spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Graph) {
		g.tracer = t
	}
}

// NewGraph creates an empty graph. Without options it stores tensors on the
// CPU backend, logs through the global zerolog logger and traces through the
// global OpenTelemetry provider.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		nodes:  make([]node, 0, 16),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.backend == nil {
		g.backend = device.NewCPUBackend()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g
}

// Len returns the number of recorded nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Backend returns the name of the graph's device backend.
func (g *Graph) Backend() string {
	return g.backend.Name()
}

// record appends a node with a zeroed gradient buffer and returns its id.
func (g *Graph) record(op Op, shape Shape, operands ...operand) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, node{
		op:       op,
		shape:    shape,
		operands: operands,
		grad:     g.backend.NewTensor(shape.Rows, shape.Cols, nil),
	})
	nodesRecorded.Inc()
	g.logger.Debug().
		Int("node", int(id)).
		Stringer("op", op).
		Stringer("shape", shape).
		Msg("Recorded graph node")
	return id
}

// ZeroGrad resets every gradient buffer in the graph to zero.
func (g *Graph) ZeroGrad() {
	for i := range g.nodes {
		g.nodes[i].grad.Fill(0)
	}
}

// owns reports whether t may be used as an operand in g: it is either bound
// to g or a graph-less constant.
func (g *Graph) owns(t *Tensor) bool {
	return t.graph == nil || t.graph == g
}

// soleLeaf reports whether t is a leaf and the only node of g.
func (g *Graph) soleLeaf(t *Tensor) bool {
	return t.graph == g && t.id == 0 && len(g.nodes) == 1 && g.nodes[0].op == OpLeaf
}

// absorb re-records t, the sole leaf of another graph, as a leaf of g and
// carries its accumulated gradient over. The donor graph is left empty.
func (g *Graph) absorb(t *Tensor) {
	donor := t.graph
	grad := donor.nodes[t.id].grad.ToHost()

	t.value = g.adopt(t)
	t.backend = g.backend
	t.graph = g
	t.id = g.record(OpLeaf, t.shape)
	g.nodes[t.id].grad.CopyFrom(grad)

	donor.nodes = donor.nodes[:0]
	g.logger.Debug().Int("node", int(t.id)).Msg("Absorbed leaf from another graph")
}

// adopt returns t's value on g's backend, copying it across backends.
func (g *Graph) adopt(t *Tensor) device.Tensor {
	if t.backend == g.backend {
		return t.value
	}
	return g.backend.NewTensor(t.shape.Rows, t.shape.Cols, t.value.ToHost())
}

// gradSnapshot copies the gradient buffer of id into a constant tensor.
func (g *Graph) gradSnapshot(id NodeID) *Tensor {
	n := &g.nodes[id]
	return &Tensor{
		graph:   g,
		backend: g.backend,
		value:   g.backend.NewTensor(n.shape.Rows, n.shape.Cols, n.grad.ToHost()),
		shape:   n.shape,
		id:      NoNode,
	}
}
