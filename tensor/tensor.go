package tensor

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-autograd/internal/device"
)

// defaultBackend stores constants created outside any graph.
var defaultBackend device.Backend = device.NewCPUBackend()

// Tensor is a dense 2-D float64 matrix. Tensors built from data or produced
// by Dot are differentiable: they own a node in a Graph arena and a gradient
// buffer of the same shape. Ones and Zeros produce constants without one.
//
// The values of a Tensor never change after construction.
type Tensor struct {
	graph   *Graph
	backend device.Backend
	value   device.Tensor
	shape   Shape
	id      NodeID
}

// New builds a differentiable tensor in a fresh graph. See Graph.New.
func New(rows [][]float64) (*Tensor, error) {
	return NewGraph().New(rows)
}

// Ones returns a graph-less constant filled with 1.0.
func Ones(rows, cols int) (*Tensor, error) {
	return filled(nil, defaultBackend, opOnes, rows, cols, 1)
}

// Zeros returns a graph-less constant filled with 0.0.
func Zeros(rows, cols int) (*Tensor, error) {
	return filled(nil, defaultBackend, opZeros, rows, cols, 0)
}

// New copies rows into a differentiable leaf tensor with a zeroed gradient.
// rows must be non-empty and rectangular.
func (g *Graph) New(rows [][]float64) (*Tensor, error) {
	shape, err := shapeOf(rows)
	if err != nil {
		opErrors.WithLabelValues(opNew).Inc()
		g.logger.Debug().Err(err).Msg("Rejected tensor construction")
		return nil, err
	}

	t := g.leaf(shape, flatten(rows, shape))
	opsTotal.WithLabelValues(opNew).Inc()
	return t, nil
}

// leaf stores data on g's backend and records it as a leaf node.
func (g *Graph) leaf(shape Shape, data []float64) *Tensor {
	t := &Tensor{
		graph:   g,
		backend: g.backend,
		value:   g.backend.NewTensor(shape.Rows, shape.Cols, data),
		shape:   shape,
	}
	t.id = g.record(OpLeaf, shape)
	return t
}

// Ones returns a constant filled with 1.0 stored on g's backend.
func (g *Graph) Ones(rows, cols int) (*Tensor, error) {
	return filled(g, g.backend, opOnes, rows, cols, 1)
}

// Zeros returns a constant filled with 0.0 stored on g's backend.
func (g *Graph) Zeros(rows, cols int) (*Tensor, error) {
	return filled(g, g.backend, opZeros, rows, cols, 0)
}

// Constant copies rows into a constant stored on g's backend. It records no
// node and has no gradient.
func (g *Graph) Constant(rows [][]float64) (*Tensor, error) {
	shape, err := shapeOf(rows)
	if err != nil {
		opErrors.WithLabelValues(opConstant).Inc()
		return nil, err
	}
	opsTotal.WithLabelValues(opConstant).Inc()
	return &Tensor{
		graph:   g,
		backend: g.backend,
		value:   g.backend.NewTensor(shape.Rows, shape.Cols, flatten(rows, shape)),
		shape:   shape,
		id:      NoNode,
	}, nil
}

func filled(g *Graph, b device.Backend, op string, rows, cols int, v float64) (*Tensor, error) {
	shape := Shape{Rows: rows, Cols: cols}
	if !shape.Valid() {
		opErrors.WithLabelValues(op).Inc()
		return nil, &InvalidShapeError{Rows: rows, Cols: cols}
	}

	value := b.NewTensor(rows, cols, nil)
	if v != 0 {
		value.Fill(v)
	}
	opsTotal.WithLabelValues(op).Inc()
	return &Tensor{
		graph:   g,
		backend: b,
		value:   value,
		shape:   shape,
		id:      NoNode,
	}, nil
}

// Shape returns the (rows, cols) pair.
func (t *Tensor) Shape() Shape { return t.shape }

// Rows returns the number of rows.
func (t *Tensor) Rows() int { return t.shape.Rows }

// Cols returns the number of columns.
func (t *Tensor) Cols() int { return t.shape.Cols }

// At returns the value at row i, column j. It panics if the index is out of
// range, like slice indexing.
func (t *Tensor) At(i, j int) float64 {
	if i < 0 || i >= t.shape.Rows || j < 0 || j >= t.shape.Cols {
		panic(fmt.Sprintf("tensor: index (%d, %d) out of range for shape %v", i, j, t.shape))
	}
	return t.value.At(i, j)
}

// Data returns a copy of the values as rows.
func (t *Tensor) Data() [][]float64 {
	flat := t.value.ToHost()
	rows := make([][]float64, t.shape.Rows)
	for i := range rows {
		rows[i] = flat[i*t.shape.Cols : (i+1)*t.shape.Cols : (i+1)*t.shape.Cols]
	}
	return rows
}

// RequiresGrad reports whether t owns a gradient buffer.
func (t *Tensor) RequiresGrad() bool {
	return t.graph != nil && t.id != NoNode
}

// ID returns the arena handle of t, or NoNode for constants.
func (t *Tensor) ID() NodeID { return t.id }

// Graph returns the graph t is bound to, or nil for graph-less constants.
func (t *Tensor) Graph() *Graph { return t.graph }

// Grad returns a copy of the accumulated gradient as a constant tensor, or
// nil if t does not track gradients.
func (t *Tensor) Grad() *Tensor {
	if !t.RequiresGrad() {
		return nil
	}
	return t.graph.gradSnapshot(t.id)
}

// ZeroGrad resets t's gradient buffer. It is a no-op for constants.
func (t *Tensor) ZeroGrad() {
	if t.RequiresGrad() {
		t.graph.nodes[t.id].grad.Fill(0)
	}
}

// Dot returns t x other. See Graph.Dot.
func (t *Tensor) Dot(other *Tensor) (*Tensor, error) {
	return Dot(t, other)
}

// Backward propagates gradients from t through its graph. See Graph.Backward.
func (t *Tensor) Backward(ctx context.Context) (*Tensor, error) {
	if !t.RequiresGrad() {
		opErrors.WithLabelValues(opBackward).Inc()
		return nil, ErrNotDifferentiable
	}
	return t.graph.Backward(ctx, t)
}

func (t *Tensor) String() string {
	if t.RequiresGrad() {
		return fmt.Sprintf("Tensor%v%v grad", t.shape, t.Data())
	}
	return fmt.Sprintf("Tensor%v%v", t.shape, t.Data())
}

// Restore rebuilds a differentiable leaf from saved values and gradient.
// grad must have the same shape as rows.
func (g *Graph) Restore(rows, grad [][]float64) (*Tensor, error) {
	gradShape, err := shapeOf(grad)
	if err != nil {
		opErrors.WithLabelValues(opRestore).Inc()
		return nil, fmt.Errorf("restore grad: %w", err)
	}
	shape, err := shapeOf(rows)
	if err != nil {
		opErrors.WithLabelValues(opRestore).Inc()
		return nil, fmt.Errorf("restore data: %w", err)
	}
	if gradShape != shape {
		opErrors.WithLabelValues(opRestore).Inc()
		return nil, &ShapeMismatchError{Op: opRestore, Left: shape, Right: gradShape}
	}

	t := g.leaf(shape, flatten(rows, shape))
	g.nodes[t.id].grad.CopyFrom(flatten(grad, gradShape))
	opsTotal.WithLabelValues(opRestore).Inc()
	return t, nil
}
