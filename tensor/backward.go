package tensor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-autograd/internal/device"
)

// Backward runs reverse-mode differentiation from root, seeding its gradient
// with ones. See BackwardWith.
func (g *Graph) Backward(ctx context.Context, root *Tensor) (*Tensor, error) {
	return g.BackwardWith(ctx, root, nil)
}

// BackwardWith runs reverse-mode differentiation from root with the given
// seed gradient (ones when seed is nil).
//
// Nodes reachable from root are visited in descending NodeID order, which is
// reverse topological order for an append-only arena. For C = A x B:
//
//	dA += dC x B^T
//	dB += A^T x dC
//
// Gradients for one call are summed in scratch buffers first and then added
// to every reached node's persistent buffer, so repeated calls accumulate.
// The returned tensor is root's accumulated gradient.
//
// ctx is only used to parent the trace span; the pass is not cancellable.
func (g *Graph) BackwardWith(ctx context.Context, root, seed *Tensor) (*Tensor, error) {
	if root == nil {
		opErrors.WithLabelValues(opBackward).Inc()
		return nil, ErrNilTensor
	}
	if !root.RequiresGrad() {
		opErrors.WithLabelValues(opBackward).Inc()
		return nil, ErrNotDifferentiable
	}
	if root.graph != g {
		opErrors.WithLabelValues(opBackward).Inc()
		return nil, ErrGraphMismatch
	}
	if seed != nil && seed.shape != root.shape {
		opErrors.WithLabelValues(opBackward).Inc()
		return nil, &ShapeMismatchError{Op: opBackward, Left: root.shape, Right: seed.shape}
	}

	_, span := g.tracer.Start(ctx, "tensor.Backward", trace.WithAttributes(
		attribute.Int("root_node", int(root.id)),
		attribute.Int("rows", root.shape.Rows),
		attribute.Int("cols", root.shape.Cols),
		attribute.String("backend", g.backend.Name()),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		opDuration.WithLabelValues(opBackward).Observe(time.Since(start).Seconds())
	}()

	// pending[id] holds dLoss/d(node id) for this pass; nil means no
	// gradient reached the node.
	pending := make([]device.Tensor, root.id+1)
	rootGrad := g.backend.GetTensor(root.shape.Rows, root.shape.Cols)
	if seed == nil {
		rootGrad.Fill(1)
	} else {
		rootGrad.Copy(g.adopt(seed))
	}
	pending[root.id] = rootGrad

	for id := root.id; id >= 0; id-- {
		gOut := pending[id]
		if gOut == nil {
			continue
		}
		n := &g.nodes[id]
		switch n.op {
		case OpDot:
			a, b := n.operands[0], n.operands[1]
			if a.id != NoNode {
				ar, ac := a.value.Dims()
				ga := g.backend.GetTensor(ar, ac)
				ga.Mul(gOut, b.value.T())
				g.accumulate(pending, a.id, ga)
			}
			if b.id != NoNode {
				br, bc := b.value.Dims()
				gb := g.backend.GetTensor(br, bc)
				gb.Mul(a.value.T(), gOut)
				g.accumulate(pending, b.id, gb)
			}
		case OpLeaf:
		}
	}

	visited := 0
	for id, grad := range pending {
		if grad == nil {
			continue
		}
		g.nodes[id].grad.Add(grad)
		g.backend.PutTensor(grad)
		visited++
	}
	g.backend.Synchronize()

	span.SetAttributes(attribute.Int("nodes_visited", visited))
	span.SetStatus(codes.Ok, "")
	opsTotal.WithLabelValues(opBackward).Inc()
	g.logger.Debug().
		Int("root_node", int(root.id)).
		Int("nodes_visited", visited).
		Dur("elapsed", time.Since(start)).
		Msg("Backward pass complete")

	return g.gradSnapshot(root.id), nil
}

// accumulate adds grad into pending[id], taking ownership of grad.
func (g *Graph) accumulate(pending []device.Tensor, id NodeID, grad device.Tensor) {
	if pending[id] == nil {
		pending[id] = grad
		return
	}
	pending[id].Add(grad)
	g.backend.PutTensor(grad)
}
