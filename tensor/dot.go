package tensor

import (
	"time"
)

// Dot returns the matrix product a x b. The result lives in whichever graph
// a or b is bound to; two graph-less constants get a fresh graph.
//
// When the operands belong to different graphs and one of them is the only
// node of its graph, as built by the package-level New, it is moved into the
// other graph together with its gradient. Any other graph mix returns
// ErrGraphMismatch.
func Dot(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		opErrors.WithLabelValues(opDot).Inc()
		return nil, ErrNilTensor
	}

	var g *Graph
	switch {
	case a.graph != nil && b.graph != nil && a.graph != b.graph:
		var stray *Tensor
		switch {
		case b.graph.soleLeaf(b):
			g, stray = a.graph, b
		case a.graph.soleLeaf(a):
			g, stray = b.graph, a
		default:
			opErrors.WithLabelValues(opDot).Inc()
			return nil, ErrGraphMismatch
		}
		if err := g.checkInner(a, b); err != nil {
			return nil, err
		}
		g.absorb(stray)
	case a.graph != nil:
		g = a.graph
	case b.graph != nil:
		g = b.graph
	default:
		g = NewGraph()
	}
	return g.Dot(a, b)
}

// checkInner rejects operands whose inner dimensions differ.
func (g *Graph) checkInner(a, b *Tensor) error {
	if a.shape.Cols == b.shape.Rows {
		return nil
	}
	err := &ShapeMismatchError{Op: opDot, Left: a.shape, Right: b.shape}
	opErrors.WithLabelValues(opDot).Inc()
	g.logger.Debug().Err(err).Msg("Rejected dot")
	return err
}

// Dot returns the matrix product a x b as a new differentiable tensor with a
// zeroed gradient buffer. Entry (i, j) is the sum over t of a[i][t]*b[t][j],
// accumulated in ascending t order. a.Cols must equal b.Rows, otherwise a
// *ShapeMismatchError is returned and neither operand is touched.
//
// Operands are borrowed: they are read but never modified. Unlike the
// package-level Dot, both operands must already be usable in g.
func (g *Graph) Dot(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		opErrors.WithLabelValues(opDot).Inc()
		return nil, ErrNilTensor
	}
	if !g.owns(a) || !g.owns(b) {
		opErrors.WithLabelValues(opDot).Inc()
		return nil, ErrGraphMismatch
	}
	if err := g.checkInner(a, b); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		opDuration.WithLabelValues(opDot).Observe(time.Since(start).Seconds())
	}()

	av := g.adopt(a)
	bv := g.adopt(b)
	shape := Shape{Rows: a.shape.Rows, Cols: b.shape.Cols}

	out := g.backend.NewTensor(shape.Rows, shape.Cols, nil)
	out.Mul(av, bv)

	t := &Tensor{
		graph:   g,
		backend: g.backend,
		value:   out,
		shape:   shape,
	}
	t.id = g.record(OpDot, shape,
		operand{id: a.id, value: av},
		operand{id: b.id, value: bv},
	)
	opsTotal.WithLabelValues(opDot).Inc()
	return t, nil
}
