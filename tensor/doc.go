// Package tensor implements a 2-D float64 tensor with reverse-mode automatic
// differentiation over matrix products.
//
// Tensors built from data (New) or produced by Dot own a gradient buffer and
// a node in a Graph. A Graph is an arena of operation records addressed by
// integer NodeID handles; nodes reference their operands by handle, never by
// pointer, so the graph cannot form ownership cycles. Ones and Zeros produce
// constants that take part in products but never receive gradients.
//
// Usage:
//
//	g := tensor.NewGraph()
//	a, _ := g.New([][]float64{{1, 2, 3}, {3, 2, 3}})
//	b, _ := g.Ones(3, 2)
//	c, _ := a.Dot(b)             // [[6 6] [8 8]]
//	_, _ = c.Backward(ctx)       // seeds dC with ones
//	fmt.Println(a.Grad().Data()) // ones(2,2) x b^T
//
// A Graph is single-owner and must not be used from several goroutines at
// once.
package tensor
