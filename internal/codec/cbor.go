// Package codec serialises tensors as CBOR snapshots and Arrow record batches.
package codec

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-autograd/tensor"
)

// Snapshot is the CBOR form of a tensor. Grad is omitted for constants.
type Snapshot struct {
	Rows int         `cbor:"rows"`
	Cols int         `cbor:"cols"`
	Data [][]float64 `cbor:"data"`
	Grad [][]float64 `cbor:"grad,omitempty"`
}

// SnapshotOf captures the values and, if present, the gradient of t.
func SnapshotOf(t *tensor.Tensor) Snapshot {
	s := Snapshot{
		Rows: t.Rows(),
		Cols: t.Cols(),
		Data: t.Data(),
	}
	if grad := t.Grad(); grad != nil {
		s.Grad = grad.Data()
	}
	return s
}

// EncodeCBOR writes a snapshot of t to w.
func EncodeCBOR(w io.Writer, t *tensor.Tensor) error {
	if t == nil {
		return tensor.ErrNilTensor
	}
	if err := cbor.NewEncoder(w).Encode(SnapshotOf(t)); err != nil {
		return fmt.Errorf("encode tensor: %w", err)
	}
	return nil
}

// DecodeCBOR reads one snapshot from r and rebuilds it in g: a
// differentiable leaf with its gradient restored when the snapshot carries
// one, a constant otherwise.
func DecodeCBOR(r io.Reader, g *tensor.Graph) (*tensor.Tensor, error) {
	var s Snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode tensor: %w", err)
	}
	return s.Tensor(g)
}

// Tensor rebuilds the snapshot in g. The declared dimensions must agree with
// the data.
func (s Snapshot) Tensor(g *tensor.Graph) (*tensor.Tensor, error) {
	if len(s.Data) != s.Rows || (len(s.Data) > 0 && len(s.Data[0]) != s.Cols) {
		return nil, fmt.Errorf("snapshot declares (%d, %d): %w", s.Rows, s.Cols, tensor.ErrShapeMismatch)
	}
	if s.Grad != nil {
		return g.Restore(s.Data, s.Grad)
	}
	return g.Constant(s.Data)
}
