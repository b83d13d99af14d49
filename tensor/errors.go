package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when construction input has no rows or an
	// empty first row.
	ErrEmptyInput = errors.New("tensor: empty input")

	// ErrIrregularRows is returned when construction rows differ in length.
	ErrIrregularRows = errors.New("tensor: irregular rows")

	// ErrInvalidShape is returned when a requested dimension is below 1 or
	// the element count overflows int.
	ErrInvalidShape = errors.New("tensor: invalid shape")

	// ErrShapeMismatch is returned when operand shapes are incompatible.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrNotDifferentiable is returned by Backward on a tensor without a
	// gradient buffer.
	ErrNotDifferentiable = errors.New("tensor: tensor does not track gradients")

	// ErrGraphMismatch is returned when tensors from different graphs meet.
	ErrGraphMismatch = errors.New("tensor: operands belong to different graphs")

	// ErrNilTensor is returned when a nil *Tensor is passed as an operand.
	ErrNilTensor = errors.New("tensor: nil tensor")
)

// ShapeMismatchError reports the operator and both shapes of a rejected call.
type ShapeMismatchError struct {
	Op    string
	Left  Shape
	Right Shape
}

func (e *ShapeMismatchError) Error() string {
	if e.Op == opDot {
		return fmt.Sprintf("tensor: %s: shape mismatch: %v x %v: inner dimensions %d != %d",
			e.Op, e.Left, e.Right, e.Left.Cols, e.Right.Rows)
	}
	return fmt.Sprintf("tensor: %s: shape mismatch: %v vs %v", e.Op, e.Left, e.Right)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// IrregularRowsError reports the first row whose length differs from row 0.
type IrregularRowsError struct {
	Row  int
	Want int
	Got  int
}

func (e *IrregularRowsError) Error() string {
	return fmt.Sprintf("tensor: irregular rows: row %d has %d columns, want %d", e.Row, e.Got, e.Want)
}

func (e *IrregularRowsError) Unwrap() error { return ErrIrregularRows }

// InvalidShapeError reports a factory call with a dimension below 1 or an
// element count that overflows int.
type InvalidShapeError struct {
	Rows int
	Cols int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("tensor: invalid shape (%d, %d): dimensions must be >= 1 and their product must fit in int", e.Rows, e.Cols)
}

func (e *InvalidShapeError) Unwrap() error { return ErrInvalidShape }
