package tensor

import (
	"fmt"
	"math"
)

// Shape is the (rows, cols) dimension pair of a dense matrix.
type Shape struct {
	Rows int
	Cols int
}

// NumElements returns Rows*Cols.
func (s Shape) NumElements() int {
	return s.Rows * s.Cols
}

// Valid reports whether both dimensions are at least 1 and Rows*Cols fits
// in an int.
func (s Shape) Valid() bool {
	return s.Rows >= 1 && s.Cols >= 1 && s.Cols <= math.MaxInt/s.Rows
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
}

func shapeOf(rows [][]float64) (Shape, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Shape{}, ErrEmptyInput
	}
	s := Shape{Rows: len(rows), Cols: len(rows[0])}
	for i, row := range rows[1:] {
		if len(row) != s.Cols {
			return Shape{}, &IrregularRowsError{Row: i + 1, Want: s.Cols, Got: len(row)}
		}
	}
	if !s.Valid() {
		return Shape{}, &InvalidShapeError{Rows: s.Rows, Cols: s.Cols}
	}
	return s, nil
}

// flatten copies rows into a row-major slice. rows must already be validated.
func flatten(rows [][]float64, s Shape) []float64 {
	out := make([]float64, 0, s.NumElements())
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
