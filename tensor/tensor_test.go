package tensor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tensor, err := New([][]float64{{1.0, 2.0}})
	require.NoError(t, err)

	assert.Equal(t, Shape{Rows: 1, Cols: 2}, tensor.Shape())
	assert.Equal(t, [][]float64{{1.0, 2.0}}, tensor.Data())
	assert.True(t, tensor.RequiresGrad())

	grad := tensor.Grad()
	require.NotNil(t, grad)
	assert.Equal(t, [][]float64{{0.0, 0.0}}, grad.Data())
	assert.Equal(t, tensor.Shape(), grad.Shape())
	assert.False(t, grad.RequiresGrad(), "gradient copies are constants")
}

func TestNew_CopiesInput(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4}}
	tensor, err := New(rows)
	require.NoError(t, err)

	rows[0][0] = 100
	assert.Equal(t, 1.0, tensor.At(0, 0))

	data := tensor.Data()
	data[1][1] = 100
	assert.Equal(t, 4.0, tensor.At(1, 1))
}

func TestNew_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float64
		want error
	}{
		{"nil", nil, ErrEmptyInput},
		{"no rows", [][]float64{}, ErrEmptyInput},
		{"empty first row", [][]float64{{}}, ErrEmptyInput},
		{"short row", [][]float64{{1, 2}, {3}}, ErrIrregularRows},
		{"long row", [][]float64{{1}, {2}, {3, 4}}, ErrIrregularRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			tensor, err := g.New(tt.rows)
			assert.Nil(t, tensor)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, g.Len(), "rejected input must not record a node")
		})
	}
}

func TestNew_IrregularRowsDetail(t *testing.T) {
	_, err := New([][]float64{{1, 2}, {3, 4}, {5}})

	var irregular *IrregularRowsError
	require.True(t, errors.As(err, &irregular))
	assert.Equal(t, 2, irregular.Row)
	assert.Equal(t, 2, irregular.Want)
	assert.Equal(t, 1, irregular.Got)
}

func TestOnesZeros(t *testing.T) {
	for rows := 1; rows <= 4; rows++ {
		for cols := 1; cols <= 4; cols++ {
			ones, err := Ones(rows, cols)
			require.NoError(t, err)
			zeros, err := Zeros(rows, cols)
			require.NoError(t, err)

			assert.Equal(t, Shape{Rows: rows, Cols: cols}, ones.Shape())
			assert.Equal(t, Shape{Rows: rows, Cols: cols}, zeros.Shape())
			for _, row := range ones.Data() {
				for _, v := range row {
					assert.Equal(t, 1.0, v)
				}
			}
			for _, row := range zeros.Data() {
				for _, v := range row {
					assert.Equal(t, 0.0, v)
				}
			}

			assert.False(t, ones.RequiresGrad())
			assert.Nil(t, ones.Grad())
			assert.Nil(t, zeros.Grad())
			assert.Equal(t, NoNode, zeros.ID())
		}
	}
}

func TestOnes_Literal(t *testing.T) {
	ones, err := Ones(2, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.0, 1.0, 1.0}, {1.0, 1.0, 1.0}}, ones.Data())

	zeros, err := Zeros(2, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.0, 0.0, 0.0}, {0.0, 0.0, 0.0}}, zeros.Data())
}

func TestOnesZeros_InvalidShape(t *testing.T) {
	for _, dims := range [][2]int{{0, 1}, {1, 0}, {0, 0}, {-1, 3}, {math.MaxInt/2 + 1, 2}, {math.MaxInt, math.MaxInt}, {math.MaxInt, 2}} {
		_, err := Ones(dims[0], dims[1])
		assert.ErrorIs(t, err, ErrInvalidShape)

		g := NewGraph()
		_, err = g.Zeros(dims[0], dims[1])

		var invalid *InvalidShapeError
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, dims[0], invalid.Rows)
		assert.Equal(t, dims[1], invalid.Cols)
	}
}

func TestGraphConstants_NoNodes(t *testing.T) {
	g := NewGraph()
	ones, err := g.Ones(2, 2)
	require.NoError(t, err)

	assert.Same(t, g, ones.Graph())
	assert.False(t, ones.RequiresGrad())
	assert.Zero(t, g.Len())
}

func TestAt_OutOfRangePanics(t *testing.T) {
	tensor, err := New([][]float64{{1, 2}})
	require.NoError(t, err)

	assert.Panics(t, func() { tensor.At(1, 0) })
	assert.Panics(t, func() { tensor.At(0, -1) })
}

func TestString(t *testing.T) {
	tensor, err := New([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "Tensor(1, 2)[[1 2]] grad", tensor.String())

	ones, err := Ones(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Tensor(1, 1)[[1]]", ones.String())
}

func TestGraph_LogsRecordedNodes(t *testing.T) {
	var buf bytes.Buffer
	g := NewGraph(WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	_, err := g.New([][]float64{{1}})
	require.NoError(t, err)
	_, err = g.New(nil)
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"Recorded graph node"`)
	assert.Contains(t, out, `"op":"leaf"`)
	assert.Contains(t, out, `"message":"Rejected tensor construction"`)
}

func TestGraph_Constant(t *testing.T) {
	g := NewGraph()
	c, err := g.Constant([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)

	assert.False(t, c.RequiresGrad())
	assert.Equal(t, NoNode, c.ID())
	assert.Same(t, g, c.Graph())
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, c.Data())

	_, err = g.Constant(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestGraph_Restore(t *testing.T) {
	g := NewGraph()
	r, err := g.Restore([][]float64{{1, 2}}, [][]float64{{0.5, -1}})
	require.NoError(t, err)

	assert.True(t, r.RequiresGrad())
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, [][]float64{{1, 2}}, r.Data())
	assert.Equal(t, [][]float64{{0.5, -1}}, r.Grad().Data())

	r.ZeroGrad()
	assert.Equal(t, [][]float64{{0, 0}}, r.Grad().Data())
}

func TestGraph_RestoreErrors(t *testing.T) {
	g := NewGraph()

	_, err := g.Restore([][]float64{{1, 2}}, [][]float64{{1}})
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "restore", mismatch.Op)

	_, err = g.Restore([][]float64{{1, 2}, {3}}, [][]float64{{1, 2}, {3, 4}})
	assert.ErrorIs(t, err, ErrIrregularRows)

	_, err = g.Restore([][]float64{{1}}, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, g.Len())
}

func TestShape_Valid(t *testing.T) {
	assert.True(t, Shape{Rows: 1, Cols: 1}.Valid())
	assert.True(t, Shape{Rows: 2, Cols: math.MaxInt / 2}.Valid())
	assert.False(t, Shape{Rows: 3, Cols: math.MaxInt / 2}.Valid())
	assert.False(t, Shape{Rows: math.MaxInt, Cols: math.MaxInt}.Valid())
	assert.False(t, Shape{}.Valid())
}

func TestZeroValueTensor(t *testing.T) {
	var zero Tensor
	assert.False(t, zero.RequiresGrad())
	assert.Nil(t, zero.Grad())

	_, err := zero.Backward(context.Background())
	assert.ErrorIs(t, err, ErrNotDifferentiable)
	assert.NotPanics(t, zero.ZeroGrad)
}

func TestGraph_RestoreCountsOnce(t *testing.T) {
	news := testutil.ToFloat64(opsTotal.WithLabelValues(opNew))
	restores := testutil.ToFloat64(opsTotal.WithLabelValues(opRestore))

	_, err := NewGraph().Restore([][]float64{{1}}, [][]float64{{2}})
	require.NoError(t, err)

	assert.Equal(t, 0.0, testutil.ToFloat64(opsTotal.WithLabelValues(opNew))-news)
	assert.Equal(t, 1.0, testutil.ToFloat64(opsTotal.WithLabelValues(opRestore))-restores)
}
