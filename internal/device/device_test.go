package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends() []Backend {
	return []Backend{NewCPUBackend(), NewGonumBackend()}
}

func TestBackend_TensorOps(t *testing.T) {
	for _, backend := range backends() {
		backend := backend
		t.Run(backend.Name(), func(t *testing.T) {
			t.Run("Add", func(t *testing.T) {
				a := backend.NewTensor(2, 2, []float64{1, 2, 3, 4})
				b := backend.NewTensor(2, 2, []float64{10, 20, 30, 40})

				a.Add(b)

				assert.Equal(t, []float64{11, 22, 33, 44}, a.ToHost())
			})

			t.Run("Mul", func(t *testing.T) {
				// A: 2x3, B: 3x2 -> C: 2x2
				a := backend.NewTensor(2, 3, []float64{
					1, 2, 3,
					4, 5, 6,
				})
				b := backend.NewTensor(3, 2, []float64{
					7, 8,
					9, 10,
					11, 12,
				})

				c := backend.NewTensor(2, 2, nil)
				c.Mul(a, b)

				// 1*7 + 2*9 + 3*11 = 7 + 18 + 33 = 58
				// 1*8 + 2*10 + 3*12 = 8 + 20 + 36 = 64
				// 4*7 + 5*9 + 6*11 = 28 + 45 + 66 = 139
				// 4*8 + 5*10 + 6*12 = 32 + 50 + 72 = 154
				assert.Equal(t, []float64{58, 64, 139, 154}, c.ToHost())
			})

			t.Run("MulTransposed", func(t *testing.T) {
				// a^T is 3x2, b^T is 2x3 -> 3x3
				a := backend.NewTensor(2, 3, []float64{
					1, 2, 3,
					4, 5, 6,
				})
				b := backend.NewTensor(3, 2, []float64{
					1, 0,
					0, 1,
					1, 1,
				})

				c := backend.NewTensor(3, 3, nil)
				c.Mul(a.T(), b.T())

				// a^T rows: {1,4} {2,5} {3,6}; b^T cols: {1,0} {0,1} {1,1}
				assert.Equal(t, []float64{
					1, 4, 5,
					2, 5, 7,
					3, 6, 9,
				}, c.ToHost())
			})

			t.Run("Transpose", func(t *testing.T) {
				a := backend.NewTensor(2, 3, []float64{1, 2, 3, 4, 5, 6})
				at := a.T()

				r, c := at.Dims()
				assert.Equal(t, 3, r)
				assert.Equal(t, 2, c)
				assert.Nil(t, at.Data())
				assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, at.ToHost())
				assert.Equal(t, 6.0, at.At(2, 1))

				at.Set(0, 1, 40)
				assert.Equal(t, 40.0, a.At(1, 0), "views share storage")
			})

			t.Run("Scale", func(t *testing.T) {
				a := backend.NewTensor(2, 2, []float64{1, 2, 3, 4})
				a.Scale(2.0)

				assert.Equal(t, []float64{2, 4, 6, 8}, a.ToHost())
			})

			t.Run("Fill", func(t *testing.T) {
				a := backend.NewTensor(2, 3, nil)
				a.Fill(1)
				assert.Equal(t, []float64{1, 1, 1, 1, 1, 1}, a.ToHost())
			})

			t.Run("CopyFrom", func(t *testing.T) {
				a := backend.NewTensor(2, 2, nil)
				a.CopyFrom([]float64{1, 2, 3, 4})
				assert.Equal(t, 3.0, a.At(1, 0))

				b := backend.NewTensor(2, 2, nil)
				b.Copy(a.T())
				assert.Equal(t, []float64{1, 3, 2, 4}, b.ToHost())
			})

			t.Run("NewTensorCopiesInput", func(t *testing.T) {
				data := []float64{1, 2}
				a := backend.NewTensor(1, 2, data)
				data[0] = 99
				assert.Equal(t, 1.0, a.At(0, 0))
			})

			t.Run("Pooling", func(t *testing.T) {
				t1 := backend.GetTensor(10, 10)
				t1.Set(0, 0, 123)
				backend.PutTensor(t1)

				t2 := backend.GetTensor(10, 10)
				// Should overwrite t1's memory, verify it is zeroed
				assert.Zero(t, t2.At(0, 0), "pooled tensor not zeroed")
			})
		})
	}
}

func TestBackend_MulParity(t *testing.T) {
	cpu := NewCPUBackend()
	gon := NewGonumBackend()

	// Large enough to take the parallel CPU path.
	const m, k, n = 70, 80, 90
	a := make([]float64, m*k)
	b := make([]float64, k*n)
	for i := range a {
		a[i] = math.Sin(float64(i))
	}
	for i := range b {
		b[i] = math.Cos(float64(i))
	}

	cc := cpu.NewTensor(m, n, nil)
	cc.Mul(cpu.NewTensor(m, k, a), cpu.NewTensor(k, n, b))

	gc := gon.NewTensor(m, n, nil)
	gc.Mul(gon.NewTensor(m, k, a), gon.NewTensor(k, n, b))

	// Naive reference with sequential accumulation.
	want := make([]float64, m*n)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float64
			for t := 0; t < k; t++ {
				sum += a[i*k+t] * b[t*n+j]
			}
			want[i*n+j] = sum
		}
	}

	assert.Equal(t, want, cc.ToHost(), "cpu backend must match sequential accumulation exactly")
	assert.InDeltaSlice(t, want, gc.ToHost(), 1e-9)
}

func TestBackend_MulDeterministic(t *testing.T) {
	backend := NewCPUBackend()
	const m, k, n = 64, 128, 64
	a := make([]float64, m*k)
	b := make([]float64, k*n)
	for i := range a {
		a[i] = 1.0 / float64(i+1)
	}
	for i := range b {
		b[i] = float64(i%7) - 3.3
	}
	ta := backend.NewTensor(m, k, a)
	tb := backend.NewTensor(k, n, b)

	first := backend.NewTensor(m, n, nil)
	first.Mul(ta, tb)
	for run := 0; run < 5; run++ {
		next := backend.NewTensor(m, n, nil)
		next.Mul(ta, tb)
		require.Equal(t, first.ToHost(), next.ToHost())
	}
}

func TestBackend_MulDimensionMismatchPanics(t *testing.T) {
	for _, backend := range backends() {
		a := backend.NewTensor(2, 3, nil)
		b := backend.NewTensor(2, 2, nil)
		c := backend.NewTensor(2, 2, nil)
		assert.Panics(t, func() { c.Mul(a, b) }, backend.Name())
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendCPU, b.Name())

	b, err = NewBackend(BackendGonum)
	require.NoError(t, err)
	assert.Equal(t, BackendGonum, b.Name())

	_, err = NewBackend("metal")
	assert.ErrorContains(t, err, "unknown backend")
}
