package device

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-autograd/internal/simd"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Tensor = (*CPUTensor)(nil)

// numWorkers defines the default parallelism for CPU operations
var numWorkers = runtime.NumCPU()

// parallelThreshold is the number of multiply-adds below which Mul stays on
// the calling goroutine.
const parallelThreshold = 64 * 64 * 64

type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &CPUTensor{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return BackendCPU
}

func (b *CPUBackend) NewTensor(r, c int, data []float64) Tensor {
	size := r * c
	t := &CPUTensor{
		backend: b,
		rows:    r,
		cols:    c,
	}

	t.data = make([]float64, size)
	if data != nil {
		if len(data) != size {
			log.Panic().Int("rows", r).Int("cols", c).Int("len", len(data)).
				Msg("NewTensor: provided data length does not match dimensions")
		}
		copy(t.data, data)
	}

	return t
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	ct, ok := b.pool.Get().(*CPUTensor)
	if !ok || ct == nil {
		ct = &CPUTensor{}
	}

	ct.backend = b
	ct.rows = r
	ct.cols = c
	ct.trans = false
	size := r * c
	if cap(ct.data) < size {
		poolMisses.WithLabelValues(BackendCPU).Inc()
		ct.data = make([]float64, size)
	} else {
		poolHits.WithLabelValues(BackendCPU).Inc()
		ct.data = ct.data[:size]
		simd.Fill(ct.data, 0)
	}
	return ct
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct.trans {
		return // Don't pool foreign tensors or views
	}

	ct.rows = 0
	ct.cols = 0
	// Data is zeroed when retrieved by GetTensor
	b.pool.Put(ct)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}

type CPUTensor struct {
	backend *CPUBackend
	data    []float64
	rows    int
	cols    int
	trans   bool // Transposed view flag
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float64 {
	if t.trans {
		// Logical (i, j) -> Physical (j, i)
		return t.data[j*t.cols+i]
	}
	return t.data[i*t.cols+j]
}

func (t *CPUTensor) Set(i, j int, v float64) {
	if t.trans {
		t.data[j*t.cols+i] = v
	} else {
		t.data[i*t.cols+j] = v
	}
}

func (t *CPUTensor) Data() []float64 {
	// If transposed, data is not contiguous in logical order
	if t.trans {
		return nil
	}
	return t.data
}

func (t *CPUTensor) ToHost() []float64 {
	if t.trans {
		rows, cols := t.Dims()
		out := make([]float64, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = t.At(i, j)
			}
		}
		return out
	}

	out := make([]float64, len(t.data))
	copy(out, t.data)
	return out
}

func (t *CPUTensor) CopyFrom(data []float64) {
	if len(data) != len(t.data) {
		log.Panic().Int("want", len(t.data)).Int("got", len(data)).Msg("CopyFrom: size mismatch")
	}
	if !t.trans {
		copy(t.data, data)
		return
	}
	_, cols := t.Dims()
	for idx, v := range data {
		t.Set(idx/cols, idx%cols, v)
	}
}

func (t *CPUTensor) Copy(from Tensor) {
	tr, tc := t.Dims()
	fr, fc := from.Dims()
	if tr != fr || tc != fc {
		log.Panic().Msgf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}

	ft, ok := from.(*CPUTensor)
	if ok && !t.trans && !ft.trans {
		copy(t.data, ft.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, from.At(i, j))
		}
	}
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{
		backend: t.backend,
		data:    t.data, // Share data
		rows:    t.rows,
		cols:    t.cols,
		trans:   !t.trans, // Toggle transpose state
	}
}

func (t *CPUTensor) Mul(a, b Tensor) {
	ma, ok1 := a.(*CPUTensor)
	mb, ok2 := b.(*CPUTensor)
	if !ok1 || !ok2 {
		log.Panic().Msg("Mixed backend Mul not supported")
	}

	ar, ac := ma.Dims()
	br, bc := mb.Dims()
	if ac != br {
		log.Panic().Msgf("Mul: dimension mismatch. A cols (%d) != B rows (%d)", ac, br)
	}

	tr, tc := t.Dims()
	if tr != ar || tc != bc {
		log.Panic().Msgf("Mul: result tensor dimension mismatch. Expected %dx%d, got %dx%d", ar, bc, tr, tc)
	}
	if t.trans {
		log.Panic().Msg("Mul: result tensor must not be a transposed view")
	}

	countMatMul(BackendCPU, ar, ac, bc)

	if ar*ac*bc < parallelThreshold {
		t.mulRows(ma, mb, 0, ar)
		return
	}

	// Parallel MatMul, one contiguous block of output rows per worker.
	// A cell is only ever written by one goroutine so the result does not
	// depend on scheduling.
	var g errgroup.Group
	rowsPerWorker := (ar + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if startRow >= ar {
			break
		}
		if endRow > ar {
			endRow = ar
		}

		g.Go(func() error {
			t.mulRows(ma, mb, startRow, endRow)
			return nil
		})
	}
	_ = g.Wait()
}

// mulRows computes rows [start, end) of t = a * b.
func (t *CPUTensor) mulRows(a, b *CPUTensor, start, end int) {
	_, common := a.Dims()
	_, bc := b.Dims()

	var scratch []float64
	if a.trans {
		scratch = make([]float64, common)
	}

	for i := start; i < end; i++ {
		// Get row A[i]
		var rowA []float64
		if a.trans {
			for k := 0; k < common; k++ {
				scratch[k] = a.At(i, k)
			}
			rowA = scratch
		} else {
			startA := i * a.cols
			rowA = a.data[startA : startA+a.cols]
		}

		out := t.data[i*t.cols : (i+1)*t.cols]
		for j := 0; j < bc; j++ {
			if b.trans {
				// Logical column j is physical row j
				startB := j * b.cols
				out[j] = simd.DotProduct(rowA, b.data[startB:startB+b.cols])
			} else {
				out[j] = simd.DotStrided(rowA, b.data[j:], b.cols)
			}
		}
	}
}

func (t *CPUTensor) Add(other Tensor) {
	tr, tc := t.Dims()
	orows, ocols := other.Dims()
	if tr != orows || tc != ocols {
		log.Panic().Msgf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, orows, ocols)
	}

	ot, ok := other.(*CPUTensor)
	if ok && !t.trans && !ot.trans {
		simd.VecAdd(t.data, ot.data)
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, t.At(i, j)+other.At(i, j))
		}
	}
}

func (t *CPUTensor) Scale(val float64) {
	simd.VecScale(t.data, val)
}

func (t *CPUTensor) Fill(val float64) {
	simd.Fill(t.data, val)
}
