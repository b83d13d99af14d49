package device

import (
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

var _ Backend = (*GonumBackend)(nil)
var _ Tensor = (*GonumTensor)(nil)

// GonumBackend stores tensors as gonum dense matrices and multiplies them
// through blas64, which picks up netlib when built with the netlib tag.
type GonumBackend struct {
	pool sync.Pool // *mat.Dense
}

func NewGonumBackend() *GonumBackend {
	return &GonumBackend{}
}

func (b *GonumBackend) Name() string {
	return BackendGonum
}

func (b *GonumBackend) NewTensor(r, c int, data []float64) Tensor {
	var raw []float64
	if data != nil {
		if len(data) != r*c {
			log.Panic().Int("rows", r).Int("cols", c).Int("len", len(data)).
				Msg("NewTensor: provided data length does not match dimensions")
		}
		raw = make([]float64, len(data))
		copy(raw, data)
	}
	return &GonumTensor{backend: b, m: mat.NewDense(r, c, raw)}
}

func (b *GonumBackend) GetTensor(r, c int) Tensor {
	if v := b.pool.Get(); v != nil {
		m := v.(*mat.Dense)
		raw := m.RawMatrix().Data
		if cap(raw) >= r*c {
			poolHits.WithLabelValues(BackendGonum).Inc()
			raw = raw[:r*c]
			for i := range raw {
				raw[i] = 0
			}
			return &GonumTensor{backend: b, m: mat.NewDense(r, c, raw)}
		}
	}
	poolMisses.WithLabelValues(BackendGonum).Inc()
	return &GonumTensor{backend: b, m: mat.NewDense(r, c, nil)}
}

func (b *GonumBackend) PutTensor(t Tensor) {
	gt, ok := t.(*GonumTensor)
	if !ok || gt.trans {
		return
	}
	b.pool.Put(gt.m)
	gt.m = nil
}

func (b *GonumBackend) Synchronize() {}

// GonumTensor wraps a *mat.Dense. Transposed views share the dense matrix.
type GonumTensor struct {
	backend *GonumBackend
	m       *mat.Dense
	trans   bool
}

// matrix returns the logical matrix, honouring the transpose flag.
func (t *GonumTensor) matrix() mat.Matrix {
	if t.trans {
		return t.m.T()
	}
	return t.m
}

func (t *GonumTensor) Dims() (int, int) {
	return t.matrix().Dims()
}

func (t *GonumTensor) At(i, j int) float64 {
	return t.matrix().At(i, j)
}

func (t *GonumTensor) Set(i, j int, v float64) {
	if t.trans {
		t.m.Set(j, i, v)
		return
	}
	t.m.Set(i, j, v)
}

func (t *GonumTensor) Data() []float64 {
	if t.trans {
		return nil
	}
	return t.m.RawMatrix().Data
}

func (t *GonumTensor) ToHost() []float64 {
	if !t.trans {
		raw := t.m.RawMatrix().Data
		out := make([]float64, len(raw))
		copy(out, raw)
		return out
	}
	return mat.DenseCopyOf(t.matrix()).RawMatrix().Data
}

func (t *GonumTensor) CopyFrom(data []float64) {
	r, c := t.Dims()
	if len(data) != r*c {
		log.Panic().Int("want", r*c).Int("got", len(data)).Msg("CopyFrom: size mismatch")
	}
	if !t.trans {
		copy(t.m.RawMatrix().Data, data)
		return
	}
	for idx, v := range data {
		t.Set(idx/c, idx%c, v)
	}
}

func (t *GonumTensor) Copy(from Tensor) {
	tr, tc := t.Dims()
	fr, fc := from.Dims()
	if tr != fr || tc != fc {
		log.Panic().Msgf("Copy: dimension mismatch. Target: %dx%d, Source: %dx%d", tr, tc, fr, fc)
	}
	if ft, ok := from.(*GonumTensor); ok && !t.trans {
		t.m.Copy(ft.matrix())
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, from.At(i, j))
		}
	}
}

func (t *GonumTensor) T() Tensor {
	return &GonumTensor{backend: t.backend, m: t.m, trans: !t.trans}
}

func (t *GonumTensor) Mul(a, b Tensor) {
	ga, ok1 := a.(*GonumTensor)
	gb, ok2 := b.(*GonumTensor)
	if !ok1 || !ok2 {
		log.Panic().Msg("Mixed backend Mul not supported")
	}

	ar, ac := ga.Dims()
	br, bc := gb.Dims()
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

	countMatMul(BackendGonum, ar, ac, bc)
	t.m.Mul(ga.matrix(), gb.matrix())
}

func (t *GonumTensor) Add(other Tensor) {
	tr, tc := t.Dims()
	orows, ocols := other.Dims()
	if tr != orows || tc != ocols {
		log.Panic().Msgf("Add: dimension mismatch. Target: %dx%d, Other: %dx%d", tr, tc, orows, ocols)
	}
	if ot, ok := other.(*GonumTensor); ok && !t.trans {
		t.m.Add(t.m, ot.matrix())
		return
	}
	for i := 0; i < tr; i++ {
		for j := 0; j < tc; j++ {
			t.Set(i, j, t.At(i, j)+other.At(i, j))
		}
	}
}

func (t *GonumTensor) Scale(val float64) {
	t.m.Scale(val, t.m)
}

func (t *GonumTensor) Fill(val float64) {
	raw := t.m.RawMatrix().Data
	for i := range raw {
		raw[i] = val
	}
}
