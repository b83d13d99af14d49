package device

import "fmt"

// Tensor is a dense row-major float64 matrix resident on a backend.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// This is often slow and should be used for debugging or infrequent access.
	At(i, j int) float64

	// Set sets the value at (i, j).
	Set(i, j int, v float64)

	// Data returns the underlying slice if it is contiguous in logical order
	// (nil for transposed views).
	Data() []float64

	// ToHost copies the data to a Go slice in logical row-major order.
	ToHost() []float64

	// CopyFrom copies data from a row-major Go slice into the tensor.
	CopyFrom(data []float64)

	// Copy copies content from another tensor of the same dimensions.
	Copy(from Tensor)

	// T returns the transpose view. The view shares storage with t.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b
	// Each output cell is accumulated over the inner dimension in
	// ascending order starting from zero. t must not share storage with
	// a or b.
	Mul(a, b Tensor)

	// Add performs element-wise addition: t = t + other
	Add(other Tensor)

	// Scale performs: t = t * val
	Scale(val float64)

	// Fill sets every element to val.
	Fill(val float64)
}

// Backend creates tensors and manages their memory.
type Backend interface {
	Name() string

	// NewTensor allocates an r x c tensor. A nil data slice yields zeros,
	// otherwise data is copied and must hold exactly r*c values.
	NewTensor(r, c int, data []float64) Tensor

	// GetTensor gets a zeroed tensor from the pool or creates a new one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}

// Backend names accepted by NewBackend.
const (
	BackendCPU   = "cpu"
	BackendGonum = "gonum"
)

// NewBackend returns the backend registered under name.
// An empty name selects the CPU backend.
func NewBackend(name string) (Backend, error) {
	switch name {
	case "", BackendCPU:
		return NewCPUBackend(), nil
	case BackendGonum:
		return NewGonumBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want %q or %q)", name, BackendCPU, BackendGonum)
	}
}
