package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_device_pool_hits_total",
		Help: "Total number of tensors served from a backend pool",
	}, []string{"backend"})

	poolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_device_pool_misses_total",
		Help: "Total number of pool misses that required an allocation",
	}, []string{"backend"})

	matmulFlops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_device_matmul_flops_total",
		Help: "Floating point operations issued by matrix multiplications (2*m*k*n per call)",
	}, []string{"backend"})
)

func countMatMul(backend string, m, k, n int) {
	matmulFlops.WithLabelValues(backend).Add(float64(2 * m * k * n))
}
