package tensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels used by metrics, logs and errors.
const (
	opNew      = "new"
	opOnes     = "ones"
	opZeros    = "zeros"
	opDot      = "dot"
	opBackward = "backward"
	opRestore  = "restore"
	opConstant = "constant"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_ops_total",
		Help: "Total number of successful tensor operations",
	}, []string{"op"})

	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_op_errors_total",
		Help: "Total number of tensor operations rejected with an error",
	}, []string{"op"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autograd_op_duration_seconds",
		Help:    "Time spent in dot and backward",
		Buckets: []float64{0.00001, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 1},
	}, []string{"op"})

	nodesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autograd_nodes_recorded_total",
		Help: "Total number of nodes appended to computation graphs",
	})
)
