package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-autograd/internal/codec"
	"github.com/23skdu/longbow-autograd/internal/device"
	"github.com/23skdu/longbow-autograd/tensor"
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

var errServerBusy = errors.New("server busy")

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autograd_http_requests_total",
		Help: "Total number of dot requests by response code",
	}, []string{"code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "autograd_http_request_duration_seconds",
		Help:    "Time spent processing dot requests",
		Buckets: prometheus.DefBuckets,
	})
)

// dotRequest is the CBOR body of POST /dot.
type dotRequest struct {
	A [][]float64 `cbor:"a"`
	B [][]float64 `cbor:"b"`
}

// dotResponse carries the product and both operands with their gradients.
type dotResponse struct {
	Product codec.Snapshot `cbor:"product"`
	A       codec.Snapshot `cbor:"a"`
	B       codec.Snapshot `cbor:"b"`
}

// Server evaluates products over HTTP. Each request gets its own graph.
type Server struct {
	backend  device.Backend
	sem      *semaphore.Weighted
	capacity int64
	alloc    memory.Allocator
}

// NewServer admits at most maxWork multiply-adds at a time.
func NewServer(backend device.Backend, maxWork int64) *Server {
	return &Server{
		backend:  backend,
		sem:      semaphore.NewWeighted(maxWork),
		capacity: maxWork,
		alloc:    memory.NewGoAllocator(),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/dot", s.handleDot)
	mux.HandleFunc("/dot/arrow", s.handleDot)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, backend device.Backend, maxWork int64) {
	srv := NewServer(backend, maxWork)

	log.Info().Str("addr", addr).Str("backend", backend.Name()).Msg("Starting Autograd Server")
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("autograd-server")

func (s *Server) handleDot(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleDot")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	fail := func(err error, code int) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		requestsTotal.WithLabelValues(fmt.Sprint(code)).Inc()
		http.Error(w, err.Error(), code)
	}

	if r.Method != http.MethodPost {
		fail(fmt.Errorf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	var req dotRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(fmt.Errorf("bad request (CBOR decode): %w", err), http.StatusBadRequest)
		return
	}

	g := tensor.NewGraph(tensor.WithBackend(s.backend))
	a, err := g.New(req.A)
	if err != nil {
		fail(fmt.Errorf("operand a: %w", err), http.StatusBadRequest)
		return
	}
	b, err := g.New(req.B)
	if err != nil {
		fail(fmt.Errorf("operand b: %w", err), http.StatusBadRequest)
		return
	}

	weight := work(int64(a.Rows()), int64(a.Cols()), int64(b.Cols()), s.capacity)
	span.SetAttributes(attribute.Int64("weight", weight))
	if weight > s.capacity {
		fail(fmt.Errorf("product of %s x %s exceeds the limit of %d multiply-adds", a.Shape(), b.Shape(), s.capacity), http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		fail(errServerBusy, http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	ev, err := evaluate(ctx, a, b)
	if err != nil {
		fail(err, http.StatusUnprocessableEntity)
		return
	}

	if r.URL.Path == "/dot/arrow" || r.Header.Get("Accept") == arrowStreamType {
		w.Header().Set("Content-Type", arrowStreamType)
		if err := writeEvaluation(w, s.alloc, ev, formatArrow); err != nil {
			log.Error().Err(err).Msg("Failed to write arrow response")
			span.RecordError(err)
			return
		}
	} else {
		data, err := cbor.Marshal(dotResponse{
			Product: codec.SnapshotOf(ev.Product),
			A:       codec.SnapshotOf(ev.A),
			B:       codec.SnapshotOf(ev.B),
		})
		if err != nil {
			fail(err, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/cbor")
		_, _ = w.Write(data)
	}
	requestsTotal.WithLabelValues(fmt.Sprint(http.StatusOK)).Inc()
}

// work returns the multiply-adds of an (m x k) x (k x n) product, or limit+1
// once it exceeds limit. All dimensions are at least 1.
func work(m, k, n, limit int64) int64 {
	if k > limit/m {
		return limit + 1
	}
	mk := m * k
	if n > limit/mk {
		return limit + 1
	}
	return mk * n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
