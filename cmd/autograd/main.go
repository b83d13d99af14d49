package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-autograd/internal/codec"
	"github.com/23skdu/longbow-autograd/internal/device"
	"github.com/23skdu/longbow-autograd/tensor"
)

// Output formats.
const (
	formatText  = "text"
	formatCBOR  = "cbor"
	formatArrow = "arrow"
)

var (
	flagA        = flag.String("a", "1,2,3;3,2,3", "Left operand: rows separated by ';', values by ',', or ones:RxC / zeros:RxC")
	flagB        = flag.String("b", "ones:3x2", "Right operand, same syntax as -a")
	backendName  = flag.String("backend", device.BackendCPU, "Compute backend (cpu, gonum)")
	format       = flag.String("format", formatText, "Output format (text, cbor, arrow)")
	outPath      = flag.String("out", "", "Write output to file instead of stdout")
	enableOTel   = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	listenAddr   = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	maxWork      = flag.Int64("max-work", 1<<30, "Maximum number of multiply-adds the server computes concurrently")
	flagLogLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*flagLogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *flagLogLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	backend, err := device.NewBackend(*backendName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create backend")
	}

	if *listenAddr != "" {
		startServer(*listenAddr, backend, *maxWork)
		return
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close output file")
			}
		}()
		out = f
	}

	if err := run(context.Background(), out, backend, *flagA, *flagB, *format); err != nil {
		log.Error().Err(err).Msg("Failed")
		os.Exit(1)
	}
}

// evaluation holds the operands and product of one dot/backward run.
type evaluation struct {
	A, B, Product *tensor.Tensor
	Elapsed       time.Duration
}

// evaluate multiplies a by b and propagates gradients from the product.
func evaluate(ctx context.Context, a, b *tensor.Tensor) (*evaluation, error) {
	start := time.Now()
	c, err := a.Dot(b)
	if err != nil {
		return nil, err
	}
	if _, err := c.Backward(ctx); err != nil {
		return nil, err
	}
	return &evaluation{A: a, B: b, Product: c, Elapsed: time.Since(start)}, nil
}

func run(ctx context.Context, w io.Writer, backend device.Backend, specA, specB, outFormat string) error {
	g := tensor.NewGraph(tensor.WithBackend(backend))
	a, err := parseOperand(g, specA)
	if err != nil {
		return fmt.Errorf("operand a: %w", err)
	}
	b, err := parseOperand(g, specB)
	if err != nil {
		return fmt.Errorf("operand b: %w", err)
	}

	ev, err := evaluate(ctx, a, b)
	if err != nil {
		return err
	}
	log.Info().
		Str("backend", backend.Name()).
		Stringer("a", a.Shape()).
		Stringer("b", b.Shape()).
		Int("nodes", g.Len()).
		Dur("elapsed", ev.Elapsed).
		Msg("Evaluated product")

	return writeEvaluation(w, memory.NewGoAllocator(), ev, outFormat)
}

// writeEvaluation writes the product followed by both operands. The arrow
// format emits one IPC stream per tensor in that order.
func writeEvaluation(w io.Writer, mem memory.Allocator, ev *evaluation, outFormat string) error {
	named := []struct {
		name string
		t    *tensor.Tensor
	}{{"product", ev.Product}, {"a", ev.A}, {"b", ev.B}}

	switch outFormat {
	case formatText:
		for _, n := range named {
			if _, err := fmt.Fprintf(w, "%s = %v\n", n.name, n.t); err != nil {
				return err
			}
			if grad := n.t.Grad(); grad != nil {
				if _, err := fmt.Fprintf(w, "%s.grad = %v\n", n.name, grad.Data()); err != nil {
					return err
				}
			}
		}
		return nil
	case formatCBOR:
		for _, n := range named {
			if err := codec.EncodeCBOR(w, n.t); err != nil {
				return err
			}
		}
		return nil
	case formatArrow:
		builder := codec.NewRecordBatchBuilder(mem)
		for _, n := range named {
			rec, err := builder.Build(n.t)
			if err != nil {
				return err
			}
			err = codec.WriteIPC(w, rec)
			rec.Release()
			if err != nil {
				return fmt.Errorf("write %s: %w", n.name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", outFormat)
	}
}

var errBadOperand = errors.New("malformed operand")

// parseOperand builds a tensor in g from "ones:RxC", "zeros:RxC" or a matrix
// literal. Literals are differentiable, ones and zeros are constants.
func parseOperand(g *tensor.Graph, s string) (*tensor.Tensor, error) {
	s = strings.TrimSpace(s)
	if kind, dims, ok := strings.Cut(s, ":"); ok {
		rows, cols, err := parseDims(dims)
		if err != nil {
			return nil, err
		}
		switch kind {
		case "ones":
			return g.Ones(rows, cols)
		case "zeros":
			return g.Zeros(rows, cols)
		default:
			return nil, fmt.Errorf("%w: unknown constructor %q", errBadOperand, kind)
		}
	}

	rows, err := parseMatrix(s)
	if err != nil {
		return nil, err
	}
	return g.New(rows)
}

func parseDims(s string) (int, int, error) {
	r, c, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: dimensions %q, want RxC", errBadOperand, s)
	}
	rows, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: rows: %v", errBadOperand, err)
	}
	cols, err := strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: cols: %v", errBadOperand, err)
	}
	return rows, cols, nil
}

// parseMatrix reads "1,2;3,4" as [[1 2] [3 4]]. Shape checks are left to
// the tensor constructor.
func parseMatrix(s string) ([][]float64, error) {
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, ";")
	rows := make([][]float64, 0, len(lines))
	for i, line := range lines {
		fields := strings.Split(line, ",")
		row := make([]float64, 0, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d col %d: %v", errBadOperand, i, j, err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("autograd"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
