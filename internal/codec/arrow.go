package codec

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-autograd/tensor"
)

// Column names and schema metadata keys used for tensor record batches.
const (
	ColumnData = "data"
	ColumnGrad = "grad"

	MetaRows = "rows"
	MetaCols = "cols"
)

// RecordBatchBuilder creates Arrow RecordBatches from tensors, one list row
// per matrix row.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// Build converts t into a RecordBatch with a "data" column and, for
// differentiable tensors, a "grad" column. The caller must Release it.
func (b *RecordBatchBuilder) Build(t *tensor.Tensor) (arrow.RecordBatch, error) {
	if t == nil {
		return nil, tensor.ErrNilTensor
	}

	shape := t.Shape()
	fields := []arrow.Field{
		{Name: ColumnData, Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	}
	columns := [][][]float64{t.Data()}
	if grad := t.Grad(); grad != nil {
		fields = append(fields, arrow.Field{Name: ColumnGrad, Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)})
		columns = append(columns, grad.Data())
	}

	md := arrow.NewMetadata(
		[]string{MetaRows, MetaCols},
		[]string{strconv.Itoa(shape.Rows), strconv.Itoa(shape.Cols)},
	)
	schema := arrow.NewSchema(fields, &md)

	cols := make([]arrow.Array, 0, len(columns))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for _, rows := range columns {
		cols = append(cols, b.buildList(rows))
	}

	return array.NewRecordBatch(schema, cols, int64(shape.Rows)), nil
}

func (b *RecordBatchBuilder) buildList(rows [][]float64) arrow.Array {
	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer listBuilder.Release()

	valueBuilder := listBuilder.ValueBuilder().(*array.Float64Builder)
	for _, row := range rows {
		listBuilder.Append(true)
		valueBuilder.AppendValues(row, nil)
	}
	return listBuilder.NewArray()
}

// Rows extracts the named list<float64> column of rec as matrix rows.
func Rows(rec arrow.RecordBatch, column string) ([][]float64, error) {
	idx := rec.Schema().FieldIndices(column)
	if len(idx) == 0 {
		return nil, fmt.Errorf("record has no %q column", column)
	}
	list, ok := rec.Column(idx[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want list<float64>", column, rec.Column(idx[0]).DataType())
	}
	values, ok := list.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("column %q values are %s, want float64", column, list.ListValues().DataType())
	}

	rows := make([][]float64, list.Len())
	for i := range rows {
		start, end := list.ValueOffsets(i)
		row := make([]float64, end-start)
		for j := range row {
			row[j] = values.Value(int(start) + j)
		}
		rows[i] = row
	}
	return rows, nil
}

// WriteIPC streams rec to w in the Arrow IPC stream format.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
