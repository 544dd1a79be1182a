package tableio

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/inferloop/tabsynth/pkg/models"
)

// ReadParquet reads a Parquet file. Integer and floating point columns
// become float columns, string columns become string columns; nulls are
// rejected.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker) (*models.Table, error) {
	pf, err := file.NewParquetReader(r, file.WithReadProps(&parquet.ReaderProperties{}))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	mem := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet data: %w", err)
	}
	defer table.Release()

	columns := make([]models.Column, table.NumCols())
	for j := 0; j < int(table.NumCols()); j++ {
		col, err := fromArrow(table.Column(j))
		if err != nil {
			return nil, err
		}
		columns[j] = col
	}
	return models.NewTable(columns...), nil
}

// writeOnly hides any Close method of the sink, since the parquet writer
// closes sinks that implement io.Closer. The caller owns w.
type writeOnly struct {
	w io.Writer
}

func (s writeOnly) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// WriteParquet writes the table as snappy-compressed Parquet with float64
// and utf8 columns. w is left open.
func WriteParquet(w io.Writer, table *models.Table) error {
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, len(table.Columns))
	arrays := make([]arrow.Array, len(table.Columns))
	for j := range table.Columns {
		c := &table.Columns[j]
		if c.Type == models.ColumnTypeFloat {
			fields[j] = arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64}
			b := array.NewFloat64Builder(mem)
			b.AppendValues(c.Floats, nil)
			arrays[j] = b.NewArray()
			b.Release()
		} else {
			fields[j] = arrow.Field{Name: c.Name, Type: arrow.BinaryTypes.String}
			b := array.NewStringBuilder(mem)
			b.AppendValues(c.Strings, nil)
			arrays[j] = b.NewArray()
			b.Release()
		}
	}
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()

	schema := arrow.NewSchema(fields, nil)
	record := array.NewRecord(schema, arrays, int64(table.NumRows()))
	defer record.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, writeOnly{w: w}, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write table to parquet: %w", err)
	}
	return writer.Close()
}

func fromArrow(col *arrow.Column) (models.Column, error) {
	name := col.Name()
	var floats []float64
	var strs []string
	isString := false

	for _, chunk := range col.Data().Chunks() {
		if chunk.NullN() > 0 {
			return models.Column{}, fmt.Errorf("column %q contains nulls", name)
		}
		switch a := chunk.(type) {
		case *array.Float64:
			floats = append(floats, a.Float64Values()...)
		case *array.Float32:
			for _, v := range a.Float32Values() {
				floats = append(floats, float64(v))
			}
		case *array.Int64:
			for _, v := range a.Int64Values() {
				floats = append(floats, float64(v))
			}
		case *array.Int32:
			for _, v := range a.Int32Values() {
				floats = append(floats, float64(v))
			}
		case *array.String:
			isString = true
			for i := 0; i < a.Len(); i++ {
				strs = append(strs, a.Value(i))
			}
		case *array.LargeString:
			isString = true
			for i := 0; i < a.Len(); i++ {
				strs = append(strs, a.Value(i))
			}
		default:
			return models.Column{}, fmt.Errorf("column %q has unsupported type %s", name, chunk.DataType())
		}
	}

	if isString || col.DataType().ID() == arrow.STRING || col.DataType().ID() == arrow.LARGE_STRING {
		if strs == nil {
			strs = []string{}
		}
		return models.NewStringColumn(name, strs), nil
	}
	if floats == nil {
		floats = []float64{}
	}
	return models.NewFloatColumn(name, floats), nil
}
