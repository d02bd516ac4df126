package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/parquet-go/parquet-go"
	"github.com/sbinet/npyio"

	"github.com/brittybidari/FashionRecSys/internal/core"
)

const (
	filenameColumn = "filename"
	vectorColumn   = "vector"

	// arrowBatchRows bounds the rows per IPC record batch on write.
	arrowBatchRows = 4096
)

// readNPY decodes a 2-D little-endian float32 or float64 matrix.
func readNPY(r io.Reader) ([]core.Embedding, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	hdr := nr.Header
	if hdr.Descr.Fortran {
		return nil, errors.New("fortran-ordered arrays are not supported")
	}
	shape := hdr.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected a 2-D array, got shape %v", shape)
	}
	rows, dim := shape[0], shape[1]
	if rows == 0 {
		return nil, nil
	}

	flat := make([]float32, rows*dim)
	switch hdr.Descr.Type {
	case "<f4", "f4":
		if err := nr.Read(&flat); err != nil {
			return nil, err
		}
	case "<f8", "f8":
		wide := make([]float64, rows*dim)
		if err := nr.Read(&wide); err != nil {
			return nil, err
		}
		for i, v := range wide {
			flat[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %q", hdr.Descr.Type)
	}

	vectors := make([]core.Embedding, rows)
	for i := range vectors {
		vectors[i] = core.Embedding(flat[i*dim : (i+1)*dim : (i+1)*dim])
	}
	return vectors, nil
}

func arrowSchema(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: filenameColumn, Type: arrow.BinaryTypes.String},
		{Name: vectorColumn, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// readArrow decodes an Arrow IPC stream with filename and vector columns.
func readArrow(r io.Reader) ([]core.Embedding, []string, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, nil, err
	}
	defer rdr.Release()

	schema := rdr.Schema()
	nameIdx := schema.FieldIndices(filenameColumn)
	vecIdx := schema.FieldIndices(vectorColumn)
	if len(nameIdx) != 1 || len(vecIdx) != 1 {
		return nil, nil, fmt.Errorf("schema must have exactly one %q and one %q column", filenameColumn, vectorColumn)
	}

	var (
		vectors   []core.Embedding
		filenames []string
	)
	for rdr.Next() {
		rec := rdr.Record()
		names, ok := rec.Column(nameIdx[0]).(*array.String)
		if !ok {
			return nil, nil, fmt.Errorf("column %q is %s, want utf8", filenameColumn, rec.Column(nameIdx[0]).DataType())
		}
		vecs, ok := rec.Column(vecIdx[0]).(*array.FixedSizeList)
		if !ok {
			return nil, nil, fmt.Errorf("column %q is %s, want fixed_size_list", vectorColumn, rec.Column(vecIdx[0]).DataType())
		}

		rows := int(rec.NumRows())
		for i := 0; i < rows; i++ {
			if names.IsNull(i) || vecs.IsNull(i) {
				return nil, nil, fmt.Errorf("row %d has a null value", len(filenames))
			}
			start, end := vecs.ValueOffsets(i)
			vec := make(core.Embedding, end-start)
			switch vals := vecs.ListValues().(type) {
			case *array.Float32:
				copy(vec, vals.Float32Values()[start:end])
			case *array.Float64:
				for k, v := range vals.Float64Values()[start:end] {
					vec[k] = float32(v)
				}
			default:
				return nil, nil, fmt.Errorf("unsupported vector element type %s", vals.DataType())
			}
			vectors = append(vectors, vec)
			filenames = append(filenames, names.Value(i))
		}
	}
	if err := rdr.Err(); err != nil {
		return nil, nil, err
	}
	return vectors, filenames, nil
}

// WriteArrow encodes c as an Arrow IPC stream.
func WriteArrow(w io.Writer, c *Corpus) error {
	if c.Len() == 0 {
		return errors.New("refusing to write an empty corpus")
	}
	mem := memory.NewGoAllocator()
	schema := arrowSchema(c.Dim())

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	nameBuilder := b.Field(0).(*array.StringBuilder)
	vecBuilder := b.Field(1).(*array.FixedSizeListBuilder)
	valBuilder := vecBuilder.ValueBuilder().(*array.Float32Builder)

	for start := 0; start < c.Len(); start += arrowBatchRows {
		end := start + arrowBatchRows
		if end > c.Len() {
			end = c.Len()
		}
		for i := start; i < end; i++ {
			nameBuilder.Append(c.Filename(i))
			vecBuilder.Append(true)
			valBuilder.AppendValues(c.Vector(i), nil)
		}
		rec := b.NewRecord()
		err := wr.Write(rec)
		rec.Release()
		if err != nil {
			_ = wr.Close()
			return err
		}
	}
	return wr.Close()
}

// parquetRow is one corpus entry in the Parquet layout.
type parquetRow struct {
	Filename string    `parquet:"filename"`
	Vector   []float32 `parquet:"vector"`
}

// readParquet buffers r fully; Parquet footers need random access.
func readParquet(r io.Reader) ([]core.Embedding, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, err
	}

	pr := parquet.NewGenericReader[parquetRow](pf)
	defer func() { _ = pr.Close() }()

	rows := make([]parquetRow, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	rows = rows[:n]

	vectors := make([]core.Embedding, len(rows))
	filenames := make([]string, len(rows))
	for i, row := range rows {
		vectors[i] = core.Embedding(row.Vector)
		filenames[i] = row.Filename
	}
	return vectors, filenames, nil
}

// WriteParquet encodes c as a zstd-compressed Parquet file.
func WriteParquet(w io.Writer, c *Corpus) error {
	if c.Len() == 0 {
		return errors.New("refusing to write an empty corpus")
	}
	pw := parquet.NewGenericWriter[parquetRow](w, parquet.Compression(&parquet.Zstd))

	rows := make([]parquetRow, c.Len())
	for i := range rows {
		rows[i] = parquetRow{Filename: c.Filename(i), Vector: c.Vector(i)}
	}
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}
