package pipeline

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// ParquetWriter stores every column as an optional UTF-8 string. Parquet
// groups order their fields by name, so the physical column order is
// alphabetical.
type ParquetWriter struct{}

func (ParquetWriter) Format() string { return "parquet" }

func (ParquetWriter) WriteTable(path string, t *models.Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("write %s: table has no columns", path)
	}

	group := make(parquet.Group, len(t.Columns))
	for _, col := range t.Columns {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("record", group)
	fields := schema.Fields()

	rows := make([]parquet.Row, 0, len(t.Rows))
	for _, rec := range t.Rows {
		row := make(parquet.Row, len(fields))
		for i, field := range fields {
			if v, ok := rec[field.Name()]; ok {
				row[i] = parquet.ByteArrayValue([]byte(v)).Level(0, 1, i)
			} else {
				row[i] = parquet.NullValue().Level(0, 0, i)
			}
		}
		rows = append(rows, row)
	}

	return writeAtomic(path, func(w io.Writer) error {
		writer := parquet.NewWriter(w, schema)
		if _, err := writer.WriteRows(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return nil
	})
}
