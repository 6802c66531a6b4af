package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// TableWriter persists one table per file.
type TableWriter interface {
	// Format is the format name, also used as the file extension.
	Format() string
	WriteTable(path string, t *models.Table) error
}

// NewTableWriter returns the writer for a format name.
func NewTableWriter(format string) (TableWriter, error) {
	switch format {
	case "parquet":
		return ParquetWriter{}, nil
	case "csv":
		return CSVWriter{}, nil
	case "json":
		return JSONWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// CSVWriter writes a header row followed by one line per record. Missing
// cells are written as empty strings.
type CSVWriter struct{}

func (CSVWriter) Format() string { return "csv" }

func (CSVWriter) WriteTable(path string, t *models.Table) error {
	return writeAtomic(path, func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(t.Columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		record := make([]string, len(t.Columns))
		for _, row := range t.Rows {
			for i, col := range t.Columns {
				record[i] = row[col]
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// JSONWriter writes newline-delimited JSON objects with null for missing
// cells.
type JSONWriter struct{}

func (JSONWriter) Format() string { return "json" }

func (JSONWriter) WriteTable(path string, t *models.Table) error {
	return writeAtomic(path, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetEscapeHTML(false)
		for _, row := range t.Rows {
			obj := make(map[string]*string, len(t.Columns))
			for _, col := range t.Columns {
				if v, ok := row[col]; ok {
					obj[col] = &v
				} else {
					obj[col] = nil
				}
			}
			if err := encoder.Encode(obj); err != nil {
				return fmt.Errorf("encode json record: %w", err)
			}
		}
		return nil
	})
}

// writeAtomic writes through a temporary file in the target directory and
// renames it over path, so readers never observe a partial file.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buffer := bufio.NewWriter(tmp)
	if err := write(buffer); err != nil {
		return err
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
