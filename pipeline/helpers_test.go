package pipeline

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// readParquet loads a file written by ParquetWriter back into records; null
// cells are left out of the record.
func readParquet(t *testing.T, path string) []models.Record {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()
	fields := reader.Schema().Fields()

	var out []models.Record
	buf := make([]parquet.Row, 16)
	for {
		n, err := reader.ReadRows(buf)
		for _, row := range buf[:n] {
			rec := make(models.Record)
			for _, v := range row {
				if v.IsNull() {
					continue
				}
				rec[fields[v.Column()].Name()] = string(v.ByteArray())
			}
			out = append(out, rec)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read parquet rows: %v", err)
		}
		if n == 0 {
			break
		}
	}
	return out
}
