package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

func sampleTable() *models.Table {
	return models.NewTable([]models.Record{
		{"review_ranking": "1", "product_ranking": "1", "id": "10", "content": "great, \"really\""},
		{"review_ranking": "2", "product_ranking": "1", "id": "11", "score": "4"},
	}, models.ColumnProductRanking, models.ColumnReviewRanking)
}

func TestNewTableColumnOrder(t *testing.T) {
	table := sampleTable()
	want := []string{"product_ranking", "review_ranking", "content", "id", "score"}
	if !slices.Equal(table.Columns, want) {
		t.Fatalf("columns = %v, want %v", table.Columns, want)
	}
}

func TestCSVWriterWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reviews.csv")

	if err := (CSVWriter{}).WriteTable(path, sampleTable()); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "product_ranking" || records[0][1] != "review_ranking" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][2] != `great, "really"` || records[2][4] != "4" || records[1][4] != "" {
		t.Fatalf("unexpected rows: %v", records[1:])
	}
}

func TestJSONWriterWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.json")

	if err := (JSONWriter{}).WriteTable(path, sampleTable()); err != nil {
		t.Fatalf("write json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	var rows []map[string]*string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]*string
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode json line: %v", err)
		}
		rows = append(rows, row)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0]["score"] != nil {
		t.Fatalf("missing cell should be null, got %q", *rows[0]["score"])
	}
	if got := rows[1]["score"]; got == nil || *got != "4" {
		t.Fatalf("unexpected score: %v", got)
	}
}

func TestParquetWriterWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.parquet")

	if err := (ParquetWriter{}).WriteTable(path, sampleTable()); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	rows := readParquet(t, path)
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0]["content"] != `great, "really"` || rows[0]["review_ranking"] != "1" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if _, ok := rows[0]["score"]; ok {
		t.Fatalf("missing cell should read back as null")
	}
	if rows[1]["score"] != "4" {
		t.Fatalf("unexpected second row: %v", rows[1])
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.csv")

	for i := 0; i < 2; i++ {
		if err := (CSVWriter{}).WriteTable(path, sampleTable()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "page.csv" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected files: %v", names)
	}
}

func TestSinkWritesEveryFormat(t *testing.T) {
	sink, err := NewSink("parquet", "csv", "parquet")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	base := filepath.Join(t.TempDir(), "review_product1_page1")
	paths, err := sink.Write(base, sampleTable())
	if err != nil {
		t.Fatalf("sink write: %v", err)
	}
	want := []string{base + ".parquet", base + ".csv"}
	if !slices.Equal(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
	}
}

func TestNewSinkRejectsUnknownFormat(t *testing.T) {
	if _, err := NewSink("xlsx"); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	if _, err := NewSink(); err == nil {
		t.Fatalf("expected error for empty format list")
	}
}
