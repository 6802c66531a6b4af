package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunKey names the output of one (keyword, pages, max review page) run on
// the given day.
func RunKey(keyword string, pages, maxReviewPage int, day time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%d", day.Format("20060102"), sanitize(keyword), pages, maxReviewPage)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// Layout places the files of one run under a single directory.
type Layout struct {
	Dir string
}

// NewLayout returns the layout for a run under outputDir.
func NewLayout(outputDir, keyword string, pages, maxReviewPage int, day time.Time) Layout {
	return Layout{Dir: filepath.Join(outputDir, RunKey(keyword, pages, maxReviewPage, day))}
}

// Prepare wipes any previous output of the same run and recreates the
// directory.
func (l Layout) Prepare() error {
	if err := os.RemoveAll(l.Dir); err != nil {
		return fmt.Errorf("remove %s: %w", l.Dir, err)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", l.Dir, err)
	}
	return nil
}

// ProductFile is the base path, without extension, of a search page table.
func (l Layout) ProductFile(page int) string {
	return filepath.Join(l.Dir, fmt.Sprintf("product_page%d", page))
}

// ReviewFile is the base path, without extension, of one review page table.
func (l Layout) ReviewFile(productRanking, page int) string {
	return filepath.Join(l.Dir, fmt.Sprintf("review_product%d_page%d", productRanking, page))
}
