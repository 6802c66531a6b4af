package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// Sink writes each table once per configured format.
type Sink struct {
	writers []TableWriter
}

// NewSink builds a sink for the given format names.
func NewSink(formats ...string) (*Sink, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("at least one output format is required")
	}
	s := &Sink{}
	seen := make(map[string]struct{}, len(formats))
	for _, format := range formats {
		if _, ok := seen[format]; ok {
			continue
		}
		seen[format] = struct{}{}
		w, err := NewTableWriter(format)
		if err != nil {
			return nil, err
		}
		s.writers = append(s.writers, w)
	}
	return s, nil
}

// Write stores t at base plus each format's extension and returns the paths
// written. Every format is attempted even if an earlier one fails.
func (s *Sink) Write(base string, t *models.Table) ([]string, error) {
	var (
		paths []string
		errs  []error
	)
	for _, w := range s.writers {
		path := base + "." + w.Format()
		if err := w.WriteTable(path, t); err != nil {
			errs = append(errs, fmt.Errorf("%s write failed: %w", w.Format(), err))
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}
