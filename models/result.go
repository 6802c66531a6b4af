package models

import "time"

// Stage is a step of a keyword run.
type Stage string

const (
	StageInit            Stage = "INIT"
	StageFetchProducts   Stage = "FETCH_PRODUCTS"
	StagePersistProducts Stage = "PERSIST_PRODUCTS"
	StageFilter          Stage = "FILTER"
	StageFetchReviews    Stage = "FETCH_REVIEWS"
	StageDone            Stage = "DONE"
)

// PageError records a review page that could not be fetched or written.
type PageError struct {
	ProductRanking int
	Page           int
	Err            error
}

func (e PageError) Error() string {
	return e.Err.Error()
}

func (e PageError) Unwrap() error {
	return e.Err
}

// PaginationResult summarises the review pages of one product.
type PaginationResult struct {
	ProductRanking int
	TotalPages     int
	LastPage       int
	Written        []string
	Failed         []PageError
	Reviews        int
	Duplicates     int
}

// RunResult holds the overall result of one keyword run.
type RunResult struct {
	RunID            string
	Keyword          string
	Dir              string
	Stage            Stage
	StartTime        time.Time
	EndTime          time.Time
	ProductCount     int
	EligibleCount    int
	ProductFiles     []string
	ReviewFiles      []string
	ReviewCount      int
	FailedPages      []PageError
	DuplicateReviews int
}

// Duration reports how long the run took.
func (r *RunResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}
