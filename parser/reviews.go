package parser

import (
	"strconv"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// ReviewRanking is the global position of the k-th (0-based) review on page.
func ReviewRanking(page, k int) int {
	return (page-1)*models.ReviewPageSize + 1 + k
}

// ParseReviews labels one page of review objects with the product ranking
// and each review's global ranking.
func ParseReviews(page int, contents []map[string]any, productRanking int) []models.Record {
	records := make([]models.Record, 0, len(contents))
	pr := strconv.Itoa(productRanking)
	for k, obj := range contents {
		rec := StringifyAll(obj)
		rec[models.ColumnProductRanking] = pr
		rec[models.ColumnReviewRanking] = strconv.Itoa(ReviewRanking(page, k))
		records = append(records, rec)
	}
	return records
}
