// Package parser turns storefront payloads into text records.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-reviews/models"
)

// Stringify coerces a decoded JSON value to text. Numbers decoded with
// UseNumber keep their literal form, null becomes the empty string and
// objects or arrays become compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

// StringifyAll coerces every field of obj.
func StringifyAll(obj map[string]any) models.Record {
	rec := make(models.Record, len(obj))
	for k, v := range obj {
		rec[k] = Stringify(v)
	}
	return rec
}

// FilterEligible keeps products whose listing URL points at the smart store
// and whose review count is not zero. Order is preserved.
func FilterEligible(products []models.Record, smartStorePrefix string) []models.Record {
	out := make([]models.Record, 0, len(products))
	for _, rec := range products {
		p := models.ProductRecord(rec)
		if !strings.Contains(p.MallProductURL(), smartStorePrefix) {
			continue
		}
		if p.ReviewCount() == "0" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ReviewTarget resolves the identifiers the review endpoint needs. The
// checkout merchant number is the pay seller number cached in mallInfoCache,
// falling back to merchantNo when the cache does not carry one.
func ReviewTarget(rec models.Record) (models.ReviewTarget, error) {
	p := models.ProductRecord(rec)
	target := models.ReviewTarget{
		MerchantNo:            sellerNo(p["mallInfoCache"]),
		MallProductID:         p.MallProductID(),
		OriginalMallProductID: p.OriginalMallProductID(),
		MallPCURL:             strings.TrimRight(p.MallPCURL(), "/"),
	}
	if target.MerchantNo == "" {
		target.MerchantNo = p.MerchantNo()
	}

	switch {
	case target.MerchantNo == "":
		return target, fmt.Errorf("product rank %s: missing merchant number", p.Rank())
	case target.MallProductID == "":
		return target, fmt.Errorf("product rank %s: missing mallProductId", p.Rank())
	case target.OriginalMallProductID == "":
		return target, fmt.Errorf("product rank %s: missing originalMallProductId", p.Rank())
	case target.MallPCURL == "":
		return target, fmt.Errorf("product rank %s: missing mallPcUrl", p.Rank())
	}
	return target, nil
}

func sellerNo(cache string) string {
	if cache == "" {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(cache))
	dec.UseNumber()
	var info map[string]any
	if err := dec.Decode(&info); err != nil {
		return ""
	}
	return Stringify(info["npaySellerNo"])
}
