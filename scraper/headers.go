package scraper

import (
	"math/rand/v2"
	"sort"
)

// fingerprintHeaders are optional browser headers mixed into each request.
var fingerprintHeaders = map[string]string{
	"accept-language":    "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
	"cache-control":      "no-cache",
	"pragma":             "no-cache",
	"priority":           "u=1, i",
	"sec-ch-ua":          `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
	"sec-ch-ua-mobile":   "?0",
	"sec-ch-ua-platform": `"Windows"`,
	"dnt":                "1",
}

// MixHeaders returns a copy of base with a random non-empty subset of extra
// merged over it. The subset size is drawn uniformly from 1..len(extra),
// then the keys uniformly among those of that size.
func MixHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	if len(extra) == 0 {
		return out
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	n := 1 + rand.IntN(len(keys))
	for _, k := range keys[:n] {
		out[k] = extra[k]
	}
	return out
}

// RandomUserAgent picks one entry of pool, or "" when it is empty.
func RandomUserAgent(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[rand.IntN(len(pool))]
}
