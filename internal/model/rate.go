package model

import (
	"strings"
	"time"
)

type RatePair string

const RatePairEURVES RatePair = "EUR-VES"

type Rate struct {
	Pair      RatePair  `db:"pair" json:"pair"`
	Value     float64   `db:"value" json:"value"`
	Source    string    `db:"source" json:"source"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	UpdatedBy string    `db:"updated_by" json:"updatedBy"`
}

type UpdateRateParams struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

// ParseRatePair upper-cases s and checks it has the form XXX-YYY.
func ParseRatePair(s string) (RatePair, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	base, quote, found := strings.Cut(s, "-")
	if !found || len(base) != 3 || len(quote) != 3 {
		return "", false
	}
	for _, r := range base + quote {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return RatePair(s), true
}
