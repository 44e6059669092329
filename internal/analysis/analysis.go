// Package analysis aggregates a set of leads into a selection summary.
package analysis

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"scouter/internal/model"
)

// NoneKey groups leads whose categorical field is empty.
const NoneKey = "(none)"

// Confirmation buckets.
const (
	Confirmed   = "confirmed"
	Unconfirmed = "unconfirmed"
	Unknown     = "unknown"
)

// Plausible age range, inclusive.
const (
	minAge = 1
	maxAge = 119
)

// Summary is the aggregate view of a lead set.
type Summary struct {
	Total          int            `json:"total"`
	ByProject      map[string]int `json:"by_project"`
	ByScouter      map[string]int `json:"by_scouter"`
	ByStage        map[string]int `json:"by_stage"`
	ByConfirmation map[string]int `json:"by_confirmation"`

	AgeSamples int     `json:"age_samples"`
	AgeAverage float64 `json:"age_average"`

	ValueSamples int     `json:"value_samples"`
	ValueTotal   float64 `json:"value_total"`
	ValueAverage float64 `json:"value_average"`
}

// Generate builds the summary. Unparseable or implausible ages and values
// are left out of their statistics; they never cause a failure.
func Generate(leads []model.Lead) Summary {
	s := Summary{
		Total:          len(leads),
		ByProject:      make(map[string]int),
		ByScouter:      make(map[string]int),
		ByStage:        make(map[string]int),
		ByConfirmation: make(map[string]int),
	}

	var ageSum int
	for _, l := range leads {
		s.ByProject[key(l.Project)]++
		s.ByScouter[key(l.Scouter)]++
		s.ByStage[key(l.Stage)]++
		s.ByConfirmation[confirmation(l.Confirmed)]++

		if age, ok := ParseAge(l.Age); ok {
			ageSum += age
			s.AgeSamples++
		}
		if v, ok := ParseValue(l.Value); ok {
			s.ValueTotal += v
			s.ValueSamples++
		}
	}

	if s.AgeSamples > 0 {
		s.AgeAverage = float64(ageSum) / float64(s.AgeSamples)
	}
	if s.ValueSamples > 0 {
		s.ValueAverage = s.ValueTotal / float64(s.ValueSamples)
	}
	return s
}

func key(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return NoneKey
	}
	return v
}

func confirmation(c *bool) string {
	switch {
	case c == nil:
		return Unknown
	case *c:
		return Confirmed
	default:
		return Unconfirmed
	}
}

// ParseAge parses an age in whole years within the plausible range.
func ParseAge(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	age, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		age = int(f)
	}
	if age < minAge || age > maxAge {
		return 0, false
	}
	return age, true
}

// ParseValue parses a monetary amount such as "1234.56", "1.234,56",
// "R$ 1.500" or "1,234.56". When both separators appear the last one is the
// decimal mark. A lone dot followed by groups of three digits is a
// thousands separator. Ambiguous groupings and negative amounts are rejected.
func ParseValue(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec, thousands := ".", ","
		if lastComma > lastDot {
			dec, thousands = ",", "."
		}
		i := strings.LastIndex(s, dec)
		whole, frac := s[:i], s[i+1:]
		if !allDigits(frac) || !grouped(whole, thousands) {
			return 0, false
		}
		s = strings.ReplaceAll(whole, thousands, "") + "." + frac
	case lastComma >= 0:
		switch {
		case strings.Count(s, ",") == 1:
			s = strings.Replace(s, ",", ".", 1)
		case grouped(s, ","):
			s = strings.ReplaceAll(s, ",", "")
		default:
			return 0, false
		}
	case lastDot >= 0:
		switch {
		case grouped(s, "."):
			s = strings.ReplaceAll(s, ".", "")
		case strings.Count(s, ".") > 1:
			return 0, false
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// grouped reports whether s is an integer split into thousands by sep:
// a leading group of 1 to 3 digits without a leading zero, then groups of 3.
func grouped(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups) < 2 {
		return false
	}
	first := strings.TrimPrefix(groups[0], "-")
	if len(first) == 0 || len(first) > 3 || first[0] == '0' || !allDigits(first) {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Bucket is one row of a grouped count.
type Bucket struct {
	Key   string
	Count int
}

// Buckets orders a grouped count by count descending, then key.
func Buckets(counts map[string]int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
