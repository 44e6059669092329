// Package export renders selections as CSV for downstream reporting tools.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"scouter/internal/analysis"
	"scouter/internal/model"
)

// LeadsHeader is the column order of WriteLeadsCSV.
var LeadsHeader = []string{"id", "name", "phone", "project", "scouter", "stage", "confirmed", "age", "value", "lat", "lng"}

// SummaryHeader is the column order of WriteSummaryCSV.
var SummaryHeader = []string{"metric", "key", "value"}

// WriteLeadsCSV writes one row per lead. Missing coordinates and unknown
// confirmation are written as empty cells.
func WriteLeadsCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LeadsHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, l := range leads {
		row := []string{
			l.ID, l.Name, l.Phone, l.Project, l.Scouter, l.Stage,
			confirmed(l.Confirmed), l.Age, l.Value,
			coord(l.Lat), coord(l.Lng),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write lead %s: %w", l.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV flattens a summary into metric/key/value rows. Grouped
// counts are emitted in analysis.Buckets order.
func WriteSummaryCSV(w io.Writer, s analysis.Summary) error {
	rows := [][]string{
		SummaryHeader,
		{"total", "", strconv.Itoa(s.Total)},
	}
	groups := []struct {
		metric string
		counts map[string]int
	}{
		{"project", s.ByProject},
		{"scouter", s.ByScouter},
		{"stage", s.ByStage},
		{"confirmation", s.ByConfirmation},
	}
	for _, g := range groups {
		for _, b := range analysis.Buckets(g.counts) {
			rows = append(rows, []string{g.metric, b.Key, strconv.Itoa(b.Count)})
		}
	}
	rows = append(rows,
		[]string{"age_samples", "", strconv.Itoa(s.AgeSamples)},
		[]string{"age_average", "", decimal(s.AgeAverage)},
		[]string{"value_samples", "", strconv.Itoa(s.ValueSamples)},
		[]string{"value_total", "", decimal(s.ValueTotal)},
		[]string{"value_average", "", decimal(s.ValueAverage)},
	)

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func confirmed(c *bool) string {
	if c == nil {
		return ""
	}
	return strconv.FormatBool(*c)
}

func coord(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func decimal(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
