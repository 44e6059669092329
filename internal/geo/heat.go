package geo

import (
	"math"
	"sort"

	"scouter/internal/model"
)

// DefaultCellSize is the heat grid resolution in degrees (about 1 km).
const DefaultCellSize = 0.01

// HeatPoint is one cell of the density grid.
type HeatPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Value     int     `json:"value"`
	Intensity float64 `json:"intensity"` // normalized 0-1
}

type cell struct{ row, col int64 }

// Heat buckets geotagged leads into a square grid of cellSize degrees.
// Cells are returned busiest first; ties are ordered by position.
func Heat(leads []model.Lead, cellSize float64) []HeatPoint {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}

	counts := make(map[cell]int)
	for _, l := range leads {
		if !Eligible(l) {
			continue
		}
		c := cell{
			row: int64(math.Floor(*l.Lat / cellSize)),
			col: int64(math.Floor(*l.Lng / cellSize)),
		}
		counts[c]++
	}

	maxValue := 0
	for _, n := range counts {
		maxValue = max(maxValue, n)
	}

	out := make([]HeatPoint, 0, len(counts))
	for c, n := range counts {
		out = append(out, HeatPoint{
			Lat:       (float64(c.row) + 0.5) * cellSize,
			Lng:       (float64(c.col) + 0.5) * cellSize,
			Value:     n,
			Intensity: float64(n) / float64(maxValue),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		if out[i].Lat != out[j].Lat {
			return out[i].Lat < out[j].Lat
		}
		return out[i].Lng < out[j].Lng
	})
	return out
}
