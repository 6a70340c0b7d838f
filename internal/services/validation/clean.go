package validation

import (
	"math"
	"sort"

	"FinSeries/internal/domain/models"
)

type tsKey struct {
	sec  int64
	nsec int
}

// Clean sorts, deduplicates and filters a series. The input is not modified.
// Duplicate timestamps keep the last value seen; non-finite values are then
// dropped when the policy asks for it. The result is strictly increasing in
// time. The second return value is the number of non-finite points removed.
func Clean(points []models.SeriesPoint, c CleaningPolicy) ([]models.SeriesPoint, int) {
	work := make([]models.SeriesPoint, len(points))
	copy(work, points)

	if c.SortAscending {
		sortByTime(work)
	}
	work = dedupKeepLast(work)

	removed := 0
	if c.DropNaNInf {
		work, removed = dropNonFinite(work)
	}

	// cleaned output is always ascending, whatever the switch says
	sortByTime(work)
	return work, removed
}

func sortByTime(points []models.SeriesPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

func dedupKeepLast(points []models.SeriesPoint) []models.SeriesPoint {
	out := make([]models.SeriesPoint, 0, len(points))
	pos := make(map[tsKey]int, len(points))
	for _, p := range points {
		k := tsKey{sec: p.Timestamp.Unix(), nsec: p.Timestamp.Nanosecond()}
		if i, ok := pos[k]; ok {
			out[i].Value = p.Value
			continue
		}
		pos[k] = len(out)
		out = append(out, p)
	}
	return out
}

func dropNonFinite(points []models.SeriesPoint) ([]models.SeriesPoint, int) {
	out := points[:0]
	for _, p := range points {
		if isFinite(p.Value) {
			out = append(out, p)
		}
	}
	return out, len(points) - len(out)
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
