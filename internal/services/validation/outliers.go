package validation

import (
	"math"

	"FinSeries/internal/domain/models"
)

const (
	minZSample     = 10
	yoyLag         = 12
	minYoYPoints   = yoyLag + 1
	minDeltaPoints = 3
)

// zScoreOutliers counts values whose population z-score exceeds threshold in
// absolute value. Samples shorter than minZSample or with zero spread never
// produce outliers.
func zScoreOutliers(values []float64, threshold float64) int {
	if len(values) < minZSample {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(values)))
	if sd == 0 || !isFinite(sd) {
		return 0
	}
	n := 0
	for _, v := range values {
		if math.Abs((v-mean)/sd) > threshold {
			n++
		}
	}
	return n
}

// yoyChanges returns percentage changes against the value yoyLag steps back,
// skipping zero or non-finite bases and non-finite results.
func yoyChanges(points []models.SeriesPoint) []float64 {
	if len(points) <= yoyLag {
		return nil
	}
	out := make([]float64, 0, len(points)-yoyLag)
	for i := yoyLag; i < len(points); i++ {
		base := points[i-yoyLag].Value
		if base == 0 || !isFinite(base) {
			continue
		}
		c := (points[i].Value/base - 1) * 100
		if isFinite(c) {
			out = append(out, c)
		}
	}
	return out
}

// firstDiffs returns consecutive differences, skipping non-finite results.
func firstDiffs(points []models.SeriesPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		d := points[i].Value - points[i-1].Value
		if isFinite(d) {
			out = append(out, d)
		}
	}
	return out
}

// countOutliers applies the key-selected statistical tests to a cleaned
// series. A test that does not apply, or has no threshold, contributes zero.
func countOutliers(points []models.SeriesPoint, freq models.Frequency, key string, p *Policy) int {
	total := 0
	if freq.IsPeriodic() && len(points) >= minYoYPoints && p.AppliesTo(TestInflationYoY, key) {
		if thr, ok := p.ZThreshold(TestInflationYoY); ok {
			total += zScoreOutliers(yoyChanges(points), thr)
		}
	}
	if len(points) >= minDeltaPoints && p.AppliesTo(TestBaaDelta, key) {
		if thr, ok := p.ZThreshold(TestBaaDelta); ok {
			total += zScoreOutliers(firstDiffs(points), thr)
		}
	}
	return total
}
