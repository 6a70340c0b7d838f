package validation

import "FinSeries/internal/domain/models"

// boundsViolations counts values outside the level range for key, and YoY or
// first-difference changes outside their configured ranges.
func boundsViolations(points []models.SeriesPoint, freq models.Frequency, key string, p *Policy) (level, change int) {
	if lo, hi, ok := p.ValueBounds(key); ok {
		for _, pt := range points {
			if pt.Value < lo || pt.Value > hi {
				level++
			}
		}
	}
	if lo, hi, ok := p.YoYBounds(key); ok && freq.IsPeriodic() {
		change += countOutside(yoyChanges(points), lo, hi)
	}
	if lo, hi, ok := p.DeltaBounds(key); ok {
		change += countOutside(firstDiffs(points), lo, hi)
	}
	return level, change
}

func countOutside(values []float64, lo, hi float64) int {
	n := 0
	for _, v := range values {
		if v < lo || v > hi {
			n++
		}
	}
	return n
}
