package validation

import (
	"math"
	"time"

	"FinSeries/internal/domain/models"
)

// countGaps scans consecutive timestamps of a sorted daily series. A gap is a
// whole-day delta above maxGapDays; a long gap is a gap that also exceeds
// maxGapDays*multiplier, so long never exceeds gaps.
func countGaps(points []models.SeriesPoint, maxGapDays int, multiplier float64) (gaps, long int) {
	longLimit := float64(maxGapDays) * multiplier
	for i := 1; i < len(points); i++ {
		d := wholeDays(points[i].Timestamp.Sub(points[i-1].Timestamp))
		if d <= maxGapDays {
			continue
		}
		gaps++
		if float64(d) > longLimit {
			long++
		}
	}
	return gaps, long
}

// daysOld is the whole number of days between last and now, floored.
func daysOld(last, now time.Time) int {
	return int(math.Floor(now.Sub(last).Hours() / 24))
}

func wholeDays(d time.Duration) int { return int(d / (24 * time.Hour)) }

func insufficientHistory(n int, freq models.Frequency, h MinHistoryPolicy) bool {
	if freq.IsPeriodic() {
		return n < h.MonthlyMonths
	}
	return n < h.DailyDays
}
