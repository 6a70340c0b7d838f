package provider

import (
	"math"
	"sort"
	"time"

	"FinSeries/internal/domain/models"
)

// Period helpers. Monthly and quarterly observations are stamped at the last
// calendar day of their period.

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

func quarterEnd(t time.Time) time.Time {
	t = t.UTC()
	last := time.Month((int(t.Month())-1)/3*3 + 3)
	return time.Date(t.Year(), last+1, 0, 0, 0, 0, 0, time.UTC)
}

func periodEnd(t time.Time, freq models.Frequency) time.Time {
	switch freq {
	case models.FreqDaily:
		return dateOf(t)
	case models.FreqQuarterly:
		return quarterEnd(t)
	default:
		return monthEnd(t)
	}
}

func nextPeriodEnd(t time.Time, freq models.Frequency) time.Time {
	return periodEnd(t.AddDate(0, 0, 1), freq)
}

func sortPoints(points []models.SeriesPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// alignToPeriodEnd restamps each observation at the end of its period.
func alignToPeriodEnd(points []models.SeriesPoint, freq models.Frequency) []models.SeriesPoint {
	out := make([]models.SeriesPoint, len(points))
	for i, p := range points {
		out[i] = models.SeriesPoint{Timestamp: periodEnd(p.Timestamp, freq), Value: p.Value}
	}
	return out
}

// aggregateLast keeps the last finite value of every period.
func aggregateLast(points []models.SeriesPoint, freq models.Frequency) []models.SeriesPoint {
	in := append([]models.SeriesPoint(nil), points...)
	sortPoints(in)

	var out []models.SeriesPoint
	for _, p := range in {
		if !finite(p.Value) {
			continue
		}
		end := periodEnd(p.Timestamp, freq)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(end) {
			out[n-1].Value = p.Value
			continue
		}
		out = append(out, models.SeriesPoint{Timestamp: end, Value: p.Value})
	}
	return out
}

// aggregateMean averages the finite values of every period.
func aggregateMean(points []models.SeriesPoint, freq models.Frequency) []models.SeriesPoint {
	in := append([]models.SeriesPoint(nil), points...)
	sortPoints(in)

	var out []models.SeriesPoint
	var sum float64
	var n int
	flush := func(end time.Time) {
		if n > 0 {
			out = append(out, models.SeriesPoint{Timestamp: end, Value: sum / float64(n)})
		}
		sum, n = 0, 0
	}

	var cur time.Time
	for _, p := range in {
		if !finite(p.Value) {
			continue
		}
		end := periodEnd(p.Timestamp, freq)
		if !end.Equal(cur) {
			flush(cur)
			cur = end
		}
		sum += p.Value
		n++
	}
	flush(cur)
	return out
}

// fillForward emits every period end between the first and last observation,
// carrying the latest finite value into periods without one.
func fillForward(points []models.SeriesPoint, freq models.Frequency) []models.SeriesPoint {
	in := aggregateLast(points, freq)
	if len(in) == 0 {
		return nil
	}
	var out []models.SeriesPoint
	last := in[len(in)-1].Timestamp
	idx := 0
	value := in[0].Value
	for t := in[0].Timestamp; !t.After(last); t = nextPeriodEnd(t, freq) {
		if idx < len(in) && in[idx].Timestamp.Equal(t) {
			value = in[idx].Value
			idx++
		}
		out = append(out, models.SeriesPoint{Timestamp: t, Value: value})
	}
	return out
}

// interpolateMonthly derives month-end values from quarter-end observations
// by linear interpolation between consecutive quarters.
func interpolateMonthly(quarterly []models.SeriesPoint) []models.SeriesPoint {
	in := aggregateLast(quarterly, models.FreqQuarterly)
	if len(in) == 0 {
		return nil
	}
	out := []models.SeriesPoint{in[0]}
	for i := 1; i < len(in); i++ {
		prev, next := in[i-1], in[i]
		var months []time.Time
		for t := nextPeriodEnd(prev.Timestamp, models.FreqMonthly); !t.After(next.Timestamp); t = nextPeriodEnd(t, models.FreqMonthly) {
			months = append(months, t)
		}
		for k, t := range months {
			frac := float64(k+1) / float64(len(months))
			out = append(out, models.SeriesPoint{Timestamp: t, Value: prev.Value + frac*(next.Value-prev.Value)})
		}
	}
	return out
}

// resample converts a series observed at native frequency into freq.
// Finer targets are forward filled, coarser ones keep the period's last value.
func resample(points []models.SeriesPoint, native, freq models.Frequency) []models.SeriesPoint {
	if native == freq {
		return aggregateLast(points, freq)
	}
	if rank(freq) < rank(native) {
		return fillForward(points, freq)
	}
	return aggregateLast(points, freq)
}

func rank(f models.Frequency) int {
	switch f {
	case models.FreqDaily:
		return 0
	case models.FreqMonthly:
		return 1
	default:
		return 2
	}
}

// finalize slices to the inclusive [start, end] date range, sorts ascending,
// keeps the first observation of each date and drops missing values.
func finalize(points []models.SeriesPoint, start, end time.Time) []models.SeriesPoint {
	in := append([]models.SeriesPoint(nil), points...)
	sortPoints(in)

	from, to := dateOf(start), dateOf(end)
	out := make([]models.SeriesPoint, 0, len(in))
	seen := make(map[time.Time]struct{}, len(in))
	for _, p := range in {
		d := dateOf(p.Timestamp)
		if !start.IsZero() && d.Before(from) {
			continue
		}
		if !end.IsZero() && d.After(to) {
			continue
		}
		if _, dup := seen[d]; dup || !finite(p.Value) {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, models.SeriesPoint{Timestamp: d, Value: p.Value})
	}
	return out
}
