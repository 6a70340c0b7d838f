package provider

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"FinSeries/internal/domain/models"
)

// Dummy produces a deterministic sine wave per symbol. Used offline and in demos.
type Dummy struct {
	now func() time.Time
}

// NewDummy creates the offline market provider.
func NewDummy() *Dummy {
	return &Dummy{now: func() time.Time { return time.Now().UTC() }}
}

// Fetch implements repository.SeriesProvider. Without bounds it covers the
// last ten days. Monthly and quarterly output steps 30 and 90 days.
func (d *Dummy) Fetch(_ context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	if err := checkRequest(symbol, start, end); err != nil {
		return nil, err
	}
	today := dateOf(d.now())
	if end.IsZero() {
		end = today
	}
	if start.IsZero() {
		start = dateOf(end).AddDate(0, 0, -9)
	}
	start, end = dateOf(start), dateOf(end)

	step := 1
	switch freq {
	case models.FreqMonthly:
		step = 30
	case models.FreqQuarterly:
		step = 90
	}

	base := 100 + float64(symbolHash(symbol)%50)
	days := int(end.Sub(start).Hours() / 24)
	out := make([]models.SeriesPoint, 0, days/step+1)
	for i := 0; i <= days; i += step {
		v := base + 5*math.Sin(float64(i)/3)
		out = append(out, models.SeriesPoint{
			Timestamp: start.AddDate(0, 0, i),
			Value:     math.Round(v*100) / 100,
		})
	}
	return out, nil
}

func symbolHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
