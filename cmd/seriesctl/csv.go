package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"FinSeries/internal/domain/models"
	"FinSeries/pkg/util"
)

// readSeriesCSV reads "date,value" rows. A header row is skipped when its
// first cell is not a date; an empty value cell is a missing observation.
func readSeriesCSV(r io.Reader) ([]models.SeriesPoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []models.SeriesPoint
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want date,value", line)
		}
		ts, ok := util.ParseTime(strings.TrimSpace(rec[0]))
		if !ok {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid date %q", line, rec[0])
		}
		v := math.NaN()
		if s := strings.TrimSpace(rec[1]); s != "" {
			v, err = strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		out = append(out, models.SeriesPoint{Timestamp: ts, Value: v})
	}
}

func writeSeriesCSV(w io.Writer, points []models.SeriesPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "value"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{
			p.Timestamp.UTC().Format(util.DateLayout),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
