package models

import (
	"fmt"
	"math"
	"time"

	"FinSeries/pkg/util"
)

// Requests and payloads for the series HTTP endpoints and message transports.

type SeriesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=64"`
	Start  string `query:"start" json:"start" validate:"required"`
	End    string `query:"end" json:"end" validate:"required"`
	Freq   string `query:"freq" json:"freq" default:"D" validate:"omitempty,oneof=D M Q d m q"`
}

type ValidateRequest struct {
	Symbol string         `json:"symbol" validate:"required,max=64"`
	Freq   string         `json:"freq" default:"D" validate:"omitempty,oneof=D M Q d m q"`
	Points []PointPayload `json:"points" validate:"max=100000"`
}

// PointPayload is the wire form of a SeriesPoint. Value is a pointer so that
// JSON null round-trips as a missing (NaN) observation.
type PointPayload struct {
	When  string   `json:"when"`
	Value *float64 `json:"value"`
}

type SeriesResponse struct {
	Symbol string             `json:"symbol"`
	Points []PointPayload     `json:"points"`
	Report *DataQualityReport `json:"report,omitempty"`
}

// ReportEvent is published for every validation run.
type ReportEvent struct {
	ID         string            `json:"id"`
	Symbol     string            `json:"symbol"`
	Freq       Frequency         `json:"freq"`
	Source     string            `json:"source"`
	Report     DataQualityReport `json:"report"`
	ProducedAt time.Time         `json:"produced_at"`
}

// PointsMessage is the payload of the inbound points topic.
type PointsMessage struct {
	Symbol string         `json:"symbol"`
	Freq   string         `json:"freq"`
	Points []PointPayload `json:"points"`
}

// RevalidatePayload is the queue payload of a scheduled revalidation.
type RevalidatePayload struct {
	Symbol       string `json:"symbol"`
	Freq         string `json:"freq"`
	LookbackDays int    `json:"lookback_days"`
}

// PointsFromPayload converts wire points; a null value becomes NaN.
func PointsFromPayload(in []PointPayload) ([]SeriesPoint, error) {
	out := make([]SeriesPoint, 0, len(in))
	for i, p := range in {
		ts, err := util.ParseDate(p.When)
		if err != nil {
			return nil, fmt.Errorf("points[%d]: %w", i, err)
		}
		v := math.NaN()
		if p.Value != nil {
			v = *p.Value
		}
		out = append(out, SeriesPoint{Timestamp: ts, Value: v})
	}
	return out, nil
}

// PointsToPayload converts points for JSON output. Timestamps are rendered as
// dates and non-finite values as null since JSON has no encoding for them.
func PointsToPayload(in []SeriesPoint) []PointPayload {
	out := make([]PointPayload, 0, len(in))
	for _, p := range in {
		pp := PointPayload{When: p.Timestamp.UTC().Format(util.DateLayout)}
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			v := p.Value
			pp.Value = &v
		}
		out = append(out, pp)
	}
	return out
}
