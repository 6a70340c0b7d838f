package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FinSeries/internal/domain/models"
	domrepo "FinSeries/internal/domain/repository"
	xhttp "FinSeries/pkg/http"
	pkgkafka "FinSeries/pkg/kafka"
)

// SourceKafka tags reports produced from the points topic.
const SourceKafka = "kafka"

// KafkaPointsHandler consumes raw point batches, stores them and validates them.
type KafkaPointsHandler struct {
	topic   string
	svc     *SeriesQuality
	store   domrepo.PointStore
	metrics domrepo.Metrics
}

func NewKafkaPointsHandler(topic string, svc *SeriesQuality, store domrepo.PointStore, metrics domrepo.Metrics) *KafkaPointsHandler {
	return &KafkaPointsHandler{topic: topic, svc: svc, store: store, metrics: metrics}
}

func (h *KafkaPointsHandler) Topic() string { return h.topic }

// Handle decodes a PointsMessage. Malformed messages are permanent failures
// and go straight to the DLQ; storage errors are retried.
func (h *KafkaPointsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.PointsMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode points: %w", pkgkafka.ErrPermanent, err)
	}
	if err := xhttp.ValidatePayload(ctx, &pointsEnvelope{Symbol: m.Symbol, Freq: m.Freq, Count: len(m.Points)}); err != nil {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
	}
	points, err := models.PointsFromPayload(m.Points)
	if err != nil {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
	}

	symbol := strings.TrimSpace(m.Symbol)
	if h.store != nil {
		start := time.Now()
		err := h.store.StorePoints(ctx, symbol, SourceKafka, points)
		h.metrics.RecordLatency("store_points", time.Since(start).Seconds())
		if err != nil {
			h.metrics.RecordError("consumer_store")
			return fmt.Errorf("store points %s: %w", symbol, err)
		}
	}

	h.svc.Validate(ctx, symbol, models.NormalizeFrequency(m.Freq), points, SourceKafka)
	return nil
}

type pointsEnvelope struct {
	Symbol string `validate:"required,max=64"`
	Freq   string `validate:"omitempty,oneof=D M Q d m q"`
	Count  int    `validate:"gte=1,lte=100000"`
}
