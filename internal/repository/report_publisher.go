package repository

import (
	"context"
	"errors"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/domain/repository"
	pkgkafka "FinSeries/pkg/kafka"

	"github.com/segmentio/kafka-go"
)

// KafkaReportPublisher writes report events to a topic keyed by symbol, so
// every report of a series lands on the same partition.
type KafkaReportPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaReportPublisher(producer *pkgkafka.Producer, topic string) *KafkaReportPublisher {
	return &KafkaReportPublisher{producer: producer, topic: topic}
}

func (p *KafkaReportPublisher) PublishReport(ctx context.Context, ev *models.ReportEvent) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:   []byte(ev.Symbol),
		Value: ev,
		Headers: []kafka.Header{
			pkgkafka.Header("event_id", ev.ID),
			pkgkafka.Header("validator_version", ev.Report.ValidatorVersion),
		},
	}})
}

func (p *KafkaReportPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// FanOutPublisher delivers each event to every publisher. All publishers are
// attempted; their errors are joined.
type FanOutPublisher struct {
	pubs []repository.ReportPublisher
}

func NewFanOutPublisher(pubs ...repository.ReportPublisher) *FanOutPublisher {
	out := make([]repository.ReportPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return &FanOutPublisher{pubs: out}
}

func (f *FanOutPublisher) PublishReport(ctx context.Context, ev *models.ReportEvent) error {
	var errs []error
	for _, p := range f.pubs {
		if err := p.PublishReport(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanOutPublisher) Close() error {
	var errs []error
	for _, p := range f.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
