package usecase

import (
	"context"
	"fmt"

	"FinSeries/internal/domain/models"
	"FinSeries/pkg/queue"
)

// RevalidateJobType is the queue message type of scheduled revalidations.
const RevalidateJobType = "series.revalidate"

// RevalidateJob re-fetches and validates one watchlist entry.
type RevalidateJob struct {
	svc *SeriesQuality
}

func NewRevalidateJob(svc *SeriesQuality) *RevalidateJob {
	return &RevalidateJob{svc: svc}
}

func (j *RevalidateJob) Name() string { return "revalidate" }
func (j *RevalidateJob) Type() string { return RevalidateJobType }

func (j *RevalidateJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[models.RevalidatePayload](payload)
	if err != nil {
		return fmt.Errorf("revalidate payload: %v: %w", err, queue.ErrPermanent)
	}
	if p.LookbackDays <= 0 {
		return fmt.Errorf("revalidate %s: lookback_days must be positive: %w", p.Symbol, queue.ErrPermanent)
	}
	if _, err := j.svc.Revalidate(ctx, p.Symbol, p.Freq, p.LookbackDays); err != nil {
		return fmt.Errorf("revalidate %s: %w", p.Symbol, err)
	}
	return nil
}
