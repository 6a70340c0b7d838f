package repository

import (
	"context"
	"errors"
	"testing"

	"FinSeries/internal/domain/models"
	"FinSeries/internal/domain/repository"

	"github.com/stretchr/testify/assert"
)

type countingPublisher struct {
	published int
	closed    bool
	err       error
}

func (c *countingPublisher) PublishReport(context.Context, *models.ReportEvent) error {
	c.published++
	return c.err
}

func (c *countingPublisher) Close() error {
	c.closed = true
	return nil
}

func TestFanOutPublisher(t *testing.T) {
	boom := errors.New("boom")
	a := &countingPublisher{err: boom}
	b := &countingPublisher{}
	var nilPub repository.ReportPublisher

	f := NewFanOutPublisher(a, nilPub, b)
	err := f.PublishReport(context.Background(), &models.ReportEvent{Symbol: "SPY"})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.published)
	assert.Equal(t, 1, b.published, "a failing publisher does not stop the others")

	assert.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNonNil(t *testing.T) {
	assert.Equal(t, []string{}, nonNil(nil))
	assert.Equal(t, []string{"x"}, nonNil([]string{"x"}))
}
