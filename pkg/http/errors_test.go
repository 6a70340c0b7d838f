package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsAppError(t *testing.T) {
	nf := NotFoundError("no such series")
	assert.Same(t, nf, AsAppError(fmt.Errorf("lookup: %w", nf)))

	timeout := AsAppError(fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, timeout.Status)
	assert.Equal(t, CodeTimeout, timeout.Code)

	boom := errors.New("boom")
	internal := AsAppError(boom)
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.ErrorIs(t, internal, boom)
	assert.Equal(t, "internal error", internal.Message, "cause must not leak into the message")
}

func TestAppError_WithParam(t *testing.T) {
	e := BadRequestError("bad window").WithParam("start", "2020-01-01")
	assert.Equal(t, "2020-01-01", e.Params["start"])
	assert.Equal(t, "bad window", e.Error())
	assert.Equal(t, "bad window: x", e.WithError(errors.New("x")).Error())
}
