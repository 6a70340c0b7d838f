package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seriesRoutes struct{}

type lookupRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=8"`
	Freq   string `query:"freq" json:"freq" default:"D" validate:"oneof=D M Q"`
}

func (seriesRoutes) RegisterRoutes(e *echo.Echo) {
	e.GET("/lookup", func(c echo.Context) error {
		req := &lookupRequest{}
		if verr := ReadAndValidateRequest(c, req); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/panic", func(echo.Context) error { panic("kaboom") })
}

func newTestServer() *Server {
	return NewServer(seriesRoutes{}, WithHost("127.0.0.1"), WithPort(0), WithMetrics(false, 0))
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServer_EnvelopeAndDefaults(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/lookup?symbol=SPY", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Status    int           `json:"status"`
		RequestID string        `json:"request_id"`
		Data      lookupRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.Status)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), env.RequestID)
	assert.Equal(t, "D", env.Data.Freq)
}

func TestServer_ValidationUsesWireNames(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/lookup?freq=W", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env struct {
		Data []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	fields := map[string]string{}
	for _, ve := range env.Data {
		fields[ve.Field] = ve.Code
	}
	assert.Equal(t, "ERR_REQUIRED", fields["symbol"])
	assert.Equal(t, "ERR_ONEOF", fields["freq"])
}

func TestServer_RecoversPanics(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_id")
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer()

	pre := serve(s, http.MethodOptions, "/lookup", http.Header{
		"Origin":                        {"https://dash.example"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "*", pre.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, pre.Header().Get(echo.HeaderAccessControlAllowMethods), "GET")
	assert.Equal(t, "600", pre.Header().Get(echo.HeaderAccessControlMaxAge))

	plain := serve(s, http.MethodGet, "/lookup?symbol=SPY", nil)
	assert.Empty(t, plain.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/lookup?symbol=SPY")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"symbol":"SPY"`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServer_StartReportsBindError(t *testing.T) {
	first := newTestServer()
	require.NoError(t, first.Start())
	defer first.Stop(context.Background())

	_, port, _ := strings.Cut(first.Addr(), ":")
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	second := NewServer(nil, WithHost("127.0.0.1"), WithPort(n), WithMetrics(false, 0))
	assert.Error(t, second.Start())
}

