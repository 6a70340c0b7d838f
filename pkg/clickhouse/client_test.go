package clickhouse

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithAddr("ch.local", 0),
		WithDatabase("finseries"),
		WithCredentials("default", "p@ss"),
		WithMaxExecutionTime(30 * time.Second),
		WithAsyncInsert(true, true),
	} {
		opt(&o)
	}

	u, err := url.Parse(buildDSN(o))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9000", u.Host, "zero port keeps the default")
	assert.Equal(t, "/finseries", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)

	q := u.Query()
	assert.Equal(t, "5s", q.Get("dial_timeout"))
	assert.Equal(t, "10s", q.Get("read_timeout"))
	assert.Equal(t, "30", q.Get("max_execution_time"))
	assert.Equal(t, "1", q.Get("async_insert"))
	assert.Equal(t, "1", q.Get("wait_for_async_insert"))
}

func TestBuildDSN_HTTPNoOptionals(t *testing.T) {
	o := options{host: "localhost", port: 8123, database: "default", useHTTP: true}
	assert.Equal(t, "http://localhost:8123/default", buildDSN(o))
}

func TestWithPool_KeepsDefaultsForZero(t *testing.T) {
	o := defaultOptions()
	WithPool(0, 2, 0)(&o)
	assert.Equal(t, 10, o.maxOpen)
	assert.Equal(t, 2, o.maxIdle)
	assert.Equal(t, 5*time.Minute, o.lifetime)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`finseries`", QuoteIdent("finseries"))
	assert.Equal(t, "`a``b`", QuoteIdent("a`b"))
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestInsertRows_Guards(t *testing.T) {
	c := &Client{}
	ctx := context.Background()
	assert.NoError(t, c.InsertRows(ctx, "points", []string{"a"}, nil, 10))

	err := c.InsertRows(ctx, "points", []string{"a", "b"}, [][]interface{}{{1}}, 10)
	assert.ErrorContains(t, err, "row 0 has 1 values for 2 columns")
}
