package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

var ErrNoHost = errors.New("clickhouse: host is required")

// Client wraps the database/sql pool opened through the clickhouse driver.
type Client struct {
	db       *sql.DB
	database string
}

// NewClient opens and pings a pool. With WithEnsureDatabase the target
// database is created first through a short-lived connection to "default".
func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.host == "" {
		return nil, ErrNoHost
	}

	if o.ensureDatabase && o.database != "default" {
		if err := createDatabase(o); err != nil {
			return nil, err
		}
	}

	db, err := open(o)
	if err != nil {
		return nil, err
	}
	return &Client{db: db, database: o.database}, nil
}

func open(o options) (*sql.DB, error) {
	db, err := sql.Open("clickhouse", buildDSN(o))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpen)
	db.SetMaxIdleConns(o.maxIdle)
	db.SetConnMaxLifetime(o.lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), o.dialTimeout+time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s:%d: %w", o.host, o.port, err)
	}
	return db, nil
}

func createDatabase(o options) error {
	target := o.database
	o.database = "default"
	o.maxOpen, o.maxIdle = 1, 0

	db, err := open(o)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+QuoteIdent(target)); err != nil {
		return fmt.Errorf("create database %s: %w", target, err)
	}
	return nil
}

func (c *Client) DB() *sql.DB { return c.db }

// Database returns the database the client is connected to.
func (c *Client) Database() string { return c.database }

// Health pings the pool.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i, err)
		}
	}
	return nil
}

// InsertRows writes rows into table with multi-row INSERT statements of at
// most chunk rows each. Every row must have one value per column.
func (c *Client) InsertRows(ctx context.Context, table string, columns []string, rows [][]interface{}, chunk int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunk <= 0 {
		chunk = len(rows)
	}
	head := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES "
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		tuples := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(columns))
		for i, row := range rows[start:end] {
			if len(row) != len(columns) {
				return fmt.Errorf("insert %s: row %d has %d values for %d columns", table, start+i, len(row), len(columns))
			}
			tuples = append(tuples, tuple)
			args = append(args, row...)
		}
		if _, err := c.db.ExecContext(ctx, head+strings.Join(tuples, ","), args...); err != nil {
			return fmt.Errorf("insert %s rows %d-%d: %w", table, start, end-1, err)
		}
	}
	return nil
}

func buildDSN(o options) string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   o.host + ":" + strconv.Itoa(o.port),
		Path:   "/" + o.database,
	}
	if o.useHTTP {
		u.Scheme = "http"
	}
	if o.user != "" {
		u.User = url.UserPassword(o.user, o.password)
	}

	q := url.Values{}
	if o.dialTimeout > 0 {
		q.Set("dial_timeout", o.dialTimeout.String())
	}
	if o.readTimeout > 0 {
		q.Set("read_timeout", o.readTimeout.String())
	}
	// whole seconds
	if o.maxExecTime > 0 {
		q.Set("max_execution_time", strconv.Itoa(int(o.maxExecTime.Seconds())))
	}
	if o.asyncInsert {
		q.Set("async_insert", "1")
		if o.waitForAsync {
			q.Set("wait_for_async_insert", "1")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// QuoteIdent backtick-quotes an identifier.
func QuoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
