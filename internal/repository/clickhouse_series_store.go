package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FinSeries/internal/domain/models"
	pkgch "FinSeries/pkg/clickhouse"
	applogger "FinSeries/pkg/logger"
)

const insertChunk = 2000

// CHSeriesStore keeps ingested points and report history in ClickHouse and
// serves stored points back as a series provider.
type CHSeriesStore struct {
	ch           *pkgch.Client
	db           *sql.DB
	pointsTable  string
	reportsTable string
	l            *applogger.Logger
}

func NewCHSeriesStore(ch *pkgch.Client, pointsTable, reportsTable string, l *applogger.Logger) *CHSeriesStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHSeriesStore{ch: ch, db: ch.DB(), pointsTable: pointsTable, reportsTable: reportsTable, l: l}
}

// Schema returns the idempotent DDL for the store tables.
func (s *CHSeriesStore) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            symbol      LowCardinality(String),
            ts          DateTime,
            value       Float64,
            source      LowCardinality(String),
            ingested_at DateTime DEFAULT now()
        ) ENGINE = ReplacingMergeTree(ingested_at)
        ORDER BY (symbol, ts)`, s.pointsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id                String,
            symbol            LowCardinality(String),
            freq              LowCardinality(String),
            source            LowCardinality(String),
            is_valid          UInt8,
            errors            Array(String),
            warnings          Array(String),
            metrics           String,
            validator_version LowCardinality(String),
            produced_at       DateTime64(3)
        ) ENGINE = MergeTree
        ORDER BY (symbol, produced_at)`, s.reportsTable),
	}
}

// Fetch implements repository.SeriesProvider. Stored points are returned as
// ingested; frequency is left to the caller.
func (s *CHSeriesStore) Fetch(ctx context.Context, symbol string, start, end time.Time, freq models.Frequency) ([]models.SeriesPoint, error) {
	began := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, value
        FROM %s FINAL
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `, s.pointsTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, start, end)
	if err != nil {
		s.l.Error("clickhouse fetch_series query error",
			applogger.String("table", s.pointsTable),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch series: %w", err)
	}
	defer rows.Close()

	out := make([]models.SeriesPoint, 0, 256)
	for rows.Next() {
		var p models.SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse fetch_series ok",
		applogger.String("symbol", symbol),
		applogger.String("freq", string(freq)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(began)),
	)
	return out, nil
}

// StorePoints implements repository.PointStore using chunked multi-row inserts.
func (s *CHSeriesStore) StorePoints(ctx context.Context, symbol, source string, points []models.SeriesPoint) error {
	rows := make([][]interface{}, 0, len(points))
	for _, p := range points {
		rows = append(rows, []interface{}{symbol, p.Timestamp.UTC(), p.Value, source})
	}
	if err := s.ch.InsertRows(ctx, s.pointsTable, []string{"symbol", "ts", "value", "source"}, rows, insertChunk); err != nil {
		return fmt.Errorf("store points: %w", err)
	}
	return nil
}

// SaveReport implements repository.ReportStore.
func (s *CHSeriesStore) SaveReport(ctx context.Context, ev *models.ReportEvent) error {
	metrics, err := json.Marshal(ev.Report.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var valid uint8
	if ev.Report.IsValid {
		valid = 1
	}
	q := fmt.Sprintf(`INSERT INTO %s
        (id, symbol, freq, source, is_valid, errors, warnings, metrics, validator_version, produced_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.reportsTable)
	_, err = s.db.ExecContext(ctx, q,
		ev.ID, ev.Symbol, string(ev.Freq), ev.Source, valid,
		nonNil(ev.Report.Errors), nonNil(ev.Report.Warnings), string(metrics),
		ev.Report.ValidatorVersion, ev.ProducedAt,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
