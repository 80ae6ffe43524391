package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const defaultTableName = "evaluation_items"

// PostgresStore implements Store using a PostgreSQL table.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore creates a store that uses the given *sql.DB (driver "postgres").
// The table is created if it doesn't exist.
func NewPostgresStore(ctx context.Context, db *sql.DB, tableName string) (*PostgresStore, error) {
	if tableName == "" {
		tableName = defaultTableName
	}
	s := &PostgresStore{db: db, table: pq.QuoteIdentifier(tableName)}
	if err := s.migrate(ctx, tableName); err != nil {
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context, name string) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		trial INT NOT NULL DEFAULT 0,
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT false,
		degenerate BOOLEAN NOT NULL DEFAULT false,
		stage TEXT NOT NULL DEFAULT '',
		latency_ms BIGINT NOT NULL DEFAULT 0,
		at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier("idx_"+name+"_run") + ` ON ` + s.table + ` (run_id);
	CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier("idx_"+name+"_at") + ` ON ` + s.table + ` (at);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, r ItemRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (run_id, profile_id, trial, rating, success, degenerate, stage, latency_ms, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.RunID, r.ProfileID, r.Trial, r.Rating, r.Success, r.Degenerate, r.Stage, r.LatencyMs, r.At)
	return err
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	query, args := s.buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		var k sql.NullString
		if err := rows.Scan(&k, &a.Items, &a.SuccessCount, &a.MeanRating, &a.AvgLatencyMs); err != nil {
			return nil, err
		}
		if k.Valid {
			a.Key = k.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) buildQuery(q Query) (string, []interface{}) {
	args := []interface{}{}
	where := "1=1"
	n := 1
	if q.RunID != "" {
		args = append(args, q.RunID)
		where += fmt.Sprintf(" AND run_id = $%d", n)
		n++
	}
	if q.ProfileID != "" {
		args = append(args, q.ProfileID)
		where += fmt.Sprintf(" AND profile_id = $%d", n)
		n++
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		where += fmt.Sprintf(" AND at >= $%d", n)
		n++
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		where += fmt.Sprintf(" AND at <= $%d", n)
		n++
	}

	groupCol := "'all'"
	switch q.GroupBy {
	case "run":
		groupCol = "run_id"
	case "profile":
		groupCol = "profile_id"
	case "day":
		groupCol = "to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
	case "hour":
		groupCol = "to_char(at AT TIME ZONE 'UTC', 'YYYY-MM-DD-HH24')"
	}
	args = append(args, q.limit())

	query := `SELECT ` + groupCol + ` AS key,
		COUNT(*)::bigint AS items,
		COUNT(*) FILTER (WHERE success)::bigint AS success_count,
		COALESCE(AVG(rating) FILTER (WHERE success), 0) AS mean_rating,
		COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM ` + s.table + `
		WHERE ` + where + `
		GROUP BY 1
		ORDER BY items DESC, key ASC
		LIMIT ` + fmt.Sprintf("$%d", n)
	return query, args
}
