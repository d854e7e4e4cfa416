package orderlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/bulltrade/gateway/internal/domain"
)

var pgLogger = log.New(log.Writer(), "[ORDERLOG] ", log.LstdFlags)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS order_log (
	id          BIGSERIAL PRIMARY KEY,
	idem_key    TEXT NOT NULL,
	status      TEXT NOT NULL,
	order_id    TEXT NOT NULL,
	result_json TEXT NOT NULL,
	logged_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS order_log_order_id_idx ON order_log (order_id, logged_at DESC);`

// Postgres is the durable order log.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the database, verifies connectivity and ensures the
// schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("orderlog: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("orderlog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("orderlog: ensure schema: %w", err)
	}
	pgLogger.Printf("connected")
	return &Postgres{db: db}, nil
}

// Append implements domain.OrderLog.
func (p *Postgres) Append(ctx context.Context, idempotencyKey, status, orderID, resultJSON string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO order_log (idem_key, status, order_id, result_json) VALUES ($1, $2, $3, $4)`,
		idempotencyKey, status, orderID, resultJSON)
	if err != nil {
		return fmt.Errorf("orderlog: append: %w", err)
	}
	return nil
}

// QueryLatestPerOrder implements domain.OrderLog. Time bounds are RFC3339;
// empty strings mean unbounded.
func (p *Postgres) QueryLatestPerOrder(ctx context.Context, fromTime, toTime string, limit int) ([]domain.OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	from, to, err := parseBounds(fromTime, toTime)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (order_id) idem_key, status, order_id, result_json, logged_at
		FROM order_log
		WHERE ($1::timestamptz IS NULL OR logged_at >= $1)
		  AND ($2::timestamptz IS NULL OR logged_at <= $2)
		ORDER BY order_id, logged_at DESC
		LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("orderlog: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		var rec domain.OrderRecord
		if err := rows.Scan(&rec.IdempotencyKey, &rec.Status, &rec.OrderID, &rec.ResultJSON, &rec.LoggedAt); err != nil {
			return nil, fmt.Errorf("orderlog: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetByOrderID implements domain.OrderLog.
func (p *Postgres) GetByOrderID(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT idem_key, status, order_id, result_json, logged_at
		FROM order_log WHERE order_id = $1
		ORDER BY logged_at DESC LIMIT 1`, orderID)

	var rec domain.OrderRecord
	err := row.Scan(&rec.IdempotencyKey, &rec.Status, &rec.OrderID, &rec.ResultJSON, &rec.LoggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orderlog: get: %w", err)
	}
	return &rec, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func parseBounds(fromTime, toTime string) (from, to sql.NullTime, err error) {
	if fromTime != "" {
		t, perr := time.Parse(time.RFC3339, fromTime)
		if perr != nil {
			return from, to, fmt.Errorf("orderlog: bad fromTime: %w", perr)
		}
		from = sql.NullTime{Time: t, Valid: true}
	}
	if toTime != "" {
		t, perr := time.Parse(time.RFC3339, toTime)
		if perr != nil {
			return from, to, fmt.Errorf("orderlog: bad toTime: %w", perr)
		}
		to = sql.NullTime{Time: t, Valid: true}
	}
	return from, to, nil
}
