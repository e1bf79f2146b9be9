package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/actioncounter/internal/domain"
	"github.com/splax/actioncounter/internal/repository"
)

const defaultListLimit = 100

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.DeliveryRepository = (*Repository)(nil)

// RecordDeliveries inserts a batch of delivery log entries. Redelivered ids
// keep their first row.
func (r *Repository) RecordDeliveries(ctx context.Context, deliveries []domain.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	const query = `INSERT INTO webhook_deliveries (
		id,
		event,
		source,
		repo,
		action,
		status,
		outcome,
		occurred_at,
		received_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO NOTHING`
	batch := &pgx.Batch{}
	for _, d := range deliveries {
		batch.Queue(query,
			d.ID,
			d.Kind,
			emptyToNil(d.Source),
			emptyToNil(d.Repo),
			emptyToNil(d.Action),
			emptyToNil(d.Status),
			d.Outcome,
			d.OccurredAt,
			d.ReceivedAt,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range deliveries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListDeliveries returns the most recent deliveries, optionally for one source.
func (r *Repository) ListDeliveries(ctx context.Context, source string, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const query = `SELECT
		id,
		event,
		source,
		repo,
		action,
		status,
		outcome,
		occurred_at,
		received_at
	FROM webhook_deliveries
	WHERE ($1 = '' OR source = $1)
	ORDER BY received_at DESC, id DESC
	LIMIT $2`
	rows, err := r.pool.Query(ctx, query, strings.TrimSpace(source), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Delivery, 0)
	for rows.Next() {
		var (
			d        domain.Delivery
			src      sql.NullString
			repo     sql.NullString
			action   sql.NullString
			status   sql.NullString
			occurred sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.Kind, &src, &repo, &action, &status, &d.Outcome, &occurred, &d.ReceivedAt); err != nil {
			return nil, err
		}
		d.Source = src.String
		d.Repo = repo.String
		d.Action = action.String
		d.Status = status.String
		if occurred.Valid {
			at := occurred.Time.UTC()
			d.OccurredAt = &at
		}
		d.ReceivedAt = d.ReceivedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func emptyToNil(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
