package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// PGClient sends queue messages to the queue_jobs table.
type PGClient struct {
	DB *sql.DB
}

// Send inserts a message into queue_jobs, visible immediately.
func (p *PGClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	const query = `
INSERT INTO queue_jobs (payload, run_at, receive_count, created_at)
VALUES ($1, now(), 0, now())`
	if _, err := p.DB.ExecContext(ctx, query, payload); err != nil {
		return fmt.Errorf("insert queue job: %w", err)
	}
	return nil
}

// PGSource receives queue messages from the queue_jobs table with lease
// semantics equivalent to an SQS visibility timeout. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never receive the same row.
type PGSource struct {
	DB           *sql.DB
	LeaseSeconds int
	PollInterval time.Duration
}

func NewPGSource(db *sql.DB, leaseSeconds int) *PGSource {
	if leaseSeconds <= 0 {
		leaseSeconds = 1200
	}
	return &PGSource{
		DB:           db,
		LeaseSeconds: leaseSeconds,
		PollInterval: time.Second,
	}
}

func (p *PGSource) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		deliveries, err := p.receiveOnce(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 || wait <= 0 || time.Now().After(deadline) {
			return deliveries, nil
		}
		interval := p.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (p *PGSource) receiveOnce(ctx context.Context, max int) ([]Delivery, error) {
	const query = `
WITH next AS (
    SELECT id
    FROM queue_jobs
    WHERE run_at <= now()
      AND (lease_expires_at IS NULL OR lease_expires_at < now())
    ORDER BY run_at, id
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE queue_jobs q
SET lease_expires_at = now() + ($2 * interval '1 second'),
    receive_count    = q.receive_count + 1
FROM next
WHERE q.id = next.id
RETURNING q.id, q.payload, q.receive_count`

	rows, err := p.DB.QueryContext(ctx, query, max, p.LeaseSeconds)
	if err != nil {
		return nil, fmt.Errorf("claim queue jobs: %w", err)
	}
	defer rows.Close()

	deliveries := []Delivery{}
	for rows.Next() {
		var (
			id           int64
			payload      []byte
			receiveCount int
		)
		if err := rows.Scan(&id, &payload, &receiveCount); err != nil {
			return nil, fmt.Errorf("scan queue job: %w", err)
		}
		deliveries = append(deliveries, Delivery{
			Receipt:      strconv.FormatInt(id, 10),
			Body:         string(payload),
			ReceiveCount: receiveCount,
		})
	}
	return deliveries, rows.Err()
}

func (p *PGSource) Delete(ctx context.Context, d Delivery) error {
	id, err := strconv.ParseInt(d.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid receipt %q: %w", d.Receipt, err)
	}
	const query = `DELETE FROM queue_jobs WHERE id = $1`
	if _, err := p.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete queue job: %w", err)
	}
	return nil
}

// Release clears the lease and pushes run_at into the future so the job is
// redelivered after delay.
func (p *PGSource) Release(ctx context.Context, d Delivery, delay time.Duration) error {
	id, err := strconv.ParseInt(d.Receipt, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid receipt %q: %w", d.Receipt, err)
	}
	delaySeconds := int64(delay / time.Second)
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	const query = `
UPDATE queue_jobs
SET run_at = now() + ($2 * interval '1 second'),
    lease_expires_at = NULL
WHERE id = $1`
	if _, err := p.DB.ExecContext(ctx, query, id, delaySeconds); err != nil {
		return fmt.Errorf("release queue job: %w", err)
	}
	return nil
}

var (
	_ Client = (*PGClient)(nil)
	_ Source = (*PGSource)(nil)
)
