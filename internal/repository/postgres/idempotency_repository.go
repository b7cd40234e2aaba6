package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// reservationTTL is how long an idempotency key replays the original outcome.
const reservationTTL = 24 * time.Hour

// IdempotencyRepository implements transaction.IdempotencyReservations on a
// single table. Reserve relies on INSERT ON CONFLICT so two concurrent
// requests with the same key cannot both win.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key, fingerprint string) (*transaction.Reservation, bool, error) {
	now := time.Now()
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_reservations (key, fingerprint, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		key, fingerprint, now, now.Add(reservationTTL),
	)
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	res := &transaction.Reservation{}
	err = r.db(ctx).QueryRow(ctx,
		`SELECT key, fingerprint, transaction_id
		 FROM idempotency_reservations WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&res.Key, &res.Fingerprint, &res.TransactionID)
	if err != nil {
		if err == pgx.ErrNoRows {
			// The insert targeted an expired row; reclaim it.
			return r.reclaimExpired(ctx, key, fingerprint)
		}
		return nil, false, fmt.Errorf("load idempotency reservation: %w", err)
	}

	return res, tag.RowsAffected() == 1, nil
}

// reclaimExpired takes over a reservation whose retention window has passed.
func (r *IdempotencyRepository) reclaimExpired(ctx context.Context, key, fingerprint string) (*transaction.Reservation, bool, error) {
	now := time.Now()
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE idempotency_reservations
		 SET fingerprint = $1, transaction_id = NULL, created_at = $2, expires_at = $3
		 WHERE key = $4 AND expires_at <= NOW()`,
		fingerprint, now, now.Add(reservationTTL), key,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reclaim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the reclaim race; surface the winner's reservation.
		res := &transaction.Reservation{}
		err = r.db(ctx).QueryRow(ctx,
			`SELECT key, fingerprint, transaction_id
			 FROM idempotency_reservations WHERE key = $1`, key,
		).Scan(&res.Key, &res.Fingerprint, &res.TransactionID)
		if err != nil {
			return nil, false, fmt.Errorf("load idempotency reservation: %w", err)
		}
		return res, false, nil
	}
	return &transaction.Reservation{Key: key, Fingerprint: fingerprint}, true, nil
}

func (r *IdempotencyRepository) Bind(ctx context.Context, key string, txID uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE idempotency_reservations SET transaction_id = $1 WHERE key = $2`,
		txID, key,
	)
	if err != nil {
		return fmt.Errorf("bind idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM idempotency_reservations WHERE key = $1 AND transaction_id IS NULL`, key,
	)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM idempotency_reservations WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}
