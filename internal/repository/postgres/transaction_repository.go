package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/sparklean/bookings/internal/domain/errors"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"amount_minor": "amount_minor",
	"status":       "status",
}

// TransactionRepository implements transaction.Store using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const transactionColumns = `id, reference, provider, owner_id, booking_id, idempotency_key,
	        amount_minor, currency, status, checkout_url, metadata, created_at, updated_at`

// Create inserts a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *transaction.Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transactions
		 (id, reference, provider, owner_id, booking_id, idempotency_key,
		  amount_minor, currency, status, checkout_url, metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.Reference, string(t.Provider), t.OwnerID, t.BookingID, t.IdempotencyKey,
		t.AmountMinor, t.Currency, string(t.Status), t.CheckoutURL, metadata, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrIdempotencyConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a transaction by its internal ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// GetByReference retrieves a transaction by its provider reference.
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference))
}

// CompareAndSetStatus transitions the row from expected to next in a single
// conditional UPDATE, merging meta into the stored metadata. The WHERE clause
// on the current status makes concurrent writers serialize: exactly one wins,
// the rest observe ErrConcurrentUpdate and re-read.
func (r *TransactionRepository) CompareAndSetStatus(
	ctx context.Context,
	reference string,
	expected, next transaction.Status,
	meta map[string]any,
) (*transaction.Transaction, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	t, err := r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`UPDATE transactions
		 SET status = $1, metadata = metadata || $2::jsonb, updated_at = NOW()
		 WHERE reference = $3 AND status = $4
		 RETURNING `+transactionColumns,
		string(next), metadata, reference, string(expected),
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domainErrors.ErrTransactionNotFound) {
		return nil, err
	}

	// No row matched: distinguish a lost race from an unknown reference.
	var exists bool
	if err := r.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE reference = $1)`, reference,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check transaction exists: %w", err)
	}
	if exists {
		return nil, domainErrors.ErrConcurrentUpdate
	}
	return nil, domainErrors.ErrTransactionNotFound
}

// List lists transactions with optional filters.
func (r *TransactionRepository) List(ctx context.Context, f transaction.ListFilter) ([]*transaction.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, *f.OwnerID)
		argIdx++
	}
	if f.BookingID != nil {
		query += fmt.Sprintf(" AND booking_id = $%d", argIdx)
		args = append(args, *f.BookingID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Provider != nil {
		query += fmt.Sprintf(" AND provider = $%d", argIdx)
		args = append(args, string(*f.Provider))
		argIdx++
	}

	// Strict whitelist for sort column
	sortBy := "created_at"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// scanTransaction scans a transaction from any source implementing scanner.
func (r *TransactionRepository) scanTransaction(s scanner) (*transaction.Transaction, error) {
	t := &transaction.Transaction{Metadata: make(map[string]any)}
	var (
		provider string
		status   string
		metadata []byte
	)
	err := s.Scan(
		&t.ID, &t.Reference, &provider, &t.OwnerID, &t.BookingID, &t.IdempotencyKey,
		&t.AmountMinor, &t.Currency, &status, &t.CheckoutURL, &metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Provider = transaction.Provider(provider)
	t.Status = transaction.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}
	return t, nil
}
