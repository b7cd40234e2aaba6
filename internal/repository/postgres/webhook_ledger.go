package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sparklean/bookings/internal/domain/transaction"
)

// WebhookLedgerRepository implements transaction.WebhookLedger. The primary
// key on (provider, event_id) makes MarkProcessed a single atomic statement.
type WebhookLedgerRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookLedgerRepository(pool *pgxpool.Pool) *WebhookLedgerRepository {
	return &WebhookLedgerRepository{pool: pool}
}

func (r *WebhookLedgerRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *WebhookLedgerRepository) MarkProcessed(ctx context.Context, provider transaction.Provider, eventID string) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events (provider, event_id, received_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		string(provider), eventID,
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
