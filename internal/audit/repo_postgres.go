package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends events to the audit_events table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var meta any
	if e.Metadata != "" {
		meta = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, order_number, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.OrderNumber, e.CallID, e.Message, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}
