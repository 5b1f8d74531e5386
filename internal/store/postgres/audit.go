package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type auditRepo struct {
	ext     sqlx.ExtContext
	timeout time.Duration
}

func (r *auditRepo) Append(ctx context.Context, eventType, symbol string, detail map[string]any) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_log (event_type, symbol, detail, created_at)
		VALUES ($1, $2, $3, NOW())`
	if _, err := r.ext.ExecContext(ctx, query, eventType, symbol, detailJSON); err != nil {
		return fmt.Errorf("failed to append audit entry %s: %w", eventType, err)
	}
	return nil
}
