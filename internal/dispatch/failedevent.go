package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FailedEvent is the durable record of a handler failure, kept for manual
// replay rather than automatic redelivery.
type FailedEvent struct {
	ID          int64
	RoutingKey  string
	WorkspaceID int64
	Payload     json.RawMessage
	Traceback   string
	CreatedAt   time.Time
}

// FailedEventRepository persists failed events.
type FailedEventRepository struct {
	pool *pgxpool.Pool
}

// NewFailedEventRepository constructs the repository.
func NewFailedEventRepository(pool *pgxpool.Pool) *FailedEventRepository {
	return &FailedEventRepository{pool: pool}
}

// Record implements Recorder.
func (r *FailedEventRepository) Record(ctx context.Context, event FailedEvent) error {
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`null`)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO failed_events (routing_key, workspace_id, payload, error_traceback, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.RoutingKey, event.WorkspaceID, []byte(payload), event.Traceback, event.CreatedAt)
	return err
}

// ListByWorkspace returns failed events for a workspace, newest first.
func (r *FailedEventRepository) ListByWorkspace(ctx context.Context, workspaceID int64, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, routing_key, workspace_id, payload, error_traceback, created_at
		FROM failed_events WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []FailedEvent
	for rows.Next() {
		var (
			e       FailedEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.RoutingKey, &e.WorkspaceID, &payload, &e.Traceback, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}
