package db

import (
	"context"

	"github.com/google/uuid"
)

const createDeadLetterEntry = `
INSERT INTO dead_letter_entries (
	id, event_type, payload, target_url, error_message, retry_count, request_id, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, now()
)
ON CONFLICT (request_id) DO NOTHING
`

type CreateDeadLetterEntryParams struct {
	ID           uuid.UUID `json:"id"`
	EventType    string    `json:"event_type"`
	Payload      []byte    `json:"payload"`
	TargetURL    string    `json:"target_url"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int32     `json:"retry_count"`
	RequestID    string    `json:"request_id"`
}

// CreateDeadLetterEntry writes a dead-letter record. The unique constraint on
// request_id makes the write idempotent per delivery chain: a duplicate write
// is a no-op rather than a second entry.
func (q *Queries) CreateDeadLetterEntry(ctx context.Context, arg CreateDeadLetterEntryParams) error {
	_, err := q.db.Exec(ctx, createDeadLetterEntry,
		arg.ID,
		arg.EventType,
		arg.Payload,
		arg.TargetURL,
		arg.ErrorMessage,
		arg.RetryCount,
		arg.RequestID,
	)
	return err
}

const getDeadLetterEntry = `
SELECT id, event_type, payload, target_url, error_message, retry_count, request_id, created_at
FROM dead_letter_entries
WHERE id = $1
`

func (q *Queries) GetDeadLetterEntry(ctx context.Context, id uuid.UUID) (DeadLetterEntry, error) {
	row := q.db.QueryRow(ctx, getDeadLetterEntry, id)
	var d DeadLetterEntry
	err := row.Scan(
		&d.ID,
		&d.EventType,
		&d.Payload,
		&d.TargetURL,
		&d.ErrorMessage,
		&d.RetryCount,
		&d.RequestID,
		&d.CreatedAt,
	)
	return d, err
}

const listDeadLetterEntries = `
SELECT id, event_type, payload, target_url, error_message, retry_count, request_id, created_at
FROM dead_letter_entries
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

type ListDeadLetterEntriesParams struct {
	Limit  int32 `json:"limit"`
	Offset int32 `json:"offset"`
}

func (q *Queries) ListDeadLetterEntries(ctx context.Context, arg ListDeadLetterEntriesParams) ([]DeadLetterEntry, error) {
	rows, err := q.db.Query(ctx, listDeadLetterEntries, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeadLetterEntry
	for rows.Next() {
		var d DeadLetterEntry
		if err := rows.Scan(
			&d.ID,
			&d.EventType,
			&d.Payload,
			&d.TargetURL,
			&d.ErrorMessage,
			&d.RetryCount,
			&d.RequestID,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
