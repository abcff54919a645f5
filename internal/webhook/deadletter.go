package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/db"
)

// DeadLetter carries the full context of a terminally failed delivery chain,
// enough for an operator to inspect and manually replay it.
type DeadLetter struct {
	EventType    EventType
	Payload      []byte
	TargetURL    string
	ErrorMessage string
	RetryCount   int
	RequestID    string
}

// Sink durably records dead letters. Record must be idempotent with respect
// to RequestID: the scheduler may call it more than once for the same chain.
type Sink interface {
	Record(ctx context.Context, letter DeadLetter) error
}

// DBSink persists dead letters through the database layer.
type DBSink struct {
	queries db.Querier
	logger  *zap.Logger
}

// NewDBSink creates a database-backed dead-letter sink.
func NewDBSink(queries db.Querier, logger *zap.Logger) *DBSink {
	return &DBSink{
		queries: queries,
		logger:  logger,
	}
}

// Record writes one dead-letter entry. Duplicate request IDs are absorbed by
// the storage layer, so a crashed-and-rerun chain cannot double-record.
func (s *DBSink) Record(ctx context.Context, letter DeadLetter) error {
	err := s.queries.CreateDeadLetterEntry(ctx, db.CreateDeadLetterEntryParams{
		ID:           uuid.New(),
		EventType:    string(letter.EventType),
		Payload:      letter.Payload,
		TargetURL:    letter.TargetURL,
		ErrorMessage: letter.ErrorMessage,
		RetryCount:   int32(letter.RetryCount),
		RequestID:    letter.RequestID,
	})
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}

	s.logger.Warn("delivery dead-lettered",
		zap.String("event_type", string(letter.EventType)),
		zap.String("target_url", letter.TargetURL),
		zap.String("request_id", letter.RequestID),
		zap.Int("retry_count", letter.RetryCount),
		zap.String("error", letter.ErrorMessage))

	return nil
}
