package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const tableEntries = "inbox_entries"

// SQL queries
const (
	isProcessedQuery = `SELECT 1 FROM %s WHERE message_id = ? AND status = ? LIMIT 1`

	insertEntryQuery = `
		INSERT INTO %s (message_id, event_type, payload, status)
		VALUES (?, ?, ?, ?)`
)

// SQLStore is the MySQL-backed Store.
type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger *zap.Logger
}

// NewSQLStore creates a Store on top of db.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
	}
}

func (s *SQLStore) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

// IsProcessed implements Store.
func (s *SQLStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	query := fmt.Sprintf(isProcessedQuery, tableEntries)
	var one int
	err := s.conn(ctx).QueryRowContext(ctx, query, messageID, string(StatusProcessed)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check inbox for message %s: %w", messageID, err)
	}
	return true, nil
}

// MarkProcessed implements Store. The unique message_id index is the
// idempotency mechanism: the duplicate key error means a previous delivery
// already committed its work.
func (s *SQLStore) MarkProcessed(ctx context.Context, messageID, eventType string, payload []byte) (bool, error) {
	query := fmt.Sprintf(insertEntryQuery, tableEntries)
	_, err := s.conn(ctx).ExecContext(ctx, query, messageID, eventType, payload, string(StatusProcessed))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			s.logger.Debug("Duplicate message delivery skipped", zap.String("message_id", messageID))
			return true, nil
		}
		return false, fmt.Errorf("failed to record processed message %s: %w", messageID, err)
	}
	return false, nil
}

// MarkFailed implements Store.
func (s *SQLStore) MarkFailed(ctx context.Context, messageID, eventType string, payload []byte) error {
	query := fmt.Sprintf(insertEntryQuery, tableEntries)
	_, err := s.conn(ctx).ExecContext(ctx, query, messageID, eventType, payload, string(StatusFailed))
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil
		}
		return fmt.Errorf("failed to record failed message %s: %w", messageID, err)
	}
	return nil
}

// EnsureTables creates the inbox table if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS inbox_entries (
			id           BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_id   CHAR(36)     NOT NULL UNIQUE,
			event_type   VARCHAR(64)  NOT NULL,
			payload      JSON         NOT NULL,
			status       VARCHAR(16)  NOT NULL,
			processed_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_event_type (event_type)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create inbox_entries table: %w", err)
	}
	return nil
}
