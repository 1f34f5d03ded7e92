package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

const tableEntries = "outbox_entries"

// SQL queries
const (
	createEntryQuery = `
		INSERT INTO %s (event_id, aggregate_id, event_type, payload, status, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)`

	getPendingQuery = `
		SELECT id, event_id, aggregate_id, event_type, payload, status, retry_count, last_error, processed_at, created_at, updated_at
		FROM %s
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`

	markProcessingQuery = `UPDATE %s SET status = ? WHERE id = ? AND status = ?`

	markCompletedQuery = `UPDATE %s SET status = ?, processed_at = ? WHERE id = ?`

	markFailedQuery = `
		UPDATE %s
		SET status = ?, retry_count = retry_count + 1, last_error = ?
		WHERE id = ?`

	retryFailedQuery = `UPDATE %s SET status = ? WHERE status = ? AND retry_count < ?`

	permanentlyFailedQuery = `
		SELECT id, event_id, aggregate_id, event_type, payload, status, retry_count, last_error, processed_at, created_at, updated_at
		FROM %s
		WHERE status = ? AND retry_count >= ?
		ORDER BY created_at DESC`

	resetEntryQuery = `UPDATE %s SET status = ?, retry_count = 0, last_error = '' WHERE id = ?`

	resetStuckQuery = `UPDATE %s SET status = ? WHERE status = ? AND updated_at < ?`

	deleteCompletedQuery = `DELETE FROM %s WHERE status = ? AND processed_at < ?`

	countByStatusQuery = `SELECT COUNT(*) FROM %s WHERE status = ?`

	countFailedQuery = `SELECT COUNT(*) FROM %s WHERE status = ? AND retry_count %s ?`
)

// ErrEntryAlreadyExists is returned when saving an entry with a duplicate event id.
var ErrEntryAlreadyExists = errors.New("outbox entry already exists")

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

// conn returns the executor for ctx: the ambient unit-of-work transaction
// when one is open, the plain connection otherwise.
func (s *SQLStore) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

// CreateEntry implements Store.
func (s *SQLStore) CreateEntry(ctx context.Context, entry *Entry) error {
	query := fmt.Sprintf(createEntryQuery, tableEntries)
	res, err := s.conn(ctx).ExecContext(ctx, query,
		entry.EventID,
		entry.AggregateID,
		string(entry.EventType),
		entry.Payload,
		string(StatusPending),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrEntryAlreadyExists
		}
		return fmt.Errorf("failed to save outbox entry: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.Status = StatusPending
	return nil
}

// GetPending implements Store.
func (s *SQLStore) GetPending(ctx context.Context, limit int) ([]Entry, error) {
	query := fmt.Sprintf(getPendingQuery, tableEntries)
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// MarkProcessing implements Store. The per-id conditional update is the
// exclusion mechanism between concurrent relay instances: at most one
// claimer matches the pending predicate.
func (s *SQLStore) MarkProcessing(ctx context.Context, ids []int64) ([]int64, error) {
	query := fmt.Sprintf(markProcessingQuery, tableEntries)
	claimed := make([]int64, 0, len(ids))

	for _, id := range ids {
		res, err := s.conn(ctx).ExecContext(ctx, query, string(StatusProcessing), id, string(StatusPending))
		if err != nil {
			return claimed, fmt.Errorf("failed to mark entry %d as processing: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("failed to read claim result for entry %d: %w", id, err)
		}
		if affected > 0 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// MarkCompleted implements Store.
func (s *SQLStore) MarkCompleted(ctx context.Context, id int64) error {
	query := fmt.Sprintf(markCompletedQuery, tableEntries)
	_, err := s.conn(ctx).ExecContext(ctx, query, string(StatusCompleted), time.Now().UTC(), id)
	return err
}

// MarkFailed implements Store.
func (s *SQLStore) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := fmt.Sprintf(markFailedQuery, tableEntries)
	_, err := s.conn(ctx).ExecContext(ctx, query, string(StatusFailed), errorMessage, id)
	return err
}

// RetryFailed implements Store.
func (s *SQLStore) RetryFailed(ctx context.Context, maxRetries int) (int64, error) {
	query := fmt.Sprintf(retryFailedQuery, tableEntries)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(StatusPending), string(StatusFailed), maxRetries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPermanentlyFailed implements Store.
func (s *SQLStore) GetPermanentlyFailed(ctx context.Context, maxRetries int) ([]Entry, error) {
	query := fmt.Sprintf(permanentlyFailedQuery, tableEntries)
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(StatusFailed), maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query permanently failed entries: %w", err)
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// ResetEntry implements Store.
func (s *SQLStore) ResetEntry(ctx context.Context, id int64) error {
	query := fmt.Sprintf(resetEntryQuery, tableEntries)
	_, err := s.conn(ctx).ExecContext(ctx, query, string(StatusPending), id)
	return err
}

// ResetStuck implements Store.
func (s *SQLStore) ResetStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(resetStuckQuery, tableEntries)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(StatusPending), string(StatusProcessing), olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCompletedBefore implements Store.
func (s *SQLStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(deleteCompletedQuery, tableEntries)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(StatusCompleted), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context, maxRetries int) (Stats, error) {
	var stats Stats

	counts := []struct {
		dst    *int64
		status Status
	}{
		{&stats.Pending, StatusPending},
		{&stats.Processing, StatusProcessing},
		{&stats.Completed, StatusCompleted},
	}
	for _, c := range counts {
		query := fmt.Sprintf(countByStatusQuery, tableEntries)
		if err := s.conn(ctx).QueryRowContext(ctx, query, string(c.status)).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count %s entries: %w", c.status, err)
		}
	}

	underQuery := fmt.Sprintf(countFailedQuery, tableEntries, "<")
	if err := s.conn(ctx).QueryRowContext(ctx, underQuery, string(StatusFailed), maxRetries).Scan(&stats.Failed); err != nil {
		return Stats{}, fmt.Errorf("failed to count failed entries: %w", err)
	}
	overQuery := fmt.Sprintf(countFailedQuery, tableEntries, ">=")
	if err := s.conn(ctx).QueryRowContext(ctx, overQuery, string(StatusFailed), maxRetries).Scan(&stats.PermanentlyFailed); err != nil {
		return Stats{}, fmt.Errorf("failed to count permanently failed entries: %w", err)
	}

	return stats, nil
}

func (s *SQLStore) scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry       Entry
			eventType   string
			status      string
			lastError   sql.NullString
			processedAt sql.NullTime
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.AggregateID,
			&eventType,
			&entry.Payload,
			&status,
			&entry.RetryCount,
			&lastError,
			&processedAt,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entry.EventType = EventType(eventType)
		entry.Status = Status(status)
		entry.LastError = lastError.String
		if processedAt.Valid {
			t := processedAt.Time
			entry.ProcessedAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading entry rows: %w", err)
	}
	return entries, nil
}

// EnsureTables creates the outbox table if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_entries (
			id            BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id      CHAR(36)     NOT NULL UNIQUE,
			aggregate_id  VARCHAR(64)  NOT NULL,
			event_type    VARCHAR(64)  NOT NULL,
			payload       JSON         NOT NULL,
			status        VARCHAR(16)  NOT NULL DEFAULT 'pending',
			retry_count   INT          NOT NULL DEFAULT 0,
			last_error    TEXT         NULL,
			processed_at  TIMESTAMP(6) NULL,
			created_at    TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at    TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
			INDEX idx_status_created (status, created_at),
			INDEX idx_status_retry (status, retry_count),
			INDEX idx_aggregate (aggregate_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create outbox_entries table: %w", err)
	}
	return nil
}
