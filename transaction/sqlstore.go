package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

const tableTransactions = "transactions"

const transactionColumns = `id, merchant_id, amount, currency, status, type, token, card_last4, card_brand,
	authorization_code, failure_reason, original_transaction_id, refunded_amount, version, metadata, created_at, updated_at`

// SQL queries
const (
	createTransactionQuery = `
		INSERT INTO %s (id, merchant_id, amount, currency, status, type, token, card_last4, card_brand, original_transaction_id, refunded_amount, version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`

	getTransactionQuery = `SELECT %s FROM %s WHERE id = ?`

	getForMerchantQuery = `SELECT %s FROM %s WHERE id = ? AND merchant_id = ?`

	updateStatusQuery = `
		UPDATE %s
		SET status = ?, authorization_code = ?, failure_reason = ?, version = version + 1
		WHERE id = ? AND status = ?`

	addRefundedQuery = `
		UPDATE %s
		SET refunded_amount = refunded_amount + ?, version = version + 1
		WHERE id = ? AND refunded_amount + ? <= amount`
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

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, t *Transaction) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var original any
	if t.OriginalTransactionID != "" {
		original = t.OriginalTransactionID
	}

	query := fmt.Sprintf(createTransactionQuery, tableTransactions)
	_, err = s.conn(ctx).ExecContext(ctx, query,
		t.ID, t.MerchantID, t.Amount, t.Currency, string(t.Status), string(t.Type),
		t.Token, t.CardLast4, t.CardBrand, original, metadata)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*Transaction, error) {
	query := fmt.Sprintf(getTransactionQuery, transactionColumns, tableTransactions)
	return s.scanOne(s.conn(ctx).QueryRowContext(ctx, query, id), id)
}

// GetForMerchant implements Store.
func (s *SQLStore) GetForMerchant(ctx context.Context, id, merchantID string) (*Transaction, error) {
	query := fmt.Sprintf(getForMerchantQuery, transactionColumns, tableTransactions)
	return s.scanOne(s.conn(ctx).QueryRowContext(ctx, query, id, merchantID), id)
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, merchantID string, filter ListFilter) ([]Transaction, error) {
	var (
		conds = []string{"merchant_id = ?"}
		args  = []any{merchantID}
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, filter.To)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?",
		transactionColumns, tableTransactions, strings.Join(conds, " AND "))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading transaction rows: %w", err)
	}
	return out, nil
}

// UpdateStatus implements Store. The status predicate makes the write
// conditional on the expected current state; a transition the state machine
// forbids, or a row already moved by a concurrent consumer, matches nothing
// and reports a conflict.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, to Status, authCode, failureReason string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(current.Status, to) {
		return errs.Newf(errs.CodeConflict, "transaction %s cannot move from %s to %s", id, current.Status, to)
	}

	query := fmt.Sprintf(updateStatusQuery, tableTransactions)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(to), authCode, failureReason, id, string(current.Status))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read status update result: %w", err)
	}
	if affected == 0 {
		return errs.Newf(errs.CodeConflict, "transaction %s moved concurrently", id)
	}
	return nil
}

// AddRefundedAmount implements Store. The bound predicate keeps
// refunded_amount from ever exceeding the amount even under concurrent
// refund settlements.
func (s *SQLStore) AddRefundedAmount(ctx context.Context, id string, amount int64) error {
	query := fmt.Sprintf(addRefundedQuery, tableTransactions)
	res, err := s.conn(ctx).ExecContext(ctx, query, amount, id, amount)
	if err != nil {
		return fmt.Errorf("failed to add refunded amount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read refunded amount result: %w", err)
	}
	if affected == 0 {
		return errs.Newf(errs.CodeConflict, "refunded amount for transaction %s would exceed its amount", id)
	}
	return nil
}

func (s *SQLStore) scanOne(row *sql.Row, id string) (*Transaction, error) {
	t, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.CodeNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransaction(scan func(dest ...any) error) (*Transaction, error) {
	var (
		t        Transaction
		status   string
		txType   string
		token    sql.NullString
		last4    sql.NullString
		brand    sql.NullString
		authCode sql.NullString
		reason   sql.NullString
		original sql.NullString
		metadata []byte
	)
	err := scan(
		&t.ID, &t.MerchantID, &t.Amount, &t.Currency, &status, &txType,
		&token, &last4, &brand, &authCode, &reason, &original,
		&t.RefundedAmount, &t.Version, &metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction row: %w", err)
	}
	t.Status = Status(status)
	t.Type = Type(txType)
	t.Token = token.String
	t.CardLast4 = last4.String
	t.CardBrand = brand.String
	t.AuthorizationCode = authCode.String
	t.FailureReason = reason.String
	t.OriginalTransactionID = original.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

// EnsureTables creates the transactions table if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS transactions (
			id                      CHAR(36)     NOT NULL PRIMARY KEY,
			merchant_id             CHAR(36)     NOT NULL,
			amount                  BIGINT       NOT NULL,
			currency                CHAR(3)      NOT NULL,
			status                  VARCHAR(16)  NOT NULL,
			type                    VARCHAR(16)  NOT NULL,
			token                   VARCHAR(64)  NULL,
			card_last4              CHAR(4)      NULL,
			card_brand              VARCHAR(16)  NULL,
			authorization_code      VARCHAR(32)  NULL,
			failure_reason          VARCHAR(64)  NULL,
			original_transaction_id CHAR(36)     NULL,
			refunded_amount         BIGINT       NOT NULL DEFAULT 0,
			version                 BIGINT       NOT NULL DEFAULT 0,
			metadata                JSON         NULL,
			created_at              TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at              TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
			INDEX idx_merchant_created (merchant_id, created_at),
			INDEX idx_merchant_status (merchant_id, status),
			INDEX idx_original (original_transaction_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create transactions table: %w", err)
	}
	return nil
}
