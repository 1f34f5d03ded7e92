package merchant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

const tableMerchants = "merchants"

// SQL queries
const (
	createMerchantQuery = `
		INSERT INTO %s (id, name, api_key, api_secret, webhook_urls, balance, version)
		VALUES (?, ?, ?, ?, ?, ?, 0)`

	getMerchantQuery = `
		SELECT id, name, api_key, api_secret, webhook_urls, balance, version, created_at, updated_at
		FROM %s
		WHERE id = ?`

	getByAPIKeyQuery = `
		SELECT id, name, api_key, api_secret, webhook_urls, balance, version, created_at, updated_at
		FROM %s
		WHERE api_key = ?`

	casBalanceQuery = `
		UPDATE %s
		SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?`
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
func (s *SQLStore) Create(ctx context.Context, m *Merchant) error {
	urls, err := json.Marshal(m.WebhookURLs)
	if err != nil {
		return fmt.Errorf("marshal webhook urls: %w", err)
	}

	query := fmt.Sprintf(createMerchantQuery, tableMerchants)
	_, err = s.conn(ctx).ExecContext(ctx, query, m.ID, m.Name, m.APIKey, m.APISecret, urls, m.Balance)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return errs.Newf(errs.CodeConflict, "merchant %s already exists", m.ID)
		}
		return fmt.Errorf("failed to create merchant: %w", err)
	}
	m.Version = 0
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*Merchant, error) {
	query := fmt.Sprintf(getMerchantQuery, tableMerchants)
	return s.scanMerchant(s.conn(ctx).QueryRowContext(ctx, query, id), id)
}

// GetByAPIKey implements Store.
func (s *SQLStore) GetByAPIKey(ctx context.Context, apiKey string) (*Merchant, error) {
	query := fmt.Sprintf(getByAPIKeyQuery, tableMerchants)
	return s.scanMerchant(s.conn(ctx).QueryRowContext(ctx, query, apiKey), apiKey)
}

// CompareAndSwapBalance implements Store.
func (s *SQLStore) CompareAndSwapBalance(ctx context.Context, id string, version, newBalance int64) (bool, error) {
	query := fmt.Sprintf(casBalanceQuery, tableMerchants)
	res, err := s.conn(ctx).ExecContext(ctx, query, newBalance, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to update balance for merchant %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read balance update result: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) scanMerchant(row *sql.Row, key string) (*Merchant, error) {
	var (
		m    Merchant
		urls []byte
	)
	err := row.Scan(&m.ID, &m.Name, &m.APIKey, &m.APISecret, &urls, &m.Balance, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.CodeNotFound, "merchant %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &m.WebhookURLs); err != nil {
			return nil, fmt.Errorf("unmarshal webhook urls: %w", err)
		}
	}
	return &m, nil
}

// EnsureTables creates the merchants table if it does not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS merchants (
			id           CHAR(36)     NOT NULL PRIMARY KEY,
			name         VARCHAR(255) NOT NULL,
			api_key      VARCHAR(64)  NOT NULL UNIQUE,
			api_secret   VARCHAR(128) NOT NULL,
			webhook_urls JSON         NOT NULL,
			balance      BIGINT       NOT NULL DEFAULT 0,
			version      BIGINT       NOT NULL DEFAULT 0,
			created_at   TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at   TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create merchants table: %w", err)
	}
	return nil
}
