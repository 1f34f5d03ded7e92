package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
)

const tableTokens = "vault_tokens"

// SQL queries
const (
	insertTokenQuery = `
		INSERT INTO %s (token, merchant_id, last4, brand, ciphertext)
		VALUES (?, ?, ?, ?, ?)`

	getTokenQuery = `
		SELECT token, merchant_id, last4, brand, ciphertext, created_at
		FROM %s
		WHERE token = ?`
)

// Service is the MySQL-backed Vault. Card data is sealed with AES-GCM under
// a single service key; each token gets a fresh nonce prepended to the
// ciphertext.
type Service struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	aead   cipher.AEAD
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a vault sealing card data with the given hex-encoded
// 256-bit key.
func NewService(db *sql.DB, hexKey string, logger *zap.Logger) (*Service, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init vault cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init vault aead: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		aead:   aead,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Service) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

// Tokenize implements Vault.
func (s *Service) Tokenize(ctx context.Context, merchantID string, card Card) (TokenInfo, error) {
	if merchantID == "" {
		return TokenInfo{}, errs.New(errs.CodeValidation, "merchant id is required")
	}
	if err := card.Validate(s.now()); err != nil {
		return TokenInfo{}, err
	}

	ciphertext, err := s.seal(card)
	if err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{
		Token:      "tok_" + uuid.NewString(),
		MerchantID: merchantID,
		Last4:      card.Last4(),
		Brand:      card.Brand(),
		CreatedAt:  s.now(),
	}

	query := fmt.Sprintf(insertTokenQuery, tableTokens)
	if _, err := s.conn(ctx).ExecContext(ctx, query, info.Token, merchantID, info.Last4, info.Brand, ciphertext); err != nil {
		return TokenInfo{}, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Info("Card tokenized",
		zap.String("merchant_id", merchantID),
		zap.String("brand", info.Brand),
		zap.String("last4", info.Last4))
	return info, nil
}

// Detokenize implements Vault.
func (s *Service) Detokenize(ctx context.Context, token, merchantID string) (Card, error) {
	_, ciphertext, err := s.load(ctx, token, merchantID)
	if err != nil {
		return Card{}, err
	}
	return s.open(ciphertext)
}

// Info implements Vault.
func (s *Service) Info(ctx context.Context, token, merchantID string) (TokenInfo, error) {
	info, _, err := s.load(ctx, token, merchantID)
	return info, err
}

// load fetches the token row and enforces ownership. An ownership mismatch
// reports the same not-found error as an unknown token so callers cannot
// probe for foreign tokens.
func (s *Service) load(ctx context.Context, token, merchantID string) (TokenInfo, []byte, error) {
	query := fmt.Sprintf(getTokenQuery, tableTokens)

	var (
		info       TokenInfo
		ciphertext []byte
	)
	err := s.conn(ctx).QueryRowContext(ctx, query, token).
		Scan(&info.Token, &info.MerchantID, &info.Last4, &info.Brand, &ciphertext, &info.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenInfo{}, nil, errs.Newf(errs.CodeNotFound, "token %s not found", token)
	}
	if err != nil {
		return TokenInfo{}, nil, fmt.Errorf("failed to load token: %w", err)
	}
	if info.MerchantID != merchantID {
		s.logger.Warn("Cross-owner token access rejected",
			zap.String("token", token),
			zap.String("merchant_id", merchantID))
		return TokenInfo{}, nil, errs.Newf(errs.CodeNotFound, "token %s not found", token)
	}
	return info, ciphertext, nil
}

func (s *Service) seal(card Card) ([]byte, error) {
	plaintext, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("marshal card: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Service) open(ciphertext []byte) (Card, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return Card{}, errs.New(errs.CodePermanent, "stored card data is corrupt")
	}
	nonce, sealed := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Card{}, errs.Wrap(errs.CodePermanent, "stored card data failed to decrypt", err)
	}
	var card Card
	if err := json.Unmarshal(plaintext, &card); err != nil {
		return Card{}, fmt.Errorf("unmarshal card: %w", err)
	}
	return card, nil
}

// EnsureTables creates the vault table if it does not exist.
func (s *Service) EnsureTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS vault_tokens (
			token       VARCHAR(64)  NOT NULL PRIMARY KEY,
			merchant_id CHAR(36)     NOT NULL,
			last4       CHAR(4)      NOT NULL,
			brand       VARCHAR(16)  NOT NULL,
			ciphertext  VARBINARY(512) NOT NULL,
			created_at  TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_merchant (merchant_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vault_tokens table: %w", err)
	}
	return nil
}
