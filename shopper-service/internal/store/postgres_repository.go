/**
 * @description
 * PostgreSQL implementation of Repository using pgx, grounded on
 * `account-service/internal/store/account_repository.go`'s query and
 * error-translation style (pgx.ErrNoRows -> sentinel error).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5, github.com/jackc/pgx/v5/pgxpool.
 */

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ucp-demo/shopper-service/internal/domain"
)

// PostgresRepository is the Postgres-backed Repository implementation.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an established connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u *domain.User) error {
	const q = `INSERT INTO shopper_users (id, email, full_name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, u.ID, u.Email, u.FullName, u.CreatedAt)
	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `SELECT id, email, full_name, created_at FROM shopper_users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return &u, err
}

func (r *PostgresRepository) UpsertDeviceCredential(ctx context.Context, c *domain.DeviceCredential) error {
	const q = `
		INSERT INTO shopper_device_credentials (credential_id, user_email, public_key_pem, private_key_pem, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_email) DO UPDATE SET
			credential_id = EXCLUDED.credential_id,
			public_key_pem = EXCLUDED.public_key_pem,
			private_key_pem = EXCLUDED.private_key_pem
	`
	_, err := r.pool.Exec(ctx, q, c.CredentialID, c.UserEmail, c.PublicKeyPEM, c.PrivateKeyPEM, c.CreatedAt)
	return err
}

func (r *PostgresRepository) GetDeviceCredential(ctx context.Context, email string) (*domain.DeviceCredential, error) {
	var c domain.DeviceCredential
	err := r.pool.QueryRow(ctx, `
		SELECT credential_id, user_email, public_key_pem, private_key_pem, created_at
		FROM shopper_device_credentials WHERE user_email = $1
	`, email).Scan(&c.CredentialID, &c.UserEmail, &c.PublicKeyPEM, &c.PrivateKeyPEM, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	return &c, err
}

func (r *PostgresRepository) UpsertPaymentInstrument(ctx context.Context, instr *domain.PaymentInstrument) error {
	const q = `
		INSERT INTO shopper_payment_instruments (id, user_email, card_network, last_four, encrypted_pan, nonce, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET is_default = EXCLUDED.is_default
	`
	_, err := r.pool.Exec(ctx, q, instr.ID, instr.UserEmail, instr.CardNetwork, instr.LastFour, instr.EncryptedPAN, instr.Nonce, instr.IsDefault, instr.CreatedAt)
	return err
}

func (r *PostgresRepository) GetDefaultPaymentInstrument(ctx context.Context, email string) (*domain.PaymentInstrument, error) {
	var instr domain.PaymentInstrument
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_email, card_network, last_four, encrypted_pan, nonce, is_default, created_at
		FROM shopper_payment_instruments WHERE user_email = $1 AND is_default = true
		ORDER BY created_at DESC LIMIT 1
	`, email).Scan(&instr.ID, &instr.UserEmail, &instr.CardNetwork, &instr.LastFour, &instr.EncryptedPAN, &instr.Nonce, &instr.IsDefault, &instr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInstrumentNotFound
	}
	return &instr, err
}

func (r *PostgresRepository) CreateCheckoutAttempt(ctx context.Context, a *domain.CheckoutAttempt) error {
	const q = `
		INSERT INTO shopper_checkout_attempts
			(id, user_email, merchant_session_id, mandate_id, status, receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err := r.pool.Exec(ctx, q, a.ID, a.UserEmail, a.MerchantSessionID, a.MandateID, a.Status, nullableString(a.ReceiptJSON), a.CreatedAt)
	return err
}

func (r *PostgresRepository) GetCheckoutAttemptBySessionID(ctx context.Context, sessionID string) (*domain.CheckoutAttempt, error) {
	var a domain.CheckoutAttempt
	var receipt *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_email, merchant_session_id, mandate_id, status, receipt, created_at, updated_at
		FROM shopper_checkout_attempts WHERE merchant_session_id = $1
	`, sessionID).Scan(&a.ID, &a.UserEmail, &a.MerchantSessionID, &a.MandateID, &a.Status, &receipt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		a.ReceiptJSON = *receipt
	}
	return &a, nil
}

func (r *PostgresRepository) UpdateCheckoutAttempt(ctx context.Context, a *domain.CheckoutAttempt) error {
	const q = `
		UPDATE shopper_checkout_attempts SET status = $1, receipt = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.pool.Exec(ctx, q, a.Status, nullableString(a.ReceiptJSON), a.UpdatedAt, a.ID)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
