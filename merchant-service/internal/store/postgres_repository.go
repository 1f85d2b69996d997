/**
 * @description
 * This file implements the `Repository` interface against PostgreSQL using
 * pgx. Checkout sessions carry a `version` column used for optimistic
 * compare-and-set updates so that concurrent Completes on the same session
 * serialize correctly without a distributed lock manager (Design Note:
 * optimistic CAS on a session version counter, retry on conflict).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5, github.com/jackc/pgx/v5/pgxpool: PostgreSQL driver.
 * - encoding/json: For JSONB column marshaling of line items / mandate / receipt.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ucp-demo/merchant-service/internal/domain"
)

// PostgresRepository is the Postgres-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an established connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	lineItems, err := json.Marshal(s.LineItems)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO checkout_sessions
			(id, version, line_items, buyer_email, currency, subtotal, tax, total, status, created_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err = r.pool.Exec(ctx, q, s.ID, lineItems, s.BuyerEmail, s.Currency, s.Subtotal, s.Tax, s.Total, s.Status, s.CreatedAt)
	if err != nil {
		return err
	}
	s.Version = 1
	return nil
}

func scanSession(row pgx.Row) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	var lineItemsRaw, mandateRaw, receiptRaw []byte
	var activeChallengeID *uuid.UUID

	err := row.Scan(
		&s.ID, &s.Version, &lineItemsRaw, &s.BuyerEmail, &s.Currency,
		&s.Subtotal, &s.Tax, &s.Total, &s.Status,
		&mandateRaw, &receiptRaw, &activeChallengeID,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lineItemsRaw, &s.LineItems); err != nil {
		return nil, err
	}
	if len(mandateRaw) > 0 {
		if err := json.Unmarshal(mandateRaw, &s.Mandate); err != nil {
			return nil, err
		}
	}
	if len(receiptRaw) > 0 {
		if err := json.Unmarshal(receiptRaw, &s.Receipt); err != nil {
			return nil, err
		}
	}
	s.ActiveChallengeID = activeChallengeID
	return &s, nil
}

const sessionColumns = `
	id, version, line_items, buyer_email, currency, subtotal, tax, total, status,
	mandate, receipt, active_challenge_id, created_at, updated_at
`

func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PostgresRepository) FindSessionByMandateID(ctx context.Context, mandateID string) (*domain.CheckoutSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE mandate->'payment_mandate_contents'->>'payment_mandate_id' = $1`, mandateID)
	session, err := scanSession(row)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

// CompareAndSwapSession persists session only if the stored version still
// matches session.Version, then bumps the version. This is the durable
// backstop behind the in-process per-session lock held by the Checkout
// Session Manager: even across replicas, exactly one writer wins a race.
func (r *PostgresRepository) CompareAndSwapSession(ctx context.Context, s *domain.CheckoutSession) error {
	lineItems, err := json.Marshal(s.LineItems)
	if err != nil {
		return err
	}
	var mandateRaw, receiptRaw []byte
	if s.Mandate != nil {
		if mandateRaw, err = json.Marshal(s.Mandate); err != nil {
			return err
		}
	}
	if s.Receipt != nil {
		if receiptRaw, err = json.Marshal(s.Receipt); err != nil {
			return err
		}
	}

	const q = `
		UPDATE checkout_sessions SET
			version = version + 1,
			line_items = $1, buyer_email = $2, currency = $3,
			subtotal = $4, tax = $5, total = $6, status = $7,
			mandate = $8, receipt = $9, active_challenge_id = $10,
			updated_at = $11
		WHERE id = $12 AND version = $13
	`
	tag, err := r.pool.Exec(ctx, q,
		lineItems, s.BuyerEmail, s.Currency, s.Subtotal, s.Tax, s.Total, s.Status,
		nullableJSON(mandateRaw), nullableJSON(receiptRaw), s.ActiveChallengeID,
		time.Now().UTC(), s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionVersionConflict
	}
	s.Version++
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func (r *PostgresRepository) ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]domain.CheckoutSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE status IN ($1, $2) AND updated_at < $3
	`, domain.StatusReadyForComplete, domain.StatusRequiresEscalation, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertChallenge(ctx context.Context, c *domain.StepUpChallenge) error {
	const q = `
		INSERT INTO step_up_challenges
			(id, mandate_id, session_id, method, status, code_hash, code_salt, attempts, max_attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, attempts = EXCLUDED.attempts
	`
	_, err := r.pool.Exec(ctx, q, c.ID, c.MandateID, c.SessionID, c.Method, c.Status, c.CodeHash, c.CodeSalt, c.Attempts, c.MaxAttempts, c.ExpiresAt, c.CreatedAt)
	return err
}

func scanChallenge(row pgx.Row) (*domain.StepUpChallenge, error) {
	var c domain.StepUpChallenge
	err := row.Scan(&c.ID, &c.MandateID, &c.SessionID, &c.Method, &c.Status, &c.CodeHash, &c.CodeSalt, &c.Attempts, &c.MaxAttempts, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	return &c, err
}

const challengeColumns = `id, mandate_id, session_id, method, status, code_hash, code_salt, attempts, max_attempts, expires_at, created_at`

func (r *PostgresRepository) GetChallengeByMandateID(ctx context.Context, mandateID string) (*domain.StepUpChallenge, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM step_up_challenges WHERE mandate_id = $1 ORDER BY created_at DESC LIMIT 1`, mandateID)
	return scanChallenge(row)
}

func (r *PostgresRepository) IncrementChallengeAttempt(ctx context.Context, challengeID uuid.UUID) (*domain.StepUpChallenge, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE step_up_challenges SET attempts = attempts + 1 WHERE id = $1
		RETURNING `+challengeColumns, challengeID)
	return scanChallenge(row)
}

func (r *PostgresRepository) SetChallengeStatus(ctx context.Context, challengeID uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE step_up_challenges SET status = $1 WHERE id = $2`, status, challengeID)
	return err
}

func (r *PostgresRepository) UpsertDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	const q = `
		INSERT INTO merchant_known_device_credentials (credential_id, payer_email, public_key_pem)
		VALUES ($1, $2, $3)
		ON CONFLICT (payer_email) DO UPDATE SET credential_id = EXCLUDED.credential_id, public_key_pem = EXCLUDED.public_key_pem
	`
	_, err := r.pool.Exec(ctx, q, cred.CredentialID, cred.PayerEmail, cred.PublicKeyPEM)
	return err
}

func (r *PostgresRepository) LookupDeviceCredential(ctx context.Context, payerEmail string) (*domain.DeviceCredential, error) {
	var c domain.DeviceCredential
	err := r.pool.QueryRow(ctx, `SELECT credential_id, payer_email, public_key_pem FROM merchant_known_device_credentials WHERE payer_email = $1`, payerEmail).
		Scan(&c.CredentialID, &c.PayerEmail, &c.PublicKeyPEM)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	return &c, err
}

func (r *PostgresRepository) AppendRequestLog(ctx context.Context, e domain.RequestLogEntry) error {
	const q = `
		INSERT INTO request_log_entries
			(id, kind, endpoint, method, status, request_body, response_body, mandate_id, client_ip, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, q, e.ID, e.Kind, e.Endpoint, e.Method, e.Status, e.RequestBody, e.ResponseBody, e.MandateID, e.ClientIP, e.DurationMS, e.CreatedAt)
	return err
}
