/**
 * @description
 * This file defines the `Repository` interface: the narrow contract for all
 * data access the merchant service needs. Defining it as an interface
 * decouples the Checkout Session Manager and the AP2 Merchant Agent from the
 * concrete Postgres implementation (Design Note: pluggable store behind a
 * narrow interface — get-by-id, create, compare-and-set with version,
 * list-expired).
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For id handling.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/domain"
)

var (
	ErrSessionNotFound        = errors.New("checkout session not found")
	ErrSessionVersionConflict = errors.New("checkout session version conflict")
	ErrChallengeNotFound      = errors.New("step-up challenge not found")
	ErrMandateAlreadyUsed     = errors.New("mandate already attached to a different session")
	ErrCredentialNotFound     = errors.New("device credential not found")
)

// Repository is the set of methods the merchant service needs for durable
// state. All session mutations go through CompareAndSwapSession so that
// concurrent Completes on the same session serialize correctly (§5).
type Repository interface {
	CreateSession(ctx context.Context, session *domain.CheckoutSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error)
	// CompareAndSwapSession persists session if session.Version matches the
	// currently stored version, then increments it. Returns
	// ErrSessionVersionConflict on mismatch so the caller can reload and retry.
	CompareAndSwapSession(ctx context.Context, session *domain.CheckoutSession) error
	ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]domain.CheckoutSession, error)

	FindSessionByMandateID(ctx context.Context, mandateID string) (*domain.CheckoutSession, error)

	UpsertChallenge(ctx context.Context, challenge *domain.StepUpChallenge) error
	GetChallengeByMandateID(ctx context.Context, mandateID string) (*domain.StepUpChallenge, error)
	IncrementChallengeAttempt(ctx context.Context, challengeID uuid.UUID) (*domain.StepUpChallenge, error)
	SetChallengeStatus(ctx context.Context, challengeID uuid.UUID, status string) error

	// LookupDeviceCredential resolves the public key on file for payerEmail.
	// UpsertDeviceCredential is the write side, called from
	// ap2merchant.Agent.RegisterDeviceCredential when the shopper's device
	// enrollment call-out crosses the shopper/merchant trust boundary.
	UpsertDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error
	LookupDeviceCredential(ctx context.Context, payerEmail string) (*domain.DeviceCredential, error)

	AppendRequestLog(ctx context.Context, entry domain.RequestLogEntry) error
}
