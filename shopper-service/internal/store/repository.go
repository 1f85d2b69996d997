/**
 * @description
 * This file defines the Repository interface for the shopper service: the
 * narrow contract the Credentials Provider and Checkout Orchestrator need for
 * durable state. Grounded on
 * `account-service/internal/store/repository.go`'s interface-per-concern
 * style, collapsed into one interface since the shopper's aggregates are
 * small.
 */

package store

import (
	"context"
	"errors"

	"github.com/ucp-demo/shopper-service/internal/domain"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrCredentialNotFound = errors.New("device credential not found")
	ErrInstrumentNotFound = errors.New("payment instrument not found")
	ErrAttemptNotFound    = errors.New("checkout attempt not found")
	ErrAttemptExists      = errors.New("a checkout attempt is already in flight for this session")
)

// Repository is the shopper service's durable storage contract.
type Repository interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	UpsertDeviceCredential(ctx context.Context, cred *domain.DeviceCredential) error
	GetDeviceCredential(ctx context.Context, email string) (*domain.DeviceCredential, error)

	UpsertPaymentInstrument(ctx context.Context, instr *domain.PaymentInstrument) error
	GetDefaultPaymentInstrument(ctx context.Context, email string) (*domain.PaymentInstrument, error)

	CreateCheckoutAttempt(ctx context.Context, a *domain.CheckoutAttempt) error
	GetCheckoutAttemptBySessionID(ctx context.Context, sessionID string) (*domain.CheckoutAttempt, error)
	UpdateCheckoutAttempt(ctx context.Context, a *domain.CheckoutAttempt) error
}
