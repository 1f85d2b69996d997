/**
 * @description
 * This package implements the Checkout Session Manager: the merchant-owned
 * state machine driving a checkout session from creation through
 * completion. It owns the explicit state transitions (§4.1), per-session
 * serialization via an in-process lock keyed by session id (Design Note:
 * per-session lock acquired at handler entry, released at response
 * emission), and the durable compare-and-swap backstop via the Repository.
 *
 * @dependencies
 * - sync, time: Standard Go libraries.
 * - github.com/google/uuid: Session/mandate ids.
 * - internal/domain, internal/store, internal/mandate, internal/apierr.
 */

package checkout

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/apierr"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/mandate"
	"github.com/ucp-demo/merchant-service/internal/store"
)

// TaxPolicy computes tax owed on a subtotal. The default policy charges no
// tax; callers may supply a different pluggable policy.
type TaxPolicy func(subtotal float64, currency string) float64

// ZeroTax is the default tax policy.
func ZeroTax(subtotal float64, currency string) float64 { return 0 }

// Manager is the Checkout Session Manager component.
type Manager struct {
	repo      store.Repository
	taxPolicy TaxPolicy

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewManager constructs a Manager with the given repository and tax policy.
// A nil taxPolicy defaults to ZeroTax.
func NewManager(repo store.Repository, taxPolicy TaxPolicy) *Manager {
	if taxPolicy == nil {
		taxPolicy = ZeroTax
	}
	return &Manager{
		repo:      repo,
		taxPolicy: taxPolicy,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *Manager) sessionLock(id uuid.UUID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Create validates the cart and opens a new session in the incomplete
// state.
func (m *Manager) Create(ctx context.Context, lineItems []domain.LineItem, buyerEmail, currency string) (*domain.CheckoutSession, error) {
	if len(lineItems) == 0 {
		return nil, apierr.New(apierr.InvalidInput, "cart must contain at least one line item")
	}
	if len(currency) != 3 {
		return nil, apierr.New(apierr.InvalidInput, "currency must be a 3-letter code")
	}
	if buyerEmail == "" || !looksLikeEmail(buyerEmail) {
		return nil, apierr.New(apierr.InvalidInput, "buyer_email must be well-formed")
	}

	var subtotal float64
	for _, li := range lineItems {
		if li.SKU == "" {
			return nil, apierr.New(apierr.InvalidInput, "line item sku must not be empty")
		}
		if li.Quantity <= 0 {
			return nil, apierr.New(apierr.InvalidInput, "line item quantity must be positive")
		}
		if li.UnitPrice < 0 {
			return nil, apierr.New(apierr.InvalidInput, "line item unit_price must be non-negative")
		}
		subtotal += li.UnitPrice * float64(li.Quantity)
	}
	subtotal = mandate.RoundMoney(subtotal)
	tax := mandate.RoundMoney(m.taxPolicy(subtotal, currency))
	total := mandate.RoundMoney(subtotal + tax)

	now := time.Now().UTC()
	session := &domain.CheckoutSession{
		ID:         uuid.New(),
		LineItems:  lineItems,
		BuyerEmail: buyerEmail,
		Currency:   currency,
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      total,
		Status:     domain.StatusIncomplete,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to create session", err)
	}
	return session, nil
}

// Get returns the current snapshot of a session, expiring it first if its
// inactivity window has elapsed.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, id)
	if err != nil {
		if err == store.ErrSessionNotFound {
			return nil, apierr.New(apierr.NotFound, "checkout session not found")
		}
		return nil, apierr.Wrap(apierr.Internal, "failed to load session", err)
	}
	m.expireIfStale(ctx, session)
	return session, nil
}

func (m *Manager) expireIfStale(ctx context.Context, session *domain.CheckoutSession) {
	if session.Status != domain.StatusReadyForComplete && session.Status != domain.StatusRequiresEscalation {
		return
	}
	if time.Since(session.UpdatedAt) < domain.SessionInactivityTTL {
		return
	}
	session.Status = domain.StatusFailed
	session.UpdatedAt = time.Now().UTC()
	if err := m.repo.CompareAndSwapSession(ctx, session); err != nil && err != store.ErrSessionVersionConflict {
		log.Printf("level=warn component=checkout msg=\"failed to persist session expiry\" session_id=%s err=%v", session.ID, err)
	}
}

// Update attaches a mandate + user authorization blob to a session,
// transitioning it to ready_for_complete on success.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, mnd *mandate.Mandate) (*domain.CheckoutSession, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, id)
	if err != nil {
		if err == store.ErrSessionNotFound {
			return nil, apierr.New(apierr.NotFound, "checkout session not found")
		}
		return nil, apierr.Wrap(apierr.Internal, "failed to load session", err)
	}
	m.expireIfStale(ctx, session)

	if session.Status != domain.StatusIncomplete &&
		session.Status != domain.StatusReadyForComplete &&
		session.Status != domain.StatusRequiresEscalation {
		return nil, apierr.New(apierr.InvalidState, "session is not in a state that accepts Update")
	}

	// Idempotency: a byte-identical mandate re-attach is a no-op.
	if session.Mandate != nil && sameMandateID(session.Mandate, mnd) {
		if mandatesEqual(session.Mandate, mnd) {
			return session, nil
		}
		return nil, apierr.New(apierr.MandateReuse, "mandate id already attached with different contents")
	}

	// Per-mandate uniqueness: a mandate id may be attached to at most one
	// session anywhere in the system.
	if other, err := m.repo.FindSessionByMandateID(ctx, mnd.Contents.PaymentMandateID); err == nil && other != nil && other.ID != session.ID {
		return nil, apierr.New(apierr.MandateReuse, "mandate id already attached to a different session")
	}

	if diff := mandate.RoundMoney(mnd.Contents.PaymentDetailsTotal.Value) - session.Total; diff > 1e-6 || diff < -1e-6 {
		return nil, apierr.New(apierr.MandateSessionMismatch, "mandate total does not match session total")
	}
	if mnd.Contents.PaymentDetailsTotal.Currency != session.Currency {
		return nil, apierr.New(apierr.MandateSessionMismatch, "mandate currency does not match session currency")
	}
	if mnd.Contents.PaymentResponse.PayerEmail != session.BuyerEmail {
		return nil, apierr.New(apierr.MandateSessionMismatch, "mandate payer_email does not match session buyer_email")
	}

	session.Mandate = mnd
	session.Status = domain.StatusReadyForComplete
	session.ActiveChallengeID = nil // a new mandate resets any existing challenge
	session.UpdatedAt = time.Now().UTC()

	if err := m.repo.CompareAndSwapSession(ctx, session); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to persist session update", err)
	}
	return session, nil
}

func sameMandateID(existing *mandate.Mandate, incoming *mandate.Mandate) bool {
	return existing.Contents.PaymentMandateID == incoming.Contents.PaymentMandateID
}

func mandatesEqual(a, b *mandate.Mandate) bool {
	return string(mandate.Canonicalize(a.Contents)) == string(mandate.Canonicalize(b.Contents)) &&
		a.UserAuthorization == b.UserAuthorization
}

// TransitionResult carries a session as it stood after a transition.
// Manager has no Complete method and no Manager method returns this type;
// Complete-time evaluation runs through WithLock.
type TransitionResult struct {
	Session *domain.CheckoutSession
}

// WithLock runs fn while holding the per-session lock for id, after loading
// and lazily expiring the session. This is the hook point the AP2 merchant
// agent uses to perform its own Complete-time evaluation atomically with the
// session's state transition.
func (m *Manager) WithLock(ctx context.Context, id uuid.UUID, fn func(session *domain.CheckoutSession) error) (*domain.CheckoutSession, error) {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.repo.GetSession(ctx, id)
	if err != nil {
		if err == store.ErrSessionNotFound {
			return nil, apierr.New(apierr.NotFound, "checkout session not found")
		}
		return nil, apierr.Wrap(apierr.Internal, "failed to load session", err)
	}
	m.expireIfStale(ctx, session)

	if err := fn(session); err != nil {
		return session, err
	}

	session.UpdatedAt = time.Now().UTC()
	if err := m.repo.CompareAndSwapSession(ctx, session); err != nil {
		return session, apierr.Wrap(apierr.Internal, "failed to persist session transition", err)
	}
	return session, nil
}

// SweepExpired transitions any ready_for_complete/requires_escalation
// session whose inactivity window has elapsed to failed. Intended to be run
// on a schedule by internal/sweep.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	sessions, err := m.repo.ListExpiredSessions(ctx, time.Now().UTC().Add(-domain.SessionInactivityTTL))
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range sessions {
		s := sessions[i]
		lock := m.sessionLock(s.ID)
		lock.Lock()
		fresh, err := m.repo.GetSession(ctx, s.ID)
		if err == nil && (fresh.Status == domain.StatusReadyForComplete || fresh.Status == domain.StatusRequiresEscalation) {
			fresh.Status = domain.StatusFailed
			fresh.UpdatedAt = time.Now().UTC()
			if err := m.repo.CompareAndSwapSession(ctx, fresh); err == nil {
				count++
			}
		}
		lock.Unlock()
	}
	return count, nil
}

func looksLikeEmail(s string) bool {
	at := -1
	for i, r := range s {
		if r == '@' {
			if at != -1 {
				return false
			}
			at = i
		}
	}
	return at > 0 && at < len(s)-1
}
