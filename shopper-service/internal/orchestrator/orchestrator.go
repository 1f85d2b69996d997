/**
 * @description
 * This package is the shopper's Checkout Orchestrator: it drives a purchase
 * through the merchant's UCP checkout-session lifecycle on the shopper's
 * behalf — opening a session, assembling and attaching a signed AP2
 * mandate, and completing it (including an optional OTP step-up round) —
 * while keeping a local, idempotency-enforcing record of the attempt.
 * Grounded on `original_source/chat-backend/ap2_client.py`'s
 * create_checkout_session/update_checkout_with_mandate/complete_checkout
 * call sequence, with the at-most-one-in-flight-mandate bookkeeping layered
 * on top per the store's CheckoutAttempt aggregate.
 *
 * @dependencies
 * - internal/ucpclient, internal/mandate, internal/store, internal/domain.
 * - internal/idempotency: Optional Redis-backed short-circuit ahead of the
 *   durable store lookup.
 * - pkg/rabbitmq: Optional event emission on attempt status transitions.
 */

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/shopper-service/internal/domain"
	"github.com/ucp-demo/shopper-service/internal/idempotency"
	"github.com/ucp-demo/shopper-service/internal/mandate"
	"github.com/ucp-demo/shopper-service/internal/store"
	"github.com/ucp-demo/shopper-service/internal/ucpclient"
	"github.com/ucp-demo/shopper-service/pkg/rabbitmq"
)

const checkoutEventsExchange = "shopper_events"

// ConsumerAgent is the narrow surface the orchestrator needs from
// ap2consumer.Agent.
type ConsumerAgent interface {
	BuildAndSign(ctx context.Context, payerEmail, payerName string, total float64, currency string, instr *domain.PaymentInstrument, paymentDetailsID string) (*mandate.Mandate, error)
}

// InstrumentSource resolves the shopper's default payment instrument.
type InstrumentSource interface {
	DefaultInstrument(ctx context.Context, email string) (*domain.PaymentInstrument, error)
}

// MerchantClient is the subset of ucpclient.Client the orchestrator needs,
// kept as an interface so tests can fake the merchant's HTTP surface.
type MerchantClient interface {
	CreateSession(ctx context.Context, lineItems []ucpclient.LineItem, buyerEmail, currency string) (*ucpclient.Session, error)
	GetSession(ctx context.Context, sessionID string) (*ucpclient.Session, error)
	AttachMandate(ctx context.Context, sessionID string, mnd *mandate.Mandate) (*ucpclient.Session, error)
	Complete(ctx context.Context, sessionID, otpCode string) (*ucpclient.Session, error)
}

// Orchestrator drives the shopper side of a checkout end to end.
type Orchestrator struct {
	repo        store.Repository
	merchant    MerchantClient
	consumer    ConsumerAgent
	instruments InstrumentSource
	idempotency *idempotency.Cache
	events      rabbitmq.Publisher
}

// NewOrchestrator constructs an Orchestrator. idem and events may be nil
// (or a *idempotency.Cache/*rabbitmq.FallbackProducer backed by a nil
// client), in which case the orchestrator falls back to the durable store
// lookup and skips event emission respectively.
func NewOrchestrator(repo store.Repository, merchant MerchantClient, consumer ConsumerAgent, instruments InstrumentSource, idem *idempotency.Cache, events rabbitmq.Publisher) *Orchestrator {
	if events == nil {
		events = &rabbitmq.FallbackProducer{}
	}
	return &Orchestrator{repo: repo, merchant: merchant, consumer: consumer, instruments: instruments, idempotency: idem, events: events}
}

// attemptEvent is the wire shape published for checkout attempt status
// transitions, standing in for the teacher's transfer-status event style.
type attemptEvent struct {
	SessionID string `json:"merchant_session_id"`
	UserEmail string `json:"user_email"`
	Status    string `json:"status"`
}

func (o *Orchestrator) emit(ctx context.Context, a *domain.CheckoutAttempt) {
	if err := o.events.Publish(ctx, checkoutEventsExchange, "checkout.attempt."+a.Status, attemptEvent{
		SessionID: a.MerchantSessionID,
		UserEmail: a.UserEmail,
		Status:    a.Status,
	}); err != nil {
		log.Printf("level=warn component=orchestrator msg=\"event publish failed\" session_id=%s err=%v", a.MerchantSessionID, err)
	}
}

// Prepare opens a merchant checkout session for the given cart and records
// a fresh in-flight CheckoutAttempt.
func (o *Orchestrator) Prepare(ctx context.Context, payerEmail string, items []domain.CartItem, currency string) (*ucpclient.Session, error) {
	lineItems := make([]ucpclient.LineItem, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, ucpclient.LineItem{SKU: item.SKU, Name: item.Name, Price: item.Price, Quantity: item.Quantity})
	}

	session, err := o.merchant.CreateSession(ctx, lineItems, payerEmail, currency)
	if err != nil {
		return nil, fmt.Errorf("create merchant session: %w", err)
	}

	now := time.Now().UTC()
	attempt := &domain.CheckoutAttempt{
		ID:                uuid.NewString(),
		UserEmail:         payerEmail,
		MerchantSessionID: session.ID,
		Status:            domain.AttemptStatusPrepared,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.repo.CreateCheckoutAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record checkout attempt: %w", err)
	}
	o.emit(ctx, attempt)
	return session, nil
}

// Confirm assembles and signs a payment mandate for the prepared session's
// total and attaches it to the merchant session. It is idempotent: calling
// Confirm again on an attempt that already carries a mandate returns the
// current merchant session state rather than re-signing and resubmitting a
// second mandate, since the merchant independently enforces one mandate per
// session.
func (o *Orchestrator) Confirm(ctx context.Context, sessionID, payerEmail, payerName string) (*ucpclient.Session, error) {
	attempt, err := o.repo.GetCheckoutAttemptBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkout attempt: %w", err)
	}

	if attempt.MandateID != "" {
		return o.merchant.GetSession(ctx, sessionID)
	}

	firstClaim, err := o.idempotency.MarkSeen(ctx, "confirm:"+sessionID)
	if err != nil {
		log.Printf("level=warn component=orchestrator msg=\"idempotency check failed; proceeding\" session_id=%s err=%v", sessionID, err)
	} else if !firstClaim {
		return o.merchant.GetSession(ctx, sessionID)
	}

	session, err := o.merchant.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch merchant session: %w", err)
	}

	instr, err := o.instruments.DefaultInstrument(ctx, payerEmail)
	if err != nil {
		return nil, fmt.Errorf("load default instrument: %w", err)
	}

	mnd, err := o.consumer.BuildAndSign(ctx, payerEmail, payerName, session.Totals.Total, session.Totals.Currency, instr, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build mandate: %w", err)
	}

	updated, err := o.merchant.AttachMandate(ctx, sessionID, mnd)
	if err != nil {
		return nil, fmt.Errorf("attach mandate: %w", err)
	}

	attempt.MandateID = mnd.Contents.PaymentMandateID
	attempt.Status = domain.AttemptStatusConfirmed
	attempt.UpdatedAt = time.Now().UTC()
	if err := o.repo.UpdateCheckoutAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("update checkout attempt: %w", err)
	}
	o.emit(ctx, attempt)

	return updated, nil
}

// SubmitOTP completes a session, optionally carrying an OTP code for a
// step-up challenge. If the attempt is already marked complete it returns
// the current merchant session state without re-invoking the merchant's
// complete endpoint, making repeated completion calls idempotent.
func (o *Orchestrator) SubmitOTP(ctx context.Context, sessionID, otpCode string) (*ucpclient.Session, error) {
	attempt, err := o.repo.GetCheckoutAttemptBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkout attempt: %w", err)
	}
	if attempt.Status == domain.AttemptStatusComplete {
		return o.merchant.GetSession(ctx, sessionID)
	}

	if otpCode != "" {
		firstClaim, err := o.idempotency.MarkSeen(ctx, "otp:"+sessionID+":"+otpCode)
		if err != nil {
			log.Printf("level=warn component=orchestrator msg=\"idempotency check failed; proceeding\" session_id=%s err=%v", sessionID, err)
		} else if !firstClaim {
			return o.merchant.GetSession(ctx, sessionID)
		}
	}

	session, err := o.merchant.Complete(ctx, sessionID, otpCode)
	if err != nil {
		return nil, fmt.Errorf("complete checkout: %w", err)
	}

	switch session.Status {
	case "complete":
		attempt.Status = domain.AttemptStatusComplete
	case "requires_escalation":
		attempt.Status = domain.AttemptStatusRequiresOTP
	case "failed":
		attempt.Status = domain.AttemptStatusFailed
	}
	if receiptJSON, err := json.Marshal(session.Receipt); err == nil {
		attempt.ReceiptJSON = string(receiptJSON)
	}
	attempt.UpdatedAt = time.Now().UTC()
	if err := o.repo.UpdateCheckoutAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("update checkout attempt: %w", err)
	}
	o.emit(ctx, attempt)

	return session, nil
}
