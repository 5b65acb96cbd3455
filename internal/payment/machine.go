package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/observability/metrics"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

var paymentTracer = otel.Tracer("patientflow.internal.payment")

// PaymentAPI is the slice of the clinical backend the payment flow uses.
type PaymentAPI interface {
	InitiateCardPayment(ctx context.Context, req clinicapi.InitiatePaymentRequest) (*clinicapi.PaymentChallenge, error)
	ConfirmCardPayment(ctx context.Context, paymentID, otpRefID, otpCode string) (*clinicapi.Payment, error)
	GetPayment(ctx context.Context, id string) (*clinicapi.Payment, error)
	ListMyPayments(ctx context.Context, page, limit int) (*clinicapi.PaymentPage, error)
}

// Machine orchestrates challenge sessions: pure transitions on the session
// value, backend calls between them, state persisted after every step. The
// clock is injected so expiry behavior is testable.
type Machine struct {
	api     PaymentAPI
	store   *Store
	clock   func() time.Time
	logger  *logging.Logger
	metrics *metrics.FlowMetrics
}

// NewMachine constructs the payment flow orchestrator.
func NewMachine(api PaymentAPI, store *Store, clock func() time.Time, logger *logging.Logger, m *metrics.FlowMetrics) *Machine {
	if api == nil {
		panic("payment: payment api required")
	}
	if store == nil {
		panic("payment: challenge store required")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{
		api:     api,
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// Now is the machine's clock reading; handlers derive remaining time from it.
func (m *Machine) Now() time.Time {
	return m.clock()
}

// Initiate starts a payment attempt: the charge is initiated, the backend
// sends the OTP out of band, and the returned session holds the challenge.
func (m *Machine) Initiate(ctx context.Context, req clinicapi.InitiatePaymentRequest) (*ChallengeSession, error) {
	ctx, span := paymentTracer.Start(ctx, "payment.initiate")
	defer span.End()

	sess := NewChallengeSession(uuid.NewString(), m.clock().UTC())
	ch, err := m.initiateChallenge(ctx, sess, req)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveChallenge(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("payment challenge issued",
		"session_id", sess.ID,
		"payment_id", ch.PaymentID,
		"otp_sent_to", ch.OTPSentTo,
	)
	return sess, nil
}

// Get loads a challenge session, settling local expiry first: a challenge
// whose window lapsed while idle is moved to StateExpired before it is
// returned, so readers never observe a stale CHALLENGED state. The same
// applies to a session stranded in CONFIRMING by a crashed confirm; once its
// window lapses it settles to EXPIRED instead of blocking every operation
// until the store TTL clears it.
func (m *Machine) Get(ctx context.Context, sessionID string) (*ChallengeSession, error) {
	sess, err := m.store.LoadChallenge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case StateChallenged, StateConfirming:
		if sess.LocallyExpired(m.clock()) {
			sess.failConfirmExpired()
			m.metrics.ObserveOTPExpiry()
			if err := m.store.SaveChallenge(ctx, sess); err != nil {
				return nil, err
			}
		}
	}
	return sess, nil
}

// Abandon discards the session. No server-side call is made; nothing durable
// exists until a confirm captures.
func (m *Machine) Abandon(ctx context.Context, sessionID string) error {
	return m.store.DeleteChallenge(ctx, sessionID)
}

// Confirm submits the OTP code. Expiry is checked against the local clock
// before any network call: a lapsed window fails immediately with
// ErrChallengeExpired and nothing is sent. Wrong codes return the session to
// CHALLENGED with the attempt counted; server-declared expiry or unknown ids
// settle on EXPIRED.
func (m *Machine) Confirm(ctx context.Context, sessionID, otpCode string) (*ChallengeSession, error) {
	ctx, span := paymentTracer.Start(ctx, "payment.confirm")
	defer span.End()

	sess, err := m.store.LoadChallenge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.beginConfirm(m.clock()); err != nil {
		if sess.State == StateExpired {
			// Local expiry realized on this attempt; persist it so the
			// session reads EXPIRED from here on.
			m.metrics.ObserveOTPExpiry()
			if saveErr := m.store.SaveChallenge(ctx, sess); saveErr != nil {
				m.logger.Error("challenge save after local expiry", "session_id", sess.ID, "error", saveErr)
			}
		}
		return sess, err
	}
	// Persist the in-flight marker so a concurrent confirm is rejected too.
	if err := m.store.SaveChallenge(ctx, sess); err != nil {
		return nil, err
	}

	started := time.Now()
	p, err := m.api.ConfirmCardPayment(ctx, sess.PaymentID, sess.OTPRefID, otpCode)
	m.metrics.ObserveBackendLatency("confirm_payment", time.Since(started).Seconds())
	switch {
	case err == nil:
		sess.completeConfirm(p, m.clock())
		if sess.State == StateCaptured {
			m.metrics.ObserveOTPConfirm("ok")
			m.logger.Info("payment captured", "session_id", sess.ID, "payment_id", p.PaymentID)
		} else {
			// Success landed after local expiry; recorded, not honored.
			m.metrics.ObserveOTPConfirm("late")
			m.metrics.ObserveOTPExpiry()
			m.logger.Warn("confirm succeeded after local expiry",
				"session_id", sess.ID,
				"payment_id", p.PaymentID,
			)
		}
	case clinicapi.IsInvalidCode(err):
		sess.failConfirmInvalidCode()
		m.metrics.ObserveOTPConfirm("invalid_code")
		m.logger.Warn("otp rejected", "session_id", sess.ID, "attempts_used", sess.AttemptsUsed)
	case clinicapi.IsExpired(err), clinicapi.IsNotFound(err):
		sess.failConfirmExpired()
		m.metrics.ObserveOTPConfirm("expired")
		m.metrics.ObserveOTPExpiry()
		m.logger.Warn("challenge dead on confirm", "session_id", sess.ID)
	default:
		sess.failConfirmOther(m.clock())
		m.metrics.ObserveOTPConfirm("error")
	}
	if saveErr := m.store.SaveChallenge(ctx, sess); saveErr != nil {
		return nil, saveErr
	}
	if err != nil {
		return sess, fmt.Errorf("payment: confirm: %w", err)
	}
	if sess.State == StateExpired {
		return sess, ErrChallengeExpired
	}
	return sess, nil
}

// Restart abandons the current challenge and initiates a brand-new one on
// the same session: fresh paymentId/otpRefId/expiry, attempt counter reset.
// The session state is validated before anything touches the backend; a
// captured or mid-confirm session must not trigger a second charge
// initiation and its OTP send.
func (m *Machine) Restart(ctx context.Context, sessionID string, req clinicapi.InitiatePaymentRequest) (*ChallengeSession, error) {
	ctx, span := paymentTracer.Start(ctx, "payment.restart")
	defer span.End()

	sess, err := m.store.LoadChallenge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case StateCaptured:
		return sess, ErrAlreadyCaptured
	case StateConfirming:
		if !sess.LocallyExpired(m.clock()) {
			return sess, ErrConfirmInFlight
		}
		// The window lapsed mid-confirm; the old challenge is dead and a
		// restart is the recovery path.
		sess.failConfirmExpired()
	}
	if _, err := m.initiateChallenge(ctx, sess, req); err != nil {
		return nil, err
	}
	if err := m.store.SaveChallenge(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("payment challenge restarted", "session_id", sess.ID, "payment_id", sess.PaymentID)
	return sess, nil
}

// Payment fetches a payment record from the backend.
func (m *Machine) Payment(ctx context.Context, paymentID string) (*clinicapi.Payment, error) {
	return m.api.GetPayment(ctx, paymentID)
}

// MyPayments lists the caller's payment history.
func (m *Machine) MyPayments(ctx context.Context, page, limit int) (*clinicapi.PaymentPage, error) {
	return m.api.ListMyPayments(ctx, page, limit)
}

func (m *Machine) initiateChallenge(ctx context.Context, sess *ChallengeSession, req clinicapi.InitiatePaymentRequest) (*clinicapi.PaymentChallenge, error) {
	started := time.Now()
	ch, err := m.api.InitiateCardPayment(ctx, req)
	m.metrics.ObserveBackendLatency("initiate_payment", time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("payment: initiate: %w", err)
	}
	if err := sess.challenge(ch); err != nil {
		return nil, err
	}
	return ch, nil
}
