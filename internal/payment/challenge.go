// Package payment drives the OTP-gated card payment flow. The challenge
// lifecycle is an explicit owned value with pure transition methods; the
// Machine orchestrator performs the initiate/confirm calls and persists the
// resulting state. Local expiry is authoritative: once the countdown hits
// zero no new confirm is issued, whatever a pending call later returns.
package payment

import (
	"errors"
	"time"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
)

// State is the challenge's lifecycle position.
type State string

const (
	StateNone       State = "NONE"
	StateChallenged State = "CHALLENGED"
	StateConfirming State = "CONFIRMING"
	StateCaptured   State = "CAPTURED"
	StateExpired    State = "EXPIRED"
)

var (
	// ErrNoChallenge is returned when confirm is attempted before initiate.
	ErrNoChallenge = errors.New("payment: no active challenge")
	// ErrChallengeExpired blocks a confirm once the challenge window has
	// lapsed, locally or by server verdict. Recovery is a full restart.
	ErrChallengeExpired = errors.New("payment: challenge expired")
	// ErrConfirmInFlight enforces one confirm at a time per challenge.
	ErrConfirmInFlight = errors.New("payment: confirm already in flight")
	// ErrAlreadyCaptured rejects operations on a finished payment.
	ErrAlreadyCaptured = errors.New("payment: payment already captured")
)

// ChallengeSession is one payment attempt. It is created by a successful
// initiate and destroyed on capture, explicit restart, or abandonment (TTL).
type ChallengeSession struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	PaymentID string    `json:"paymentId,omitempty"`
	OTPRefID  string    `json:"otpRefId,omitempty"`
	OTPSentTo string    `json:"otpSentTo,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// AttemptsUsed counts wrong-code confirms against the current challenge.
	// It resets on restart, never on retry.
	AttemptsUsed int `json:"attemptsUsed"`

	// Captured holds the payment record once State is StateCaptured.
	Captured *clinicapi.Payment `json:"captured,omitempty"`

	// LateCapture records a confirm response that arrived after local expiry.
	// The machine stays expired; the record is kept for reconciliation only.
	LateCapture *clinicapi.Payment `json:"lateCapture,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewChallengeSession opens a payment attempt with no challenge yet.
func NewChallengeSession(id string, now time.Time) *ChallengeSession {
	return &ChallengeSession{
		ID:        id,
		State:     StateNone,
		CreatedAt: now,
	}
}

// Remaining is the time left on the challenge window, floored at zero.
func (c *ChallengeSession) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LocallyExpired reports whether the challenge window has lapsed by the
// caller's clock. It is meaningful only while a challenge exists.
func (c *ChallengeSession) LocallyExpired(now time.Time) bool {
	return c.State != StateNone && c.Remaining(now) == 0
}

// challenge installs a fresh challenge from an initiate response, fully
// invalidating any prior one for this attempt. Valid from StateNone (first
// initiate), StateChallenged (resend) and StateExpired (restart); it resets
// the attempt counter and drops any stale capture bookkeeping.
func (c *ChallengeSession) challenge(ch *clinicapi.PaymentChallenge) error {
	switch c.State {
	case StateNone, StateChallenged, StateExpired:
	case StateCaptured:
		return ErrAlreadyCaptured
	default:
		return ErrConfirmInFlight
	}
	c.State = StateChallenged
	c.PaymentID = ch.PaymentID
	c.OTPRefID = ch.OTPRefID
	c.OTPSentTo = ch.OTPSentTo
	c.ExpiresAt = ch.ExpiresAt
	c.AttemptsUsed = 0
	c.LateCapture = nil
	return nil
}

// beginConfirm enters StateConfirming. The local clock is checked first: a
// lapsed window transitions to StateExpired without permitting the call.
func (c *ChallengeSession) beginConfirm(now time.Time) error {
	switch c.State {
	case StateChallenged:
	case StateNone:
		return ErrNoChallenge
	case StateConfirming:
		return ErrConfirmInFlight
	case StateCaptured:
		return ErrAlreadyCaptured
	case StateExpired:
		return ErrChallengeExpired
	}
	if c.Remaining(now) == 0 {
		c.State = StateExpired
		return ErrChallengeExpired
	}
	c.State = StateConfirming
	return nil
}

// completeConfirm records a successful capture. A success that lands after
// the window lapsed locally is not honored: the payment record is kept as
// LateCapture and the machine settles on StateExpired, leaving the server
// record as the final word for reconciliation.
func (c *ChallengeSession) completeConfirm(p *clinicapi.Payment, now time.Time) {
	if c.Remaining(now) == 0 {
		c.State = StateExpired
		c.LateCapture = p
		return
	}
	c.State = StateCaptured
	c.Captured = p
}

// failConfirmInvalidCode returns to StateChallenged with the attempt counted.
// The challenge and its expiry are unchanged; the same otpRefId stays valid.
func (c *ChallengeSession) failConfirmInvalidCode() {
	c.State = StateChallenged
	c.AttemptsUsed++
}

// failConfirmExpired settles on StateExpired: the server declared the
// challenge dead (expired or unknown ids), so only a restart recovers.
func (c *ChallengeSession) failConfirmExpired() {
	c.State = StateExpired
}

// failConfirmOther returns to StateChallenged without counting an attempt;
// transient failures retry the same call unchanged.
func (c *ChallengeSession) failConfirmOther(now time.Time) {
	if c.Remaining(now) == 0 {
		c.State = StateExpired
		return
	}
	c.State = StateChallenged
}
