package clinicapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// paymentEnvelope matches the backend's wrapped payment responses.
type paymentEnvelope struct {
	Payment Payment `json:"payment"`
}

// confirmPaymentRequest is the confirm endpoint body.
type confirmPaymentRequest struct {
	OTPRefID string `json:"otpRefId"`
	OTPCode  string `json:"otpCode"`
}

// InitiateCardPayment starts a card charge. On success the backend has sent
// a one-time passcode to the patient out of band and the returned challenge
// must be confirmed before it expires. Re-invoking initiate issues a new
// challenge and invalidates any prior one for the same attempt.
func (c *Client) InitiateCardPayment(ctx context.Context, req InitiatePaymentRequest) (*PaymentChallenge, error) {
	if fields := validateInitiate(req); len(fields) > 0 {
		return nil, &Error{Kind: KindValidation, Message: "invalid payment request", Fields: fields}
	}

	header := http.Header{}
	header.Set("X-Idempotency-Key", uuid.NewString())

	var challenge PaymentChallenge
	if err := c.do(ctx, http.MethodPost, "/payments/card/initiate", nil, req, &challenge, header); err != nil {
		return nil, fmt.Errorf("initiate card payment: %w", err)
	}
	return &challenge, nil
}

// ConfirmCardPayment submits an OTP code against a pending challenge.
// Failure kinds: KindExpired (challenge lapsed server-side), KindInvalidCode
// (wrong code, retryable until expiry), KindNotFound (stale payment or
// challenge reference, restart required).
func (c *Client) ConfirmCardPayment(ctx context.Context, paymentID, otpRefID, otpCode string) (*Payment, error) {
	if paymentID == "" || otpRefID == "" {
		return nil, &Error{Kind: KindNotFound, Message: "missing payment or challenge reference"}
	}
	if strings.TrimSpace(otpCode) == "" {
		return nil, &Error{Kind: KindValidation, Message: "otp code is required", Fields: map[string]string{"otpCode": "required"}}
	}

	body := confirmPaymentRequest{OTPRefID: otpRefID, OTPCode: strings.TrimSpace(otpCode)}
	var env paymentEnvelope
	if err := c.do(ctx, http.MethodPost, "/payments/card/"+url.PathEscape(paymentID)+"/confirm", nil, body, &env, nil); err != nil {
		return nil, fmt.Errorf("confirm card payment %s: %w", paymentID, err)
	}
	return &env.Payment, nil
}

// GetPayment fetches one payment record by identifier.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, nil, &payment, nil); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return &payment, nil
}

// ListMyPayments returns the caller's payment history.
func (c *Client) ListMyPayments(ctx context.Context, page, limit int) (*PaymentPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out PaymentPage
	if err := c.do(ctx, http.MethodGet, "/payments/me", q, nil, &out, nil); err != nil {
		return nil, fmt.Errorf("list my payments: %w", err)
	}
	return &out, nil
}

// validateInitiate performs the client-side field checks the backend would
// reject anyway, so obviously malformed cards never leave the process.
func validateInitiate(req InitiatePaymentRequest) map[string]string {
	fields := map[string]string{}
	if req.Currency == "" {
		fields["currency"] = "required"
	}
	if req.Breakdown.Total() <= 0 {
		fields["breakdown"] = "total must be positive"
	}
	if req.Breakdown.ConsultationFee < 0 || req.Breakdown.LabTests < 0 ||
		req.Breakdown.Prescription < 0 || req.Breakdown.ProcessingFee < 0 || req.Breakdown.Other < 0 {
		fields["breakdown"] = "line items must be non-negative"
	}
	digits := strings.ReplaceAll(req.Card.Number, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		fields["card.number"] = "invalid length"
	}
	if req.Card.ExpMonth < 1 || req.Card.ExpMonth > 12 {
		fields["card.expMonth"] = "invalid month"
	}
	if req.Card.ExpYear < 2000 {
		fields["card.expYear"] = "invalid year"
	}
	if len(req.Card.CVV) < 3 || len(req.Card.CVV) > 4 {
		fields["card.cvv"] = "invalid length"
	}
	if strings.TrimSpace(req.Card.HolderName) == "" {
		fields["card.holderName"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
