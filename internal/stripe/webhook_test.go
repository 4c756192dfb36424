package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAcceptsValidSignature(test *testing.T) {
	test.Parallel()
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	verifier, err := NewVerifier(secret)
	if err != nil {
		test.Fatalf("new verifier: %v", err)
	}
	header := buildSignatureHeader(secret, payload, time.Now().Unix())
	if err := verifier.Verify(payload, header); err != nil {
		test.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsBadSignatures(test *testing.T) {
	test.Parallel()
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	verifier, err := NewVerifier("whsec_test")
	if err != nil {
		test.Fatalf("new verifier: %v", err)
	}
	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong secret", header: buildSignatureHeader("whsec_other", payload, time.Now().Unix())},
		{name: "garbage header", header: "t=,v1="},
		{name: "no v1 signature", header: "t=12345"},
	}
	for _, testCase := range cases {
		test.Run(testCase.name, func(test *testing.T) {
			if err := verifier.Verify(payload, testCase.header); !errors.Is(err, ErrInvalidSignature) {
				test.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifyCoversRawBytesNotReserialization(test *testing.T) {
	test.Parallel()
	secret := "whsec_test"
	// Key order and whitespace differ from what encoding/json would emit.
	payload := []byte("{\n  \"type\": \"checkout.session.completed\",  \"id\": \"evt_1\"\n}")
	verifier, _ := NewVerifier(secret)
	header := buildSignatureHeader(secret, payload, time.Now().Unix())
	if err := verifier.Verify(payload, header); err != nil {
		test.Fatalf("raw payload should verify, got %v", err)
	}
	if err := verifier.Verify([]byte(`{"type":"checkout.session.completed","id":"evt_1"}`), header); err == nil {
		test.Fatalf("reformatted payload must not verify")
	}
}

func TestNewVerifierRequiresSecret(test *testing.T) {
	test.Parallel()
	if _, err := NewVerifier("  "); !errors.Is(err, ErrMissingWebhookSecret) {
		test.Fatalf("expected ErrMissingWebhookSecret, got %v", err)
	}
}

func TestParseEventDecodesCheckoutSession(test *testing.T) {
	test.Parallel()
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_1",
			"payment_status": "paid",
			"amount_total": 200,
			"currency": "usd",
			"metadata": {"userId": "u1", "credits": "10", "bundleName": "Popular Pack"}
		}}
	}`)
	event, err := ParseEvent(payload)
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if event.Type != EventCheckoutSessionCompleted || event.ID != "evt_1" {
		test.Fatalf("unexpected event: %+v", event)
	}
	session, err := event.CheckoutSession()
	if err != nil {
		test.Fatalf("checkout session: %v", err)
	}
	if session.ID != "cs_1" || !session.Paid() || session.AmountTotal != 200 {
		test.Fatalf("unexpected session: %+v", session)
	}
	if session.Metadata["userId"] != "u1" || session.Metadata["credits"] != "10" {
		test.Fatalf("unexpected metadata: %+v", session.Metadata)
	}
}

func TestParseEventRejectsMalformedPayloads(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"not json", `{"data":{}}`} {
		if _, err := ParseEvent([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			test.Fatalf("expected ErrInvalidPayload for %q, got %v", raw, err)
		}
	}
}

func TestCheckoutSessionAccessorGuardsEventType(test *testing.T) {
	test.Parallel()
	event, err := ParseEvent([]byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`))
	if err != nil {
		test.Fatalf("parse event: %v", err)
	}
	if _, err := event.CheckoutSession(); !errors.Is(err, ErrNotCheckoutSession) {
		test.Fatalf("expected ErrNotCheckoutSession, got %v", err)
	}
}
