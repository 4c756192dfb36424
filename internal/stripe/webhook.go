package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureHeader carries the webhook signature on inbound requests.
const SignatureHeader = "Stripe-Signature"

// EventCheckoutSessionCompleted is the only event type the credit flow
// acts on.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	ErrMissingWebhookSecret = fmt.Errorf("webhook signing secret is required")
	ErrInvalidSignature     = fmt.Errorf("invalid webhook signature")
	ErrInvalidPayload       = fmt.Errorf("invalid webhook payload")
	ErrNotCheckoutSession   = fmt.Errorf("event does not carry a checkout session")
)

// Verifier authenticates webhook payloads against the signing secret.
// Verification runs over the untouched raw bytes; Stripe signs the exact
// payload it sends, not any re-serialization of it.
type Verifier struct {
	secret string
}

// NewVerifier wires a Verifier.
func NewVerifier(secret string) (*Verifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &Verifier{secret: trimmed}, nil
}

// Verify checks the v1 HMAC-SHA256 signatures in the header against the
// raw payload.
func (verifier *Verifier) Verify(payload []byte, signatureHeader string) error {
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return ErrInvalidSignature
	}
	signedPayload := fmt.Sprintf("%s.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(verifier.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

// Event is the typed envelope parsed at the webhook boundary. Callers
// switch on Type; the object payload stays raw until the matching accessor
// decodes it.
type Event struct {
	ID      string
	Type    string
	Created int64
	object  json.RawMessage
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a verified payload into an Event.
func ParseEvent(payload []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.Type) == "" {
		return Event{}, ErrInvalidPayload
	}
	return Event{
		ID:      envelope.ID,
		Type:    envelope.Type,
		Created: envelope.Created,
		object:  envelope.Data.Object,
	}, nil
}

// CheckoutSession decodes the event object for checkout session events.
func (event Event) CheckoutSession() (CheckoutSession, error) {
	if !strings.HasPrefix(event.Type, "checkout.session.") {
		return CheckoutSession{}, ErrNotCheckoutSession
	}
	var session CheckoutSession
	if err := json.Unmarshal(event.object, &session); err != nil {
		return CheckoutSession{}, ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return CheckoutSession{}, ErrInvalidPayload
	}
	return session, nil
}
