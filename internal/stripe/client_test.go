package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateCheckoutSessionSendsFormEncodedRequest(test *testing.T) {
	test.Parallel()
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != "/v1/checkout/sessions" {
			test.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
		}
		if auth := request.Header.Get("Authorization"); auth != "Bearer sk_test_key" {
			test.Errorf("unexpected auth header: %q", auth)
		}
		if err := request.ParseForm(); err != nil {
			test.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for key := range request.PostForm {
			gotForm[key] = request.PostForm.Get(key)
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{"id": "cs_new", "url": "https://checkout.stripe.com/pay/cs_new"})
	}))
	defer server.Close()

	client, err := NewClient("sk_test_key", WithBaseURL(server.URL))
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	session, err := client.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		PriceID:       "price_1",
		SuccessURL:    "https://app.example.com/credits?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://app.example.com/credits?canceled=true",
		CustomerEmail: "kai@example.com",
		Metadata:      map[string]string{"userId": "u1", "credits": "10"},
	})
	if err != nil {
		test.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_new" {
		test.Fatalf("unexpected session id: %q", session.ID)
	}
	expectations := map[string]string{
		"mode":                    "payment",
		"payment_method_types[]":  "card",
		"line_items[0][price]":    "price_1",
		"line_items[0][quantity]": "1",
		"customer_email":          "kai@example.com",
		"metadata[userId]":        "u1",
		"metadata[credits]":       "10",
	}
	for key, expected := range expectations {
		if gotForm[key] != expected {
			test.Fatalf("form field %q: expected %q, got %q", key, expected, gotForm[key])
		}
	}
}

func TestRetrieveCheckoutSessionReadsPaymentStatus(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/checkout/sessions/cs_paid" {
			test.Errorf("unexpected path: %s", request.URL.Path)
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{"id": "cs_paid", "payment_status": "paid", "amount_total": 200, "currency": "usd"})
	}))
	defer server.Close()

	client, err := NewClient("sk_test_key", WithBaseURL(server.URL))
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	session, err := client.RetrieveCheckoutSession(context.Background(), "cs_paid")
	if err != nil {
		test.Fatalf("retrieve: %v", err)
	}
	if !session.Paid() {
		test.Fatalf("expected paid session, got %+v", session)
	}
}

func TestClientSurfacesStripeErrorEnvelope(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(writer).Encode(map[string]any{"error": map[string]any{"message": "No such checkout session"}})
	}))
	defer server.Close()

	client, err := NewClient("sk_test_key", WithBaseURL(server.URL))
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	_, err = client.RetrieveCheckoutSession(context.Background(), "cs_missing")
	if !errors.Is(err, ErrRequestFailed) {
		test.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestNewClientRequiresAPIKey(test *testing.T) {
	test.Parallel()
	if _, err := NewClient(" "); !errors.Is(err, ErrMissingAPIKey) {
		test.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
