// Package stripe implements the narrow slice of the Stripe API this
// service needs: hosted checkout sessions on the way out and signed
// webhook events on the way in.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com"

var (
	ErrMissingAPIKey  = errors.New("stripe api key is required")
	ErrRequestFailed  = errors.New("stripe request failed")
	ErrInvalidSession = errors.New("stripe session response invalid")
)

// CheckoutSession is the subset of Stripe's checkout session object the
// credit flow reads.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether the session has been paid for.
func (session CheckoutSession) Paid() bool {
	return session.PaymentStatus == "paid"
}

// CheckoutSessionParams describes one hosted checkout session to create.
type CheckoutSessionParams struct {
	PriceID       string
	Quantity      int64
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host. Tests use this
// with httptest servers.
func WithBaseURL(baseURL string) ClientOption {
	return func(client *Client) {
		client.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// Client talks to the Stripe REST API with form-encoded requests and a
// bearer secret key.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient wires a Client.
func NewClient(apiKey string, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 12 * time.Second},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// CreateCheckoutSession requests a hosted checkout session. No local state
// is touched; credits are only granted once the completed webhook lands.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (CheckoutSession, error) {
	quantity := params.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("payment_method_types[]", "card")
	values.Set("line_items[0][price]", params.PriceID)
	values.Set("line_items[0][quantity]", strconv.FormatInt(quantity, 10))
	values.Set("success_url", params.SuccessURL)
	values.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		values.Set("customer_email", params.CustomerEmail)
	}
	for _, key := range sortedKeys(params.Metadata) {
		values.Set(fmt.Sprintf("metadata[%s]", key), params.Metadata[key])
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/checkout/sessions", values)
}

// RetrieveCheckoutSession fetches the current state of a session.
func (c *Client) RetrieveCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method string, path string, values url.Values) (CheckoutSession, error) {
	body := ""
	if values != nil {
		body = values.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return CheckoutSession{}, err
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return CheckoutSession{}, err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		var envelope errorEnvelope
		if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
			return CheckoutSession{}, ErrRequestFailed
		}
		message := strings.TrimSpace(envelope.Error.Message)
		if message == "" {
			return CheckoutSession{}, ErrRequestFailed
		}
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrRequestFailed, message)
	}

	var session CheckoutSession
	if err := json.NewDecoder(response.Body).Decode(&session); err != nil {
		return CheckoutSession{}, err
	}
	if session.ID == "" {
		return CheckoutSession{}, ErrInvalidSession
	}
	return session, nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
