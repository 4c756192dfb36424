package credits

import (
	"context"
	"fmt"
	"strings"
)

// UserID identifies a credit account owner. The value is assigned by the
// identity provider and treated as opaque here.
type UserID struct {
	value string
}

// SessionID identifies one hosted checkout session at the payment
// processor. It doubles as the deduplication key for webhook deliveries.
type SessionID struct {
	value string
}

// CreditCount is a strictly positive number of credits to grant.
type CreditCount int64

// TransactionStatus describes the state of a recorded credit transaction.
type TransactionStatus string

const (
	// TransactionStatusCompleted marks a grant that has been applied.
	TransactionStatusCompleted TransactionStatus = "completed"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewSessionID validates and normalizes a checkout session id.
func NewSessionID(raw string) (SessionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SessionID{}, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return SessionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SessionID) String() string {
	return id.value
}

// NewCreditCount validates a credit count and ensures it is strictly positive.
func NewCreditCount(raw int64) (CreditCount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return CreditCount(raw), nil
}

// Int64 returns the raw count.
func (count CreditCount) Int64() int64 {
	return int64(count)
}

// Account is the stored credit account for one user.
type Account struct {
	UserID         string
	FullName       string
	Email          string
	Credits        int64
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// TransactionRecord is one immutable line in the credit audit ledger.
type TransactionRecord struct {
	TransactionID  string
	UserID         string
	SessionID      string
	BundleName     string
	CreditsAdded   int64
	AmountCents    int64
	Currency       string
	Status         TransactionStatus
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Grant carries everything needed to credit one completed checkout.
type Grant struct {
	userID      UserID
	sessionID   SessionID
	credits     CreditCount
	bundleName  string
	amountCents int64
	currency    string
	metadata    string
}

// NewGrant validates and assembles a credit grant. The monetary amount may
// be zero (fully discounted checkouts) but never negative.
func NewGrant(userID UserID, sessionID SessionID, credits CreditCount, bundleName string, amountCents int64, currency string, metadataJSON string) (Grant, error) {
	if userID.value == "" {
		return Grant{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if sessionID.value == "" {
		return Grant{}, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	if credits <= 0 {
		return Grant{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	if amountCents < 0 {
		return Grant{}, fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	normalizedMetadata := strings.TrimSpace(metadataJSON)
	if normalizedMetadata == "" {
		normalizedMetadata = defaultMetadataJSON
	}
	return Grant{
		userID:      userID,
		sessionID:   sessionID,
		credits:     credits,
		bundleName:  strings.TrimSpace(bundleName),
		amountCents: amountCents,
		currency:    strings.ToLower(strings.TrimSpace(currency)),
		metadata:    normalizedMetadata,
	}, nil
}

// UserID returns the account owner.
func (grant Grant) UserID() UserID {
	return grant.userID
}

// SessionID returns the originating checkout session.
func (grant Grant) SessionID() SessionID {
	return grant.sessionID
}

// Credits returns the number of credits to add.
func (grant Grant) Credits() CreditCount {
	return grant.credits
}

// BundleName returns the purchased bundle's display name.
func (grant Grant) BundleName() string {
	return grant.bundleName
}

// AmountCents returns the charged amount in the smallest currency unit.
func (grant Grant) AmountCents() int64 {
	return grant.amountCents
}

// Currency returns the lower-cased ISO currency code.
func (grant Grant) Currency() string {
	return grant.currency
}

// MetadataJSON returns the raw session metadata kept for the audit record.
func (grant Grant) MetadataJSON() string {
	return grant.metadata
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic: either every write inside fn commits or none do, and
// GetAccountForUpdate must serialize concurrent transactions touching the
// same account.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	GetAccountForUpdate(ctx context.Context, userID UserID) (Account, error)
	CreateAccountIfAbsent(ctx context.Context, account Account) (bool, error)
	UpdateAccountCredits(ctx context.Context, userID UserID, newBalance int64, updatedUnixUTC int64) error
	SessionApplied(ctx context.Context, sessionID SessionID) (bool, error)
	InsertTransaction(ctx context.Context, record TransactionRecord) error
	ListTransactions(ctx context.Context, userID UserID, limit int) ([]TransactionRecord, error)
}
