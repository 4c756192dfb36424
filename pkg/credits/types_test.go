package credits

import (
	"errors"
	"testing"
)

func TestNewUserIDRejectsBlankValues(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "   ", "\t"} {
		if _, err := NewUserID(raw); !errors.Is(err, ErrInvalidUserID) {
			test.Fatalf("expected ErrInvalidUserID for %q, got %v", raw, err)
		}
	}
	userID, err := NewUserID("  u1  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "u1" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
}

func TestNewSessionIDRejectsBlankValues(test *testing.T) {
	test.Parallel()
	if _, err := NewSessionID(" "); !errors.Is(err, ErrInvalidSessionID) {
		test.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestNewCreditCountRequiresPositiveValues(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -5} {
		if _, err := NewCreditCount(raw); !errors.Is(err, ErrInvalidCredits) {
			test.Fatalf("expected ErrInvalidCredits for %d, got %v", raw, err)
		}
	}
	count, err := NewCreditCount(10)
	if err != nil {
		test.Fatalf("credit count: %v", err)
	}
	if count.Int64() != 10 {
		test.Fatalf("expected 10, got %d", count.Int64())
	}
}

func TestNewGrantValidatesAndNormalizes(test *testing.T) {
	test.Parallel()
	userID, _ := NewUserID("u1")
	sessionID, _ := NewSessionID("cs_1")
	count, _ := NewCreditCount(10)

	if _, err := NewGrant(userID, sessionID, count, "Pack", -1, "usd", ""); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := NewGrant(UserID{}, sessionID, count, "Pack", 200, "usd", ""); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := NewGrant(userID, SessionID{}, count, "Pack", 200, "usd", ""); !errors.Is(err, ErrInvalidSessionID) {
		test.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}

	grant, err := NewGrant(userID, sessionID, count, "  Popular Pack ", 200, " USD ", "")
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if grant.Currency() != "usd" {
		test.Fatalf("expected lower-cased currency, got %q", grant.Currency())
	}
	if grant.BundleName() != "Popular Pack" {
		test.Fatalf("expected trimmed bundle name, got %q", grant.BundleName())
	}
	if grant.MetadataJSON() != "{}" {
		test.Fatalf("expected defaulted metadata, got %q", grant.MetadataJSON())
	}
}
