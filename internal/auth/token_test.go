package auth

import (
	"context"
	"testing"
	"time"
)

func newTestManager(clock func() time.Time) *TokenManager {
	return NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "margin-auth",
		Audience:      "margin-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	manager := newTestManager(nil)

	token, expiresIn, err := manager.Issue(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry, got %d", expiresIn)
	}

	subject, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "user-a" {
		t.Fatalf("expected subject user-a, got %s", subject)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	manager := newTestManager(nil)
	if _, _, err := manager.Issue(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	manager := newTestManager(func() time.Time { return issuedAt })

	token, _, err := manager.Issue(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	lateManager := newTestManager(func() time.Time { return issuedAt.Add(time.Hour) })
	if _, err := lateManager.Validate(token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}

func TestValidateRejectsForeignAudience(t *testing.T) {
	manager := newTestManager(nil)
	token, _, err := manager.Issue(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "margin-auth",
		Audience:      "other-api",
	})
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation failure for wrong audience")
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	manager := newTestManager(nil)
	token, _, err := manager.Issue(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := manager.Validate(tampered); err == nil {
		t.Fatal("expected validation failure for tampered signature")
	}
}
