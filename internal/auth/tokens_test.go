package auth

import (
	"testing"
	"time"
)

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time { return time.Unix(seconds, 0).UTC() }
}

func TestIssueAndValidateToken(t *testing.T) {
	manager := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
		TokenTTL:      time.Hour,
		Clock:         fixedClock(1700000000),
	})

	token, expiresIn, err := manager.IssueToken(42)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600s validity, got %d", expiresIn)
	}

	athleteID, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if athleteID != 42 {
		t.Fatalf("expected athlete 42, got %d", athleteID)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issueClock := fixedClock(1700000000)
	manager := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
		TokenTTL:      time.Minute,
		Clock:         issueClock,
	})
	token, _, err := manager.IssueToken(7)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	late := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
		Clock:         fixedClock(1700000000 + 3600),
	})
	if _, err := late.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	manager := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("secret-a"),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
	})
	token, _, err := manager.IssueToken(7)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other := NewTokenManager(TokenManagerConfig{
		SigningSecret: []byte("secret-b"),
		Issuer:        "coachlog-auth",
		Audience:      "coachlog-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with different secret to be rejected")
	}
}

func TestIssueTokenRequiresAthlete(t *testing.T) {
	manager := NewTokenManager(TokenManagerConfig{SigningSecret: []byte("s")})
	if _, _, err := manager.IssueToken(0); err == nil {
		t.Fatalf("expected error for zero athlete id")
	}
}
