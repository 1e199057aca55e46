package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTokenPairRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Minute, time.Hour)
	userID := uuid.New()

	pair, err := svc.GenerateTokenPair(userID, "mika")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("user id = %s, want %s", claims.UserID, userID)
	}
	if claims.Username != "mika" {
		t.Errorf("username = %s, want mika", claims.Username)
	}
}

func TestRefreshTokenNotUsableAsAccess(t *testing.T) {
	svc := NewService("test-secret", time.Minute, time.Hour)

	pair, err := svc.GenerateTokenPair(uuid.New(), "mika")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateToken(pair.RefreshToken); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
}

func TestRefreshIssuesNewPair(t *testing.T) {
	svc := NewService("test-secret", time.Minute, time.Hour)
	userID := uuid.New()

	pair, err := svc.GenerateTokenPair(userID, "mika")
	if err != nil {
		t.Fatal(err)
	}

	fresh, err := svc.RefreshTokenPair(pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	claims, err := svc.ValidateToken(fresh.AccessToken)
	if err != nil {
		t.Fatalf("validate refreshed access token: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("user id = %s, want %s", claims.UserID, userID)
	}

	// Access tokens cannot mint new pairs.
	if _, err := svc.RefreshTokenPair(pair.AccessToken); err == nil {
		t.Fatal("access token accepted for refresh")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	svc := NewService("secret-a", time.Minute, time.Hour)
	other := NewService("secret-b", time.Minute, time.Hour)

	pair, err := svc.GenerateTokenPair(uuid.New(), "mika")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := other.ValidateToken(pair.AccessToken); err == nil {
		t.Fatal("token validated with the wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-secret", -time.Minute, time.Hour)

	pair, err := svc.GenerateTokenPair(uuid.New(), "mika")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateToken(pair.AccessToken); err == nil {
		t.Fatal("expired token accepted")
	}
}
