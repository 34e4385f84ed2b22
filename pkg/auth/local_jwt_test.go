package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"empty", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"missing token", "Bearer   ", "", true},
		{"no scheme", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected token %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewLocalJWTAuth(t *testing.T) {
	if _, err := NewLocalJWTAuth("", 0); err == nil {
		t.Error("Expected error for empty secret")
	}

	a, err := NewLocalJWTAuth("secret", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("Expected default expiry 15m, got %v", a.AccessTokenExpiry)
	}
}

func TestGenerateAndVerifyAccessToken(t *testing.T) {
	a, _ := NewLocalJWTAuth("secret", time.Minute)

	token, err := a.GenerateAccessToken("user-1", "user@example.com", "admin")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	user, err := a.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}
	if user.ID != "user-1" || user.Email != "user@example.com" || user.Role != "admin" {
		t.Errorf("Unexpected user: %+v", user)
	}

	if _, err := a.GenerateAccessToken("", "", ""); err == nil {
		t.Error("Expected error for empty user ID")
	}
}

func TestVerifyAccessToken_Rejects(t *testing.T) {
	a, _ := NewLocalJWTAuth("secret", time.Minute)
	other, _ := NewLocalJWTAuth("other-secret", time.Minute)

	foreign, _ := other.GenerateAccessToken("user-1", "", "")
	if _, err := a.VerifyAccessToken(foreign); err == nil {
		t.Error("Expected error for token signed with another secret")
	}

	expired, _ := NewLocalJWTAuth("secret", -time.Minute)
	stale, _ := expired.GenerateAccessToken("user-1", "", "")
	if _, err := a.VerifyAccessToken(stale); err == nil {
		t.Error("Expected error for expired token")
	}

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, _ := wrongIssuer.SignedString([]byte("secret"))
	if _, err := a.VerifyAccessToken(signed); err == nil {
		t.Error("Expected error for foreign issuer")
	}

	if _, err := a.VerifyAccessToken("not-a-token"); err == nil {
		t.Error("Expected error for malformed token")
	}
}
