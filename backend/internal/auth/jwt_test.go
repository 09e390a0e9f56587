package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	iss := NewIssuer("test-secret")
	token, exp, err := iss.SignAccessToken("u-1", "alice", time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken() error = %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry %v already passed", exp)
	}
	claims, err := iss.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != "u-1" || claims.Username != "alice" || claims.Type != "access" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParse_Rejections(t *testing.T) {
	iss := NewIssuer("test-secret")

	refresh, _, err := iss.SignRefreshToken("u-1", "alice", time.Minute)
	if err != nil {
		t.Fatalf("SignRefreshToken() error = %v", err)
	}
	if _, err := iss.ParseAccessToken(refresh); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("refresh as access: error = %v", err)
	}

	expired, _, _ := iss.SignAccessToken("u-1", "alice", -time.Minute)
	if _, err := iss.ParseToken(expired); err == nil {
		t.Fatalf("expired token accepted")
	}

	other, _, _ := NewIssuer("other-secret").SignAccessToken("u-1", "alice", time.Minute)
	if _, err := iss.ParseToken(other); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}
}
