package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.IssueToken("u1", "u1@example.com")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", claims.UserID)
	}
	if claims.Email != "u1@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
}

func TestIssueToken_RequiresUserID(t *testing.T) {
	m := NewManager("test-secret")
	if _, err := m.IssueToken("", ""); err == nil {
		t.Fatal("IssueToken() should reject an empty user id")
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := NewManager("secret-a").IssueToken("u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("secret-b").VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	m := NewManager("test-secret")
	m.SetTTL(time.Nanosecond)

	token, err := m.IssueToken("u1", "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := m.VerifyToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("VerifyToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	m := NewManager("test-secret")
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := m.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("VerifyToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}
