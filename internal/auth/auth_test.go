package auth

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret")
	token, err := m.GenerateToken("alice")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("claims.Username = %q, want alice", claims.Username)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a").GenerateToken("alice")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := NewManager("secret-b").ValidateToken(token); err == nil {
		t.Error("ValidateToken() accepted a token signed with another secret")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := NewManager("s").ValidateToken("not.a.token"); err == nil {
		t.Error("ValidateToken() accepted garbage")
	}
}
