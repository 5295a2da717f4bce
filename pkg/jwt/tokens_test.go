package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("ops", ScopeAuditStream, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ops" || !claims.HasScope(ScopeAuditStream) {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.HasScope("deploy:write") {
		t.Fatalf("scope should not match")
	}
}

func TestParseRejectsWrongSecretAndExpired(t *testing.T) {
	token, err := GenerateToken("ops", ScopeAuditStream, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature error")
	}
	expired, err := GenerateToken("ops", ScopeAuditStream, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}
	if _, err := Parse(expired, "secret"); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestGenerateRequiresSecret(t *testing.T) {
	if _, err := GenerateToken("ops", ScopeAuditStream, " ", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
