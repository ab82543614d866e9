package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestUserJSONCanonicalizesRole(t *testing.T) {
	var u User
	raw := `{"id":"65f0","username":"mlopez","email":"m@example.com","area":"OFICIALÍA DE PARTES","role":"director_general","active":true}`
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Role != RoleDirectorGeneral {
		t.Fatalf("role = %s", u.Role)
	}
	out, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if back["role"] != "DIRECTOR_GENERAL" {
		t.Fatalf("encoded role = %v", back["role"])
	}
}

func TestUnknownRoleDecodesWithoutError(t *testing.T) {
	var u User
	if err := json.Unmarshal([]byte(`{"id":"1","role":"jefe"}`), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Role != RoleUnknown {
		t.Fatalf("role = %s, want UNKNOWN", u.Role)
	}
}

func TestIdentified(t *testing.T) {
	if (&User{}).Identified() {
		t.Fatal("empty user must not be identified")
	}
	var nilUser *User
	if nilUser.Identified() {
		t.Fatal("nil user must not be identified")
	}
	if !(&User{Username: "x"}).Identified() {
		t.Fatal("username should identify a user")
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("client-does-not-know-this"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, ok := TokenExpiry(signed)
	if !ok || !got.Equal(exp) {
		t.Fatalf("TokenExpiry() = %v, %v; want %v", got, ok, exp)
	}
	if TokenExpired(signed, time.Now(), 5*time.Second) {
		t.Fatal("fresh token reported expired")
	}
	if !TokenExpired(signed, exp.Add(time.Second), 0) {
		t.Fatal("token past exp should be expired")
	}
	if _, ok := TokenExpiry("opaque-token"); ok {
		t.Fatal("opaque token should have no expiry")
	}
	if TokenExpired("opaque-token", time.Now(), 0) {
		t.Fatal("opaque token must never be considered expired")
	}
}
