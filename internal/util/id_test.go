package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("")
	if !IsUUID(id) {
		t.Fatalf("NewID(\"\") = %q, want a UUID", id)
	}
	prefixed := NewID("usr")
	if !strings.HasPrefix(prefixed, "usr_") || strings.Contains(prefixed, "-") || len(prefixed) != 36 {
		t.Fatalf("NewID(\"usr\") = %q", prefixed)
	}
	if NewID("") == NewID("") {
		t.Fatal("NewID returned duplicate ids")
	}
}

func TestNewSecret(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret() error = %v", err)
	}
	if len(secret) != 64 {
		t.Fatalf("secret length = %d, want 64", len(secret))
	}
}
