package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "HANDSHAKE_TIMEOUT", "SEND_BUFFER", "ENFORCE_MEMBERSHIP", "ENV"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DBPath != "giftline.db" {
		t.Errorf("expected default db path giftline.db, got %s", cfg.DBPath)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Errorf("expected default handshake timeout 5s, got %s", cfg.HandshakeTimeout)
	}
	if cfg.SendBuffer != 256 {
		t.Errorf("expected default send buffer 256, got %d", cfg.SendBuffer)
	}
	if !cfg.EnforceMembership {
		t.Error("expected membership enforcement by default")
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development env by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/test.db")
	t.Setenv("HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("ENFORCE_MEMBERSHIP", "false")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ENV", "production")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("expected db path /tmp/test.db, got %s", cfg.DBPath)
	}
	if cfg.HandshakeTimeout != 2*time.Second {
		t.Errorf("expected handshake timeout 2s, got %s", cfg.HandshakeTimeout)
	}
	if cfg.SendBuffer != 32 {
		t.Errorf("expected send buffer 32, got %d", cfg.SendBuffer)
	}
	if cfg.EnforceMembership {
		t.Error("expected membership enforcement disabled")
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("expected jwt secret, got %q", cfg.JWTSecret)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production env")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("SEND_BUFFER", "notanumber")
	t.Setenv("HANDSHAKE_TIMEOUT", "soon")
	t.Setenv("ENFORCE_MEMBERSHIP", "maybe")

	cfg := Load()
	if cfg.SendBuffer != 256 {
		t.Errorf("expected fallback send buffer 256, got %d", cfg.SendBuffer)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Errorf("expected fallback handshake timeout, got %s", cfg.HandshakeTimeout)
	}
	if !cfg.EnforceMembership {
		t.Error("expected fallback enforcement true")
	}
}
