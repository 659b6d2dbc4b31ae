package mobconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mobster.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
session:
  id: team-rocket
  role: host
  participant_id: u1
  participant_name: Alice
mob:
  interval_sec: 420
  confirm_timeout: 3s
presence:
  heartbeat_interval: 1s
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Mob.IntervalSec != 420 || cfg.Mob.ConfirmTimeout != 3*time.Second {
		t.Fatalf("mob section %+v", cfg.Mob)
	}
	if cfg.Presence.HeartbeatInterval != time.Second || cfg.Presence.PeerTTL != Default().Presence.PeerTTL {
		t.Fatalf("presence section must keep unset defaults: %+v", cfg.Presence)
	}
	if cfg.Role() != session.RoleHost {
		t.Fatalf("role %s", cfg.Role())
	}
	if diff := cmp.Diff(&models.Participant{ID: "u1", DisplayName: "Alice"}, cfg.Participant()); diff != "" {
		t.Fatalf("participant (-want +got):\n%s", diff)
	}
	if cfg.Level().String() != "debug" {
		t.Fatalf("level %s", cfg.Level())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("empty path must return defaults (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MOB_SESSION_ID", "from-env")
	t.Setenv("MOB_ROLE", "guest")
	t.Setenv("MOB_USER_ID", "u2")
	t.Setenv("MOB_INTERVAL_SEC", "not-a-number")
	t.Setenv("MOB_CONFIRM_TIMEOUT", "750ms")
	t.Setenv("GATEWAY_PORT", "9999")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.Session.ID != "from-env" || cfg.Role() != session.RoleGuest || cfg.Session.ParticipantID != "u2" {
		t.Fatalf("session %+v", cfg.Session)
	}
	if cfg.Mob.IntervalSec != Default().Mob.IntervalSec {
		t.Fatalf("unparsable int must keep the previous value, got %d", cfg.Mob.IntervalSec)
	}
	if cfg.Mob.ConfirmTimeout != 750*time.Millisecond || cfg.Gateway.Port != "9999" {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Mob, cfg.Gateway)
	}
	if cfg.Participant().DisplayName != "" {
		t.Fatalf("display name %q", cfg.Participant().DisplayName)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing session id", func(c *Config) { c.Session.ID = "" }},
		{"unknown role", func(c *Config) { c.Session.Role = "owner" }},
		{"host without identity", func(c *Config) { c.Session.Role = "host"; c.Session.ParticipantID = "" }},
		{"zero interval", func(c *Config) { c.Mob.IntervalSec = 0 }},
		{"zero confirm timeout", func(c *Config) { c.Mob.ConfirmTimeout = 0 }},
		{"zero bind retry", func(c *Config) { c.Mob.BindRetry = 0 }},
		{"ttl below heartbeat", func(c *Config) { c.Presence.PeerTTL = time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("want ErrInvalidConfig, got %v", err)
			}
		})
	}
}
