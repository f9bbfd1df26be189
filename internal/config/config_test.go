package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("TAVUS_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without TAVUS_API_KEY")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TAVUS_API_KEY", "key")
	t.Setenv("CALL_SETTLE_DELAY", "")
	t.Setenv("MIN_CALL_DURATION", "")
	t.Setenv("ICE_SERVERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SettleDelay != 3*time.Second {
		t.Errorf("expected 3s settle delay, got %s", cfg.SettleDelay)
	}
	if cfg.MinCallDuration != 20*time.Second {
		t.Errorf("expected 20s minimum duration, got %s", cfg.MinCallDuration)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("expected default STUN server, got %v", cfg.ICEServers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TAVUS_API_KEY", "key")
	t.Setenv("CALL_SETTLE_DELAY", "500ms")
	t.Setenv("MIN_CALL_DURATION", "45s")
	t.Setenv("ENABLE_RECORDING", "true")
	t.Setenv("ICE_SERVERS", "stun:a.example:3478, turn:b.example:3478,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %s", cfg.SettleDelay)
	}
	if cfg.MinCallDuration != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.MinCallDuration)
	}
	if !cfg.EnableRecording {
		t.Error("expected recording enabled")
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1] != "turn:b.example:3478" {
		t.Errorf("expected two trimmed ICE servers, got %v", cfg.ICEServers)
	}
}

func TestLoad_AuthRequiresKey(t *testing.T) {
	t.Setenv("TAVUS_API_KEY", "key")
	t.Setenv("AUTH_URL", "https://auth.example.com")
	t.Setenv("AUTH_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for AUTH_URL without AUTH_API_KEY")
	}
}

func TestParsePersonas(t *testing.T) {
	data := []byte(`
language: english
interview_types:
  - type: technical
    replica_id: r1
    persona_id: p1
  - type: behavioral
    replica_id: r2
    persona_id: p2
`)
	p, err := ParsePersonas(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	m, ok := p.Lookup("behavioral")
	if !ok || m.ReplicaID != "r2" || m.PersonaID != "p2" {
		t.Errorf("unexpected behavioral mapping: %+v ok=%v", m, ok)
	}
	first, ok := p.First()
	if !ok || first.Type != "technical" {
		t.Errorf("expected technical as first mapping, got %+v", first)
	}
	if _, ok := p.Lookup("case_study"); ok {
		t.Error("expected no mapping for case_study")
	}
}

func TestParsePersonas_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing replica": "interview_types:\n  - {type: technical, persona_id: p1}\n",
		"missing persona": "interview_types:\n  - {type: technical, replica_id: r1}\n",
		"missing type":    "interview_types:\n  - {replica_id: r1, persona_id: p1}\n",
		"duplicate":       "interview_types:\n  - {type: a, replica_id: r1, persona_id: p1}\n  - {type: a, replica_id: r2, persona_id: p2}\n",
	}
	for name, data := range cases {
		if _, err := ParsePersonas([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParsePersonas_EmptyIsAllowed(t *testing.T) {
	p, err := ParsePersonas([]byte("language: english\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := p.First(); ok {
		t.Error("expected no mappings")
	}
}
