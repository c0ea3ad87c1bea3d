package relay

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8086" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HelloTimeout != 5*time.Second {
		t.Fatalf("expected default hello timeout, got %v", cfg.HelloTimeout)
	}
	if cfg.MaxMessageRunes != 2000 {
		t.Fatalf("expected default max message runes, got %d", cfg.MaxMessageRunes)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("RELAY_CHAT_HTTP_ADDR", "env-relay")
	t.Setenv("RELAY_CHAT_HELLO_TIMEOUT", "9s")
	t.Setenv("RELAY_CHAT_MAX_MESSAGE_RUNES", "500")

	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-relay",
		"-hello-timeout", "7s",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-relay" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.HelloTimeout != 7*time.Second {
		t.Fatalf("expected flag hello timeout, got %v", cfg.HelloTimeout)
	}
	if cfg.MaxMessageRunes != 500 {
		t.Fatalf("expected env max message runes, got %d", cfg.MaxMessageRunes)
	}
}
