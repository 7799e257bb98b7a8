package game

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "game.db" {
		t.Errorf("storage path = %q, want game.db", cfg.StoragePath)
	}
	if cfg.GroupSize != 4 {
		t.Errorf("group size = %d, want 4", cfg.GroupSize)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("VENTURESIM_GAME_HTTP_ADDR", ":9999")
	t.Setenv("VENTURESIM_GAME_STORAGE_PATH", "/var/lib/game.db")

	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", ":7777"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("http addr = %q, want :7777", cfg.HTTPAddr)
	}
	if cfg.StoragePath != "/var/lib/game.db" {
		t.Errorf("storage path = %q, want /var/lib/game.db", cfg.StoragePath)
	}
}

func TestParseConfigRejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	if _, err := ParseConfig(fs, []string{"-bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
