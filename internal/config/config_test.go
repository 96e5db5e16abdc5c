package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullConfig = `
write_mode:
  enabled: true
write_policy:
  allow_paths:
    - docs/
    - "*.md"
  deny_paths:
    - .github/workflows/
  secret_scan: true
confirmation:
  ttl_minutes: 30
github:
  bot_login: patchline
  webhook_listen: ":9090"
  webhook_secret: hush
  token_file: /run/secrets/github-token
slack:
  bot_token: xoxb-test
  app_token: xapp-test
  channels:
    C01:
      repo: acme/widgets
      installation_id: 7
executor:
  prompt: "You edit repositories."
  model: claude-sonnet-4-5
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if !cfg.WriteMode.Enabled {
		t.Error("write_mode.enabled not parsed")
	}
	if len(cfg.WritePolicy.AllowPaths) != 2 || cfg.WritePolicy.AllowPaths[1] != "*.md" {
		t.Errorf("allow_paths = %v", cfg.WritePolicy.AllowPaths)
	}
	if !cfg.WritePolicy.SecretScan {
		t.Error("secret_scan not parsed")
	}
	if got := cfg.ConfirmTTL(); got != 30*time.Minute {
		t.Errorf("ConfirmTTL() = %v, want 30m", got)
	}
	if cfg.GitHub.WebhookListen != ":9090" {
		t.Errorf("webhook_listen = %q", cfg.GitHub.WebhookListen)
	}
	ref := cfg.Slack.Channels["C01"]
	if ref.Repo != "acme/widgets" || ref.InstallationID != 7 {
		t.Errorf("channel C01 = %+v", ref)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("write_mode:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.WriteMode.Enabled {
		t.Error("write mode should default to disabled")
	}
	if got := cfg.ConfirmTTL(); got != 15*time.Minute {
		t.Errorf("ConfirmTTL() = %v, want the 15m default", got)
	}
	if cfg.GitHub.WebhookListen != ":8080" {
		t.Errorf("webhook_listen default = %q", cfg.GitHub.WebhookListen)
	}
	if cfg.GitHub.BotLogin != "patchline" {
		t.Errorf("bot_login default = %q", cfg.GitHub.BotLogin)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("write_policy:\n  alow_paths:\n    - docs/\n"))
	if err == nil {
		t.Fatal("Parse() accepted a misspelled policy key")
	}
}

func TestValidateChannelMappings(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "repo missing slash",
			yaml: "slack:\n  channels:\n    C01:\n      repo: widgets\n      installation_id: 7\n",
		},
		{
			name: "missing installation id",
			yaml: "slack:\n  channels:\n    C01:\n      repo: acme/widgets\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() succeeded, want validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("Load() succeeded on a missing file")
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name := SplitRepo("acme/widgets")
	if owner != "acme" || name != "widgets" {
		t.Errorf("SplitRepo() = %q, %q", owner, name)
	}
}

func TestTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("ghs_initial\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tf, err := NewTokenFile(path)
	if err != nil {
		t.Fatalf("NewTokenFile() error: %v", err)
	}
	if got := tf.Get(); got != "ghs_initial" {
		t.Errorf("Get() = %q, want trimmed initial token", got)
	}

	// reload picks up a rewrite.
	if err := os.WriteFile(path, []byte("ghs_rotated"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := tf.reload(); err != nil {
		t.Fatalf("reload() error: %v", err)
	}
	if got := tf.Get(); got != "ghs_rotated" {
		t.Errorf("Get() after rotation = %q", got)
	}
}

func TestTokenFileRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenFile(path); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("NewTokenFile() = %v, want empty-token error", err)
	}
}
