package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `server:
  port: ":9000"
chrome:
  path: "/usr/bin/chromium"
  pool_size: 4
storage:
  mode: "s3"
  s3_bucket: "certs"
pipeline:
  retry_attempts: 5
`)
	cfg := LoadFrom(p)
	if cfg.Server.Port != ":9000" {
		t.Fatalf("unexpected server port: %q", cfg.Server.Port)
	}
	if cfg.Chrome.Path != "/usr/bin/chromium" || cfg.Chrome.PoolSize != 4 {
		t.Fatalf("unexpected chrome config: %+v", cfg.Chrome)
	}
	if cfg.Storage.Mode != "s3" || cfg.Storage.S3Bucket != "certs" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Pipeline.RetryAttempts != 5 {
		t.Fatalf("unexpected retry attempts: %d", cfg.Pipeline.RetryAttempts)
	}
	// Untouched keys keep their defaults.
	if cfg.Chrome.TimeoutSecs != 30 {
		t.Fatalf("expected default chrome timeout, got %d", cfg.Chrome.TimeoutSecs)
	}
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Pipeline.RetryAttempts != 3 {
		t.Fatalf("expected default retry attempts, got %d", cfg.Pipeline.RetryAttempts)
	}
	if cfg.Pipeline.SettleDelayMS != 3000 {
		t.Fatalf("expected default settle delay, got %d", cfg.Pipeline.SettleDelayMS)
	}
	if cfg.Storage.Mode != "local" {
		t.Fatalf("expected default storage mode, got %q", cfg.Storage.Mode)
	}
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "zero retry attempts", yml: "pipeline:\n  retry_attempts: 0\n"},
		{name: "zero chrome timeout", yml: "chrome:\n  timeout_secs: 0\n"},
		{name: "unknown storage mode", yml: "storage:\n  mode: \"ftp\"\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadConfig_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, `server:
  port: ":7777"
`)
	t.Setenv("CONFIG_PATH", p)
	cfg := LoadConfig()
	if cfg.Server.Port != ":7777" {
		t.Fatalf("expected CONFIG_PATH to be used, got port %q", cfg.Server.Port)
	}
}

func TestSetAndGetConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = ":1234"
	SetConfig(cfg)
	if got := GetConfig(); got.Server.Port != ":1234" {
		t.Fatalf("expected installed config, got port %q", got.Server.Port)
	}
}
