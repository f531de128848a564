package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{"host":"0.0.0.0","port":4433,"cert":"cert.pem","key":"key.pem","maxclients":25}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.Host != "0.0.0.0" || cfg.Port != 4433 {
		t.Fatalf("unexpected address fields: %+v", cfg)
	}
	if cfg.CertFile != "cert.pem" || cfg.KeyFile != "key.pem" {
		t.Fatalf("unexpected TLS material fields: %+v", cfg)
	}
	if cfg.MaxClients != 25 {
		t.Fatalf("expected maxclients to be populated, got %+v", cfg)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
