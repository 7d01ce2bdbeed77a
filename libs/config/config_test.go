package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "tradecore" {
		t.Fatalf("service_name = %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("http.port = %d", cfg.HTTP.Port)
	}
	if cfg.Pipeline.Shards != 4 {
		t.Fatalf("pipeline.shards = %d", cfg.Pipeline.Shards)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "service_name: exchange-core\npipeline:\n  shards: 2\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "exchange-core" {
		t.Fatalf("service_name = %q", cfg.ServiceName)
	}
	if cfg.Pipeline.Shards != 2 {
		t.Fatalf("pipeline.shards = %d", cfg.Pipeline.Shards)
	}
}

func TestLoadRejectsFeesWithoutFeeAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "pipeline:\n  taker_fee_bps: 20\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected fee account validation error")
	}

	data = "pipeline:\n  taker_fee_bps: 20\n  fee_account_id: 99\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.FeeAccountID != 99 {
		t.Fatalf("fee_account_id = %d", cfg.Pipeline.FeeAccountID)
	}
}
