package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalValidConfig = `
[dapp]
chain_id = 1337
address = "0x0000000000000000000000000000000000000001"
input_box_address = "0x0000000000000000000000000000000000000002"
rollups_address = "0x0000000000000000000000000000000000000003"
authority_address = "0x0000000000000000000000000000000000000004"
epoch_length = 100

[chain]
http_endpoint = "http://localhost:8545"

[auth]
mnemonic = "test test test test test test test test test test test junk"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dapp.EpochLength != 100 {
		t.Fatalf("got epoch length %d, want 100", cfg.Dapp.EpochLength)
	}
	if cfg.Chain.HTTPEndpoint != "http://localhost:8545" {
		t.Fatalf("got http endpoint %q", cfg.Chain.HTTPEndpoint)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsZeroEpochLength(t *testing.T) {
	cfg := &Config{
		Chain: Chain{HTTPEndpoint: "http://localhost:8545"},
		Auth:  Auth{Mnemonic: "x"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero epoch_length")
	}
}

func TestValidateRejectsMissingChainEndpoint(t *testing.T) {
	cfg := &Config{
		Dapp: Dapp{EpochLength: 1},
		Auth: Auth{Mnemonic: "x"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing chain endpoint")
	}
}

func TestValidateRejectsMissingAuth(t *testing.T) {
	cfg := &Config{
		Dapp:  Dapp{EpochLength: 1},
		Chain: Chain{HTTPEndpoint: "http://localhost:8545"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when neither mnemonic nor aws_kms_key_id is set")
	}
}

func TestValidateRejectsBothAuthMethods(t *testing.T) {
	cfg := &Config{
		Dapp:  Dapp{EpochLength: 1},
		Chain: Chain{HTTPEndpoint: "http://localhost:8545"},
		Auth:  Auth{Mnemonic: "x", AWSKMSKeyID: "y"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when both mnemonic and aws_kms_key_id are set")
	}
}

func TestDurationHelpersConvertMillisecondFields(t *testing.T) {
	b := Broker{ConsumeTimeoutMS: 1500, BackoffMaxElapsedMS: 2000}
	if b.ConsumeTimeout() != 1500*time.Millisecond {
		t.Fatalf("got %v", b.ConsumeTimeout())
	}
	if b.BackoffMaxElapsed() != 2000*time.Millisecond {
		t.Fatalf("got %v", b.BackoffMaxElapsed())
	}

	tx := Tx{ResubmitAfterMS: 3000, ReceiptPollIntervalMS: 250}
	if tx.ResubmitAfter() != 3*time.Second {
		t.Fatalf("got %v", tx.ResubmitAfter())
	}
	if tx.ReceiptPollInterval() != 250*time.Millisecond {
		t.Fatalf("got %v", tx.ReceiptPollInterval())
	}

	sm := ServerManager{PendingInputsSleepMS: 100}
	if sm.PendingInputsSleep() != 100*time.Millisecond {
		t.Fatalf("got %v", sm.PendingInputsSleep())
	}
}
