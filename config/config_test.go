package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFixedModel(t *testing.T) {
	path := writeConfig(t, `
Currency = "0x0000000000000000000000000000000000001001"
GracePeriodSeconds = 7200

[RateModel]
Kind = "fixed"
RateBps = 250

[Collateral]
Kind = "collection"
Collections = ["0x0000000000000000000000000000000000002002"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GracePeriodSeconds != 7200 {
		t.Fatalf("grace period: got %d", cfg.GracePeriodSeconds)
	}
	model, err := cfg.BuildModel()
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	if model.Name() != "fixed" {
		t.Fatalf("model: got %s", model.Name())
	}
	gate, err := cfg.BuildGate()
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	if gate.Name() != "collection" {
		t.Fatalf("gate: got %s", gate.Name())
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
Currency = "0x0000000000000000000000000000000000001001"

[RateModel]
RateBps = 100

[Collateral]
Collections = ["0x0000000000000000000000000000000000002002"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateModel.Kind != "fixed" {
		t.Fatalf("default model kind: got %q", cfg.RateModel.Kind)
	}
	if cfg.Collateral.Kind != "collection-set" {
		t.Fatalf("default gate kind: got %q", cfg.Collateral.Kind)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("default data dir: got %q", cfg.DataDir)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"bad currency": `
Currency = "not-an-address"
[RateModel]
RateBps = 100
[Collateral]
Collections = ["0x0000000000000000000000000000000000002002"]
`,
		"unknown model": `
Currency = "0x0000000000000000000000000000000000001001"
[RateModel]
Kind = "exotic"
[Collateral]
Collections = ["0x0000000000000000000000000000000000002002"]
`,
		"dynamic without target": `
Currency = "0x0000000000000000000000000000000000001001"
[RateModel]
Kind = "dynamic"
MinRateBps = 100
MaxRateBps = 2500
[Collateral]
Collections = ["0x0000000000000000000000000000000000002002"]
`,
		"merkle without root": `
Currency = "0x0000000000000000000000000000000000001001"
[RateModel]
RateBps = 100
[Collateral]
Kind = "merkle"
`,
		"empty collection set": `
Currency = "0x0000000000000000000000000000000000001001"
[RateModel]
RateBps = 100
[Collateral]
Kind = "collection-set"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
