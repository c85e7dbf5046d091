// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"os"
	"testing"
)

func TestRegistry_BuiltinFallbackCoversHighAndFastTiers(t *testing.T) {
	r := NewRegistry()
	all := r.All()
	if len(all) < 2 {
		t.Fatalf("expected at least 2 built-in descriptors, got %d", len(all))
	}

	var hasHigh, hasFast bool
	for _, d := range all {
		if d.CostTier == CostHigh {
			hasHigh = true
		}
		if d.LatencyTier == LatencyFast {
			hasFast = true
		}
	}
	if !hasHigh || !hasFast {
		t.Error("expected built-in set to cover at least one high-tier and one fast-tier model")
	}
}

func TestRegistry_GetAndAvailable(t *testing.T) {
	r := NewRegistry()
	d, ok := r.Get("gpt-4-turbo")
	if !ok {
		t.Fatal("expected gpt-4-turbo to be registered")
	}
	if d.Vendor != VendorOpenAI {
		t.Errorf("expected vendor openai, got %s", d.Vendor)
	}

	if _, ok := r.Get("does-not-exist"); ok {
		t.Error("expected lookup of unregistered model to fail")
	}

	for _, d := range r.Available() {
		if !d.Available {
			t.Errorf("Available() returned an unavailable descriptor: %s", d.Name)
		}
	}
}

func TestRegistry_ByVendor(t *testing.T) {
	r := NewRegistry()
	openai := r.ByVendor(VendorOpenAI)
	if len(openai) != 2 {
		t.Errorf("expected 2 built-in openai models, got %d", len(openai))
	}
	if len(r.ByVendor(VendorAnthropic)) != 0 {
		t.Error("expected no anthropic models in the built-in set")
	}
}

func TestRegistry_WithCapability(t *testing.T) {
	r := NewRegistry()
	ok, err := r.WithCapability("gpt-4-turbo", CapCoding, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected gpt-4-turbo to meet coding capability 8")
	}

	if _, err := r.WithCapability("nonexistent", CapCoding, 1); err == nil {
		t.Error("expected an error for an unregistered model")
	}
}

func TestRegistry_LoadFromYAMLMissingFileKeepsBuiltins(t *testing.T) {
	r := NewRegistry()
	before := len(r.All())

	err := r.LoadFromYAML("/nonexistent/models.yaml", nil)
	if err == nil {
		t.Fatal("expected an error for a missing model config file")
	}
	if len(r.All()) != before {
		t.Error("a missing config file should leave the registry unchanged")
	}
}

func TestRegistry_LoadFromYAMLReplacesAtomically(t *testing.T) {
	r := NewRegistry()
	path := writeTempYAML(t, `
models:
  - name: custom-model
    vendor: anthropic
    cost_tier: medium
    latency_tier: fast
    max_tokens: 200000
    capabilities:
      reasoning: 8
defaults:
  anthropic: custom-model
`)

	if err := r.LoadFromYAML(path, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Get("gpt-4-turbo"); ok {
		t.Error("expected the built-in descriptors to be fully replaced, not merged")
	}
	d, ok := r.Get("custom-model")
	if !ok {
		t.Fatal("expected custom-model to be loaded")
	}
	if d.Vendor != VendorAnthropic || d.MaxTokens != 200000 {
		t.Errorf("unexpected descriptor: %+v", d)
	}
	name, ok := r.DefaultFor(VendorAnthropic)
	if !ok || name != "custom-model" {
		t.Errorf("expected default-for-anthropic to be custom-model, got %q (ok=%v)", name, ok)
	}
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp yaml: %v", err)
	}
	return path
}
