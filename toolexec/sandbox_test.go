// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package toolexec

import (
	"context"
	"strings"
	"testing"
)

func TestCheckCodeSafety_AllowsCleanCode(t *testing.T) {
	ok, reason := CheckCodeSafety("__result__ = sum(inputs['values'])")
	if !ok {
		t.Fatalf("expected clean code to pass, got reason %q", reason)
	}
}

func TestCheckCodeSafety_RejectsDeniedPatterns(t *testing.T) {
	cases := []string{
		"import os",
		"import subprocess",
		"eval(user_input)",
		"exec(payload)",
		"open('/etc/passwd')",
		"__import__('os')",
		"getattr(obj, 'secret')",
	}
	for _, code := range cases {
		ok, reason := CheckCodeSafety(code)
		if ok {
			t.Errorf("expected %q to be rejected", code)
		}
		if reason == "" {
			t.Errorf("expected a reason for rejecting %q", code)
		}
	}
}

func TestCheckCodeSafety_CaseInsensitive(t *testing.T) {
	ok, _ := CheckCodeSafety("IMPORT OS")
	if ok {
		t.Fatal("expected case-insensitive match to reject")
	}
}

func TestBuildWrapper_EmbedsMarkerAndInputs(t *testing.T) {
	wrapper, err := buildWrapper("__result__ = inputs['x'] + 1", map[string]any{"x": 41})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(wrapper, resultMarker) {
		t.Error("expected wrapper to contain the result marker")
	}
	if !strings.Contains(wrapper, "inputs = json.loads(") {
		t.Error("expected wrapper to deserialize inputs")
	}
	if !strings.Contains(wrapper, "try:") || !strings.Contains(wrapper, "except Exception as e:") {
		t.Error("expected wrapper to wrap user code in a try/except block")
	}
}

func TestSandbox_UnavailableInterpreterFailsFast(t *testing.T) {
	s := NewSandbox("no-such-interpreter-binary-xyz")
	if s.IsAvailable() {
		t.Fatal("expected a nonexistent interpreter to be unavailable")
	}
	result := s.ExecuteSafely(context.Background(), "__result__ = 1", nil, DefaultResourceLimits)
	if result.Success {
		t.Fatal("expected execution to fail when sandbox unavailable")
	}
	if result.Error != "sandbox not available" {
		t.Errorf("unexpected error: %q", result.Error)
	}
}

func TestSandbox_UnsafeCodeNeverSpawnsSubprocess(t *testing.T) {
	s := &Sandbox{interpreter: "python3", available: true}
	result := s.ExecuteSafely(context.Background(), "import os\nos.system('echo pwned')", nil, DefaultResourceLimits)
	if result.Success {
		t.Fatal("expected unsafe code to be rejected before execution")
	}
	if !strings.Contains(result.Error, "code safety check failed") {
		t.Errorf("unexpected error: %q", result.Error)
	}
}
