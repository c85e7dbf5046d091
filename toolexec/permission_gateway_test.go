// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package toolexec

import (
	"testing"
	"time"
)

func TestPermissionGateway_GrantedWithMatchingScope(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github", RequiredPermissions: []string{"vcs.issues.write"}}
	scope := ExecutionScope{
		Granted:     []string{"vcs.issues.write"},
		OAuthTokens: map[string]string{"github": "a-long-enough-token"},
	}
	result := g.CheckPermissions(tool, scope)
	if !result.Granted() {
		t.Fatalf("expected granted, got %+v", result)
	}
}

func TestPermissionGateway_WildcardScopeSatisfiesPrefix(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github", RequiredPermissions: []string{"vcs.issues.write"}}
	scope := ExecutionScope{
		Granted:     []string{"vcs.*"},
		OAuthTokens: map[string]string{"github": "a-long-enough-token"},
	}
	result := g.CheckPermissions(tool, scope)
	if !result.Granted() {
		t.Fatalf("expected wildcard scope to satisfy requirement, got %+v", result)
	}
}

func TestPermissionGateway_InsufficientScope(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github", RequiredPermissions: []string{"vcs.issues.write"}}
	scope := ExecutionScope{Granted: []string{"vcs.issues.read"}}
	result := g.CheckPermissions(tool, scope)
	if result.Verdict != VerdictInsufficientScope {
		t.Fatalf("expected INSUFFICIENT_SCOPE, got %s", result.Verdict)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "vcs.issues.write" {
		t.Errorf("unexpected missing list: %v", result.Missing)
	}
}

func TestPermissionGateway_NoTokenPresentIsDenied(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github"}
	scope := ExecutionScope{}
	result := g.CheckPermissions(tool, scope)
	if result.Verdict != VerdictDenied {
		t.Fatalf("expected DENIED, got %s", result.Verdict)
	}
}

func TestPermissionGateway_ShortTokenIsInvalid(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github"}
	scope := ExecutionScope{OAuthTokens: map[string]string{"github": "short"}}
	result := g.CheckPermissions(tool, scope)
	if result.Verdict != VerdictTokenInvalid {
		t.Fatalf("expected TOKEN_INVALID, got %s", result.Verdict)
	}
}

func TestPermissionGateway_ExpiredToken(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "github"}
	scope := ExecutionScope{
		OAuthTokens: map[string]string{"github": "a-long-enough-token"},
		TokenExpiry: map[string]time.Time{"github": time.Now().Add(-time.Hour)},
	}
	result := g.CheckPermissions(tool, scope)
	if result.Verdict != VerdictTokenExpired {
		t.Fatalf("expected TOKEN_EXPIRED, got %s", result.Verdict)
	}
}

func TestPermissionGateway_InternalVendorSkipsTokenCheck(t *testing.T) {
	g := NewPermissionGateway()
	tool := ToolDescriptor{Vendor: "internal"}
	result := g.CheckPermissions(tool, ExecutionScope{})
	if !result.Granted() {
		t.Fatalf("expected internal vendor to bypass token check, got %+v", result)
	}
}

func TestPermissionGateway_ValidateExecutionContext(t *testing.T) {
	g := NewPermissionGateway()
	scope := ExecutionScope{UserID: "u1", OfficeID: "o1"}
	if err := g.ValidateExecutionContext("u1", "o1", scope); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := g.ValidateExecutionContext("u2", "o1", scope); err == nil {
		t.Error("expected user mismatch to error")
	}
	if err := g.ValidateExecutionContext("u1", "o2", scope); err == nil {
		t.Error("expected office mismatch to error")
	}
}
