// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package toolexec

import "testing"

func sampleTool() ToolDescriptor {
	return ToolDescriptor{
		Name:     "github.create_issue",
		Category: "vcs",
		Vendor:   "github",
		InputSchema: InputSchema{
			Properties: map[string]SchemaProperty{
				"title": {Type: "string"},
				"body":  {Type: "string"},
				"draft": {Type: "boolean"},
			},
			Required: []string{"title"},
		},
		RequiredPermissions: []string{"vcs.issues.write"},
		Available:           true,
	}
}

func TestToolRegistry_RegisterAndLookup(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(sampleTool()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool, ok := r.Lookup("github.create_issue")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if tool.Vendor != "github" {
		t.Errorf("unexpected vendor: %s", tool.Vendor)
	}
}

func TestToolRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())
	if err := r.Register(sampleTool()); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestToolRegistry_UpdateRequiresExisting(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Update(sampleTool()); err == nil {
		t.Fatal("expected update of nonexistent tool to fail")
	}
	_ = r.Register(sampleTool())
	tool := sampleTool()
	tool.Available = false
	if err := r.Update(tool); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := r.Lookup(tool.Name)
	if got.Available {
		t.Error("expected update to persist")
	}
}

func TestToolRegistry_Unregister(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())
	r.Unregister("github.create_issue")
	if r.Exists("github.create_issue") {
		t.Error("expected tool to be removed")
	}
	r.Unregister("does-not-exist") // no-op, must not panic
}

func TestToolRegistry_List_Filters(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())
	unavailable := sampleTool()
	unavailable.Name = "github.delete_issue"
	unavailable.Available = false
	_ = r.Register(unavailable)

	all := r.List(ToolFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(all))
	}

	onlyAvailable := r.List(ToolFilter{AvailableOnly: true})
	if len(onlyAvailable) != 1 {
		t.Fatalf("expected 1 available tool, got %d", len(onlyAvailable))
	}

	byVendor := r.List(ToolFilter{Vendor: "slack"})
	if len(byVendor) != 0 {
		t.Fatalf("expected 0 slack tools, got %d", len(byVendor))
	}
}

func TestToolRegistry_ValidateInputs_MissingRequired(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())

	if err := r.ValidateInputs("github.create_issue", map[string]any{}); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestToolRegistry_ValidateInputs_TypeMismatch(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())

	err := r.ValidateInputs("github.create_issue", map[string]any{"title": 123})
	if err == nil {
		t.Fatal("expected type mismatch to fail validation")
	}
}

func TestToolRegistry_ValidateInputs_UnknownFieldPasses(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())

	err := r.ValidateInputs("github.create_issue", map[string]any{
		"title":          "hello",
		"undeclaredProp": "anything goes",
	})
	if err != nil {
		t.Errorf("unexpected error for undeclared field: %v", err)
	}
}

func TestToolRegistry_ValidateInputs_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	if err := r.ValidateInputs("does-not-exist", map[string]any{}); err == nil {
		t.Fatal("expected unknown tool to fail validation")
	}
}

func TestToolRegistry_ValidateInputs_Success(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())
	err := r.ValidateInputs("github.create_issue", map[string]any{
		"title": "hello",
		"body":  "world",
		"draft": false,
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestToolRegistry_RequiredPermissions(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(sampleTool())
	perms := r.RequiredPermissions("github.create_issue")
	if len(perms) != 1 || perms[0] != "vcs.issues.write" {
		t.Errorf("unexpected permissions: %v", perms)
	}
	if r.RequiredPermissions("missing") != nil {
		t.Error("expected nil permissions for unknown tool")
	}
}
