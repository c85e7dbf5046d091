// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/denys89/agentorchestrator/budget"
	"github.com/denys89/agentorchestrator/dispatch"
	"github.com/denys89/agentorchestrator/shared/logger"
	"github.com/denys89/agentorchestrator/toolexec"
)

// stubAdapter is a deterministic dispatch.Adapter standing in for a real
// vendor SDK call in orchestrator-level tests.
type stubAdapter struct {
	vendor dispatch.Vendor
	result dispatch.GenerateResult
	err    error
}

func (s *stubAdapter) Vendor() dispatch.Vendor { return s.vendor }
func (s *stubAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	return s.result, s.err
}
func (s *stubAdapter) HealthCheck(ctx context.Context) error { return nil }
func (s *stubAdapter) Supports(model string) bool             { return true }
func (s *stubAdapter) IsAvailable() bool                      { return true }

// stubToolInvoker answers every tool invocation with a fixed result,
// standing in for a live connector/sandbox backend.
type stubToolInvoker struct {
	output map[string]any
	err    error
}

func (s *stubToolInvoker) Invoke(ctx context.Context, tool toolexec.ToolDescriptor, inputs map[string]any) (map[string]any, error) {
	return s.output, s.err
}

// newTestServer builds a fully wired Server with no outbound network
// dependencies: the registry keeps its built-in OpenAI descriptors, the
// adapter is a stub, the ledger/rate limiter/anomaly detector run against
// empty backends (failing open, matching production behavior when those
// services are unset), and the tool pipeline uses a stub invoker.
func newTestServer(t *testing.T, adapter dispatch.Adapter) *Server {
	t.Helper()

	registry := dispatch.NewRegistry()
	extractor := dispatch.NewCapabilityExtractor()
	scorer := dispatch.NewScoringEngine()
	policy := dispatch.NewPolicyEnforcer()
	adapters := dispatch.NewAdapterRegistry(adapter)
	dispatcher := dispatch.NewDispatcher(registry, extractor, scorer, policy, adapters, nil, func(string, ...any) {})

	toolRegistry := toolexec.NewToolRegistry()
	if err := toolRegistry.Register(toolexec.ToolDescriptor{
		Name:      "internal.echo",
		Category:  "test",
		Vendor:    "internal",
		Available: true,
	}); err != nil {
		t.Fatalf("failed to register test tool: %v", err)
	}
	permissions := toolexec.NewPermissionGateway()
	quota := toolexec.NewQuotaManager()
	dagExecutor := toolexec.NewDAGExecutor(toolRegistry, permissions, quota, &stubToolInvoker{output: map[string]any{"ok": true}})

	return &Server{
		agents: NewInMemoryAgentStore(dispatch.AgentContext{
			AgentID:      "assistant",
			DisplayName:  "Assistant",
			RoleName:     "general-purpose assistant",
			SystemPrompt: "You are a helpful assistant.",
		}),
		registry:        registry,
		dispatcher:      dispatcher,
		costEngine:      budget.NewCostEngine(),
		rateLimiter:     budget.NewRateLimiter(nil),
		anomalyDetector: budget.NewAnomalyDetector(),
		ledger:          budget.NewLedgerClient("", ""),
		toolRegistry:    toolRegistry,
		permissions:     permissions,
		quota:           quota,
		dagExecutor:     dagExecutor,
		log:             logger.New("orchestrator-test"),
	}
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.healthHandler(w, req)

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", resp.Status)
	}
}

func TestAgentsHandler_ListsTemplates(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	w := httptest.NewRecorder()

	srv.agentsHandler(w, req)

	var resp AgentsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Templates) != 1 || resp.Templates[0].AgentID != "assistant" {
		t.Errorf("unexpected templates: %+v", resp.Templates)
	}
}

func TestExecuteHandler_SuccessfulGeneration(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{
		vendor: dispatch.VendorOpenAI,
		result: dispatch.GenerateResult{Text: "hello there", Usage: dispatch.TokenUsage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10}},
	})

	body, _ := json.Marshal(ExecuteRequest{AgentID: "assistant", OfficeID: "office-1", Input: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.executeHandler(w, req)

	var resp ExecuteResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusDone {
		t.Fatalf("expected status done, got %q (error: %s)", resp.Status, resp.Error)
	}
	if resp.Output != "hello there" {
		t.Errorf("unexpected output: %q", resp.Output)
	}
}

func TestExecuteHandler_UnknownAgentFailsCleanly(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})

	body, _ := json.Marshal(ExecuteRequest{AgentID: "nonexistent", OfficeID: "office-1", Input: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.executeHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with a business-level failure, got %d", w.Code)
	}
	var resp ExecuteResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != StatusFailed {
		t.Errorf("expected status failed for an unknown agent, got %q", resp.Status)
	}
}

func TestExecuteHandler_MalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	srv.executeHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestExecuteHandler_DispatchFailureSurfacesAsFailedStatus(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI, err: context.DeadlineExceeded})

	body, _ := json.Marshal(ExecuteRequest{AgentID: "assistant", OfficeID: "office-1", Input: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.executeHandler(w, req)

	var resp ExecuteResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != StatusFailed {
		t.Errorf("expected failed status when every adapter call errors, got %q", resp.Status)
	}
}

func TestExecuteAsyncHandler_RespondsQueuedImmediately(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})

	body, _ := json.Marshal(ExecuteRequest{AgentID: "assistant", OfficeID: "office-1", Input: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/execute-async", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.executeAsyncHandler(w, req)

	var resp AsyncResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != StatusQueued {
		t.Errorf("expected status queued, got %q", resp.Status)
	}
	if resp.TaskID == "" {
		t.Error("expected a generated task_id")
	}
}

func TestExecuteToolsHandler_RequiresUserAndOfficeID(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})
	req := httptest.NewRequest(http.MethodPost, "/execute-tools", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	srv.executeToolsHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 when user_id/office_id are missing, got %d", w.Code)
	}
}

func TestExecuteToolsHandler_RunsPlanAgainstStubInvoker(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{vendor: dispatch.VendorOpenAI})

	plan := toolexec.ActionPlan{
		Steps: []*toolexec.Step{{ID: "s1", Tool: "internal.echo", Inputs: map[string]any{}}},
	}
	body, _ := json.Marshal(plan)
	req := httptest.NewRequest(http.MethodPost, "/execute-tools?user_id=u1&office_id=o1", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.executeToolsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result toolexec.ExecutionResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Results) != 1 || !result.Results[0].Success {
		t.Errorf("expected the single step to succeed, got %+v", result.Results)
	}
}

func TestScopesFromHeader_ParsesCommaSeparatedList(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-Granted-Scopes", "tool.a.read, tool.b.write ,")

	got := scopesFromHeader(req)
	want := []string{"tool.a.read", "tool.b.write"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("unexpected scopes: %v", got)
	}
}

func TestOAuthTokensFromHeader_ParsesJSONObject(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-OAuth-Tokens", `{"github":"token-123"}`)

	got := oauthTokensFromHeader(req)
	if got["github"] != "token-123" {
		t.Errorf("unexpected tokens: %v", got)
	}
}

func TestOAuthTokensFromHeader_InvalidJSONReturnsNil(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-OAuth-Tokens", "not json")

	if got := oauthTokensFromHeader(req); got != nil {
		t.Errorf("expected nil for invalid JSON, got %v", got)
	}
}

func TestEstimateContextLength_IncludesHistoryAndMemories(t *testing.T) {
	ctx := dispatch.AgentContext{
		SystemPrompt: "0123456789",
		History:      []dispatch.HistoryMessage{{Text: "0123456789"}},
		Memories:     []string{"0123456789"},
	}
	got := estimateContextLength(ctx)
	want := 30/4 + 500
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}
