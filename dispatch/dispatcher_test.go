// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"context"
	"regexp"
	"strings"
	"testing"
)

func newTestRegistry(descriptors ...ModelDescriptor) *Registry {
	r := &Registry{}
	r.swap(descriptors)
	return r
}

// TestDispatcher_CodingOnEngineerPrefersCapableModel is seed scenario 1
// from the spec: a coding request on an Engineer role, scored against a
// high-capability cloud model and a free local model, with local
// preference enabled.
func TestDispatcher_CodingOnEngineerPrefersCapableModel(t *testing.T) {
	modelA := ModelDescriptor{
		Name: "A", Vendor: VendorOpenAI, CostTier: CostHigh, LatencyTier: LatencyMedium,
		MaxTokens: 128000, Available: true,
		Capabilities: map[Capability]int{CapReasoning: 9, CapCoding: 9},
	}
	modelB := ModelDescriptor{
		Name: "B", Vendor: VendorLocal, CostTier: CostFree, LatencyTier: LatencyFast,
		MaxTokens: 8000, Available: true,
		Capabilities: map[Capability]int{CapCoding: 6},
	}
	registry := newTestRegistry(modelA, modelB)
	extractor := NewCapabilityExtractor()
	scorer := NewScoringEngine()
	policy := NewPolicyEnforcer()
	policy.preferLocal = true
	policy.localCapabilityThreshold = 6

	adapterA := newFakeAdapter(VendorOpenAI)
	adapterA.genResult = GenerateResult{Text: "def sorted_list(xs): return sorted(xs)", Usage: TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}}
	adapterB := newFakeAdapter(VendorLocal)
	adapterB.genResult = GenerateResult{Text: "local output"}

	d := NewDispatcher(registry, extractor, scorer, policy, NewAdapterRegistry(adapterA, adapterB), nil, nil)

	scores, profile, err := d.SelectModel("Write a Python function to sort a list", "Engineer", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w := profile.RequiredCapabilities[CapCoding]; w < 0.5 {
		t.Errorf("expected coding weight >= 0.5, got %v", w)
	}

	byName := map[string]ModelScore{}
	for _, s := range scores {
		byName[s.ModelName] = s
	}
	if byName["A"].CapabilityScore <= byName["B"].CapabilityScore {
		t.Errorf("expected A to dominate on capability, got A=%.1f B=%.1f", byName["A"].CapabilityScore, byName["B"].CapabilityScore)
	}

	result, err := d.Dispatch(context.Background(), "task-1", AgentContext{AgentID: "agent-1", RoleName: "Engineer"}, "Write a Python function to sort a list", 0)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if result.SelectedModel != "A" {
		t.Errorf("expected model A to win on capability dominance, got %s", result.SelectedModel)
	}
	if !strings.Contains(result.SelectionReason, "coding") && !strings.Contains(strings.ToLower(result.SelectionReason), "capability") {
		t.Errorf("expected selection reason to mention capability/coding, got %q", result.SelectionReason)
	}
}

// TestDispatcher_SecretRoutingSelectsLocalModel is seed scenario 2.
func TestDispatcher_SecretRoutingSelectsLocalModel(t *testing.T) {
	modelA := ModelDescriptor{
		Name: "A", Vendor: VendorOpenAI, CostTier: CostHigh, LatencyTier: LatencyMedium,
		MaxTokens: 128000, Available: true,
		Capabilities: map[Capability]int{CapReasoning: 9, CapCoding: 9},
	}
	modelB := ModelDescriptor{
		Name: "B", Vendor: VendorLocal, CostTier: CostFree, LatencyTier: LatencyFast,
		MaxTokens: 8000, Available: true,
		Capabilities: map[Capability]int{CapCoding: 6},
	}
	registry := newTestRegistry(modelA, modelB)
	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), NewPolicyEnforcer(),
		NewAdapterRegistry(newFakeAdapter(VendorOpenAI), newFakeAdapter(VendorLocal)), nil, nil)

	scores, profile, err := d.SelectModel("my password is hunter2", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !profile.RequiresLocal {
		t.Fatal("expected RequiresLocal=true")
	}

	byName := map[string]ModelScore{}
	for _, s := range scores {
		byName[s.ModelName] = s
	}
	if _, stillPresent := byName["A"]; stillPresent && byName["A"].MeetsRequirements {
		t.Error("expected the non-local model to be disqualified")
	}
	if !byName["B"].MeetsRequirements {
		t.Error("expected the local model to meet requirements")
	}
}

// TestDispatcher_RestrictionWithNoLocalModelsFallsBackToDefault is seed
// boundary scenario: a restriction pattern leaves zero surviving vendors,
// and the dispatcher substitutes the registry default with reason
// "fallback-default".
func TestDispatcher_RestrictionWithNoLocalModelsFallsBackToDefault(t *testing.T) {
	modelA := ModelDescriptor{
		Name: "A", Vendor: VendorOpenAI, CostTier: CostHigh, LatencyTier: LatencyMedium,
		MaxTokens: 128000, Available: true,
		Capabilities: map[Capability]int{CapReasoning: 9, CapCoding: 9},
	}
	registry := &Registry{}
	registry.swapWithDefaults([]ModelDescriptor{modelA}, map[Vendor]string{VendorOpenAI: "A"})

	policy := NewPolicyEnforcer()
	policy.preferLocal = false
	policy.LoadRestrictedPatterns([]RestrictedPattern{
		{Pattern: regexp.MustCompile(`confidential`), AllowedVendors: map[Vendor]bool{VendorLocal: true}},
	})

	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), policy,
		NewAdapterRegistry(newFakeAdapter(VendorOpenAI)), nil, nil)

	scores, _, err := d.SelectModel("this is confidential", "", 0)
	if err != ErrNoCandidates {
		t.Fatalf("expected ErrNoCandidates when restriction removes all candidates, got scores=%v err=%v", scores, err)
	}

	candidates := d.buildCandidates(nil)
	if len(candidates) != 1 || candidates[0].score.DisqualifiedReason != "fallback-default" {
		t.Fatalf("expected a single fallback-default candidate, got %+v", candidates)
	}
}

func TestDispatcher_FallsOverToAlternativeOnAdapterFailure(t *testing.T) {
	modelA := ModelDescriptor{Name: "A", Vendor: VendorOpenAI, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	modelB := ModelDescriptor{Name: "B", Vendor: VendorAnthropic, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	registry := newTestRegistry(modelA, modelB)

	failing := newFakeAdapter(VendorOpenAI)
	failing.genErr = errFakeUnavailable
	succeeding := newFakeAdapter(VendorAnthropic)
	succeeding.genResult = GenerateResult{Text: "ok", Usage: TokenUsage{TotalTokens: 5}}

	policy := NewPolicyEnforcer()
	policy.preferLocal = false
	policy.LoadProviderPriority([]Vendor{VendorOpenAI, VendorAnthropic})

	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), policy,
		NewAdapterRegistry(failing, succeeding), nil, nil)

	result, err := d.Dispatch(context.Background(), "task-2", AgentContext{AgentID: "agent-2"}, "hello", 0)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if result.SelectedModel != "B" {
		t.Errorf("expected fallback to model B, got %s", result.SelectedModel)
	}
	if !result.FallbackUsed || result.FallbackModel != "B" {
		t.Errorf("expected FallbackUsed=true and FallbackModel=B, got %+v", result)
	}
	if failing.calls != 1 {
		t.Errorf("expected the failing adapter to be called exactly once, got %d", failing.calls)
	}
}

func TestDispatcher_BreakerOpenSkipsToNextAlternative(t *testing.T) {
	modelA := ModelDescriptor{Name: "A", Vendor: VendorOpenAI, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	modelB := ModelDescriptor{Name: "B", Vendor: VendorAnthropic, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	registry := newTestRegistry(modelA, modelB)

	adapterA := newFakeAdapter(VendorOpenAI)
	adapterB := newFakeAdapter(VendorAnthropic)
	adapterB.genResult = GenerateResult{Text: "ok"}

	policy := NewPolicyEnforcer()
	policy.preferLocal = false
	policy.LoadProviderPriority([]Vendor{VendorOpenAI, VendorAnthropic})

	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), policy,
		NewAdapterRegistry(adapterA, adapterB), nil, nil)

	// Trip the breaker for vendor openai directly, simulating 5 prior failures.
	breaker := d.breakers.Get(string(VendorOpenAI))
	for i := 0; i < failureThreshold; i++ {
		breaker.RecordFailure()
	}

	result, err := d.Dispatch(context.Background(), "task-3", AgentContext{AgentID: "agent-3"}, "hello", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SelectedModel != "B" {
		t.Errorf("expected breaker-open vendor to be skipped in favor of B, got %s", result.SelectedModel)
	}
	if adapterA.calls != 0 {
		t.Errorf("expected the open-breaker adapter to never be called, got %d calls", adapterA.calls)
	}
}

func TestDispatcher_AllCandidatesFailReturnsError(t *testing.T) {
	modelA := ModelDescriptor{Name: "A", Vendor: VendorOpenAI, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	registry := newTestRegistry(modelA)

	failing := newFakeAdapter(VendorOpenAI)
	failing.genErr = errFakeUnavailable

	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), NewPolicyEnforcer(),
		NewAdapterRegistry(failing), nil, nil)

	result, err := d.Dispatch(context.Background(), "task-4", AgentContext{AgentID: "agent-4"}, "hello", 0)
	if err == nil {
		t.Fatal("expected an error when every candidate fails")
	}
	if result.Success {
		t.Error("expected Success=false on the returned result")
	}
}

func TestBuildMessages_CapsHistoryAtTenAndAppendsCurrentInput(t *testing.T) {
	history := make([]HistoryMessage, 15)
	for i := range history {
		history[i] = HistoryMessage{SenderType: RoleUser, Text: "turn"}
	}
	ctx := AgentContext{SystemPrompt: "You are helpful.", History: history, Memories: []string{"likes concise answers"}}

	messages := BuildMessages(ctx, "what's next?")
	// system + 10 history + current input
	if len(messages) != 12 {
		t.Fatalf("expected 12 messages (1 system + 10 history + 1 input), got %d", len(messages))
	}
	if messages[0].Role != RoleSystem {
		t.Error("expected first message to be the system message")
	}
	if !strings.Contains(messages[0].Content, "likes concise answers") {
		t.Error("expected system message to include memory bullets")
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser || last.Content != "what's next?" {
		t.Errorf("expected last message to be the current user input, got %+v", last)
	}
}

func TestDispatcher_SelectModelFailsWithNoAvailableModels(t *testing.T) {
	registry := newTestRegistry() // empty
	d := NewDispatcher(registry, NewCapabilityExtractor(), NewScoringEngine(), NewPolicyEnforcer(),
		NewAdapterRegistry(), nil, nil)

	_, _, err := d.SelectModel("hello", "", 0)
	if err != ErrNoCandidates {
		t.Errorf("expected ErrNoCandidates for an empty registry, got %v", err)
	}
}
