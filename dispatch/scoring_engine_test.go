// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import "testing"

func gpt4Turbo() ModelDescriptor {
	return ModelDescriptor{
		Name: "A", Vendor: VendorOpenAI, CostTier: CostHigh, LatencyTier: LatencyMedium,
		MaxTokens: 128000, Available: true,
		Capabilities: map[Capability]int{CapReasoning: 9, CapCoding: 9},
	}
}

func localFast() ModelDescriptor {
	return ModelDescriptor{
		Name: "B", Vendor: VendorLocal, CostTier: CostFree, LatencyTier: LatencyFast,
		MaxTokens: 8000, Available: true,
		Capabilities: map[Capability]int{CapCoding: 6},
	}
}

func TestScoringEngine_CodingProfilePrefersHigherCapabilityModel(t *testing.T) {
	e := NewScoringEngine()
	profile := TaskCapabilityProfile{
		RequiredCapabilities: map[Capability]float64{CapCoding: 0.9},
		MinCapabilityScore:   5,
		MaxCostTier:          CostHigh,
		ContextLengthNeeded:  4000,
	}
	a := gpt4Turbo()
	b := localFast()

	scores := e.ScoreModels([]ModelDescriptor{a, b}, profile)
	byName := map[string]ModelScore{}
	for _, s := range scores {
		byName[s.ModelName] = s
	}

	if byName["A"].CapabilityScore <= byName["B"].CapabilityScore {
		t.Errorf("expected A's capability score to exceed B's, got A=%.2f B=%.2f",
			byName["A"].CapabilityScore, byName["B"].CapabilityScore)
	}
}

func TestScoringEngine_DisqualifiesUnavailableModel(t *testing.T) {
	e := NewScoringEngine()
	m := gpt4Turbo()
	m.Available = false
	s := e.scoreModel(m, TaskCapabilityProfile{MaxCostTier: CostHigh})
	if s.MeetsRequirements {
		t.Error("unavailable model should never meet requirements")
	}
	if s.DisqualifiedReason == "" {
		t.Error("expected a disqualification reason")
	}
}

func TestScoringEngine_DisqualifiesOnLocalRequirement(t *testing.T) {
	e := NewScoringEngine()
	m := gpt4Turbo() // openai, not local
	s := e.scoreModel(m, TaskCapabilityProfile{RequiresLocal: true, MaxCostTier: CostHigh})
	if s.MeetsRequirements {
		t.Error("non-local model should be disqualified when RequiresLocal is set")
	}
}

func TestScoringEngine_DisqualifiesOnInsufficientContext(t *testing.T) {
	e := NewScoringEngine()
	m := localFast() // 8000 max tokens
	s := e.scoreModel(m, TaskCapabilityProfile{ContextLengthNeeded: 16000, MaxCostTier: CostHigh})
	if s.MeetsRequirements {
		t.Error("model with insufficient context window should be disqualified")
	}
}

func TestScoringEngine_DisqualifiesOnCostTierExceeded(t *testing.T) {
	e := NewScoringEngine()
	m := gpt4Turbo() // high cost
	s := e.scoreModel(m, TaskCapabilityProfile{MaxCostTier: CostLow, ContextLengthNeeded: 4000})
	if s.MeetsRequirements {
		t.Error("model exceeding the profile's max cost tier should be disqualified")
	}
}

func TestScoringEngine_MeetsRequirementsThreshold(t *testing.T) {
	e := NewScoringEngine()
	m := localFast()
	profile := TaskCapabilityProfile{
		RequiredCapabilities: map[Capability]float64{CapCoding: 1.0},
		MinCapabilityScore:   6,
		MaxCostTier:          CostHigh,
		ContextLengthNeeded:  4000,
	}
	s := e.scoreModel(m, profile)
	if !s.MeetsRequirements {
		t.Errorf("capability score %.1f should meet min score 6", s.CapabilityScore)
	}

	profile.MinCapabilityScore = 7
	s = e.scoreModel(m, profile)
	if s.MeetsRequirements {
		t.Errorf("capability score %.1f should not meet min score 7", s.CapabilityScore)
	}
}

func TestScoringEngine_EmptyRequirementsUsesMeanOfFiveCapabilities(t *testing.T) {
	e := NewScoringEngine()
	m := ModelDescriptor{
		Name: "C", Vendor: VendorOpenAI, CostTier: CostLow, LatencyTier: LatencyFast,
		MaxTokens: 8000, Available: true,
		Capabilities: map[Capability]int{
			CapReasoning: 10, CapCoding: 10, CapSummarization: 10, CapPlanning: 10, CapStructuredOutput: 10,
		},
	}
	score := e.capabilityScore(m, TaskCapabilityProfile{})
	if score != 10 {
		t.Errorf("expected mean of all-10s = 10, got %v", score)
	}
}

func TestScoringEngine_MissingCapabilityDefaultsToFive(t *testing.T) {
	e := NewScoringEngine()
	m := ModelDescriptor{Name: "D", Vendor: VendorOpenAI, CostTier: CostLow, LatencyTier: LatencyFast, MaxTokens: 8000, Available: true}
	score := e.capabilityScore(m, TaskCapabilityProfile{RequiredCapabilities: map[Capability]float64{CapMultimodal: 1.0}})
	if score != 5 {
		t.Errorf("expected default capability score 5, got %v", score)
	}
}

func TestScoringEngine_LoadWeightsRejectsInvalidSum(t *testing.T) {
	e := NewScoringEngine()
	original := e.weights
	var logged string
	e.LoadWeights(ScoringWeights{Capability: 0.9, Cost: 0.9}, func(f string, a ...any) { logged = f })
	if e.weights != original {
		t.Error("LoadWeights should reject a weight table that does not sum to 1")
	}
	if logged == "" {
		t.Error("expected a log message on rejected weights")
	}
}

func TestScoringEngine_LoadWeightsAcceptsValidSum(t *testing.T) {
	e := NewScoringEngine()
	w := ScoringWeights{Capability: 0.5, Cost: 0.2, Speed: 0.2, Reliability: 0.1}
	e.LoadWeights(w, nil)
	if e.weights != w {
		t.Error("LoadWeights should accept a weight table that sums to 1")
	}
}

func TestScoringEngine_ReliabilityFallsBackForUnknownVendor(t *testing.T) {
	e := NewScoringEngine()
	if e.reliabilityScore(Vendor("some-new-vendor")) != reliabilityFallback {
		t.Error("expected unknown-vendor reliability to fall back to the default")
	}
}

func TestScoringEngine_OrderingIsMeetsRequirementsThenTotalDescending(t *testing.T) {
	scores := []ModelScore{
		{ModelName: "low-total-meets", MeetsRequirements: true, TotalScore: 1},
		{ModelName: "disqualified-high-total", MeetsRequirements: false, TotalScore: 100},
		{ModelName: "high-total-meets", MeetsRequirements: true, TotalScore: 9},
	}
	e := NewScoringEngine()
	_ = e // ScoreLess is a free function; exercised via sort semantics directly
	if !ScoreLess(scores[2], scores[0]) {
		t.Error("a higher-total qualifying score should sort before a lower-total qualifying score")
	}
	if !ScoreLess(scores[0], scores[1]) {
		t.Error("any qualifying score should sort before a disqualified score regardless of total")
	}
}
