// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"fmt"
	"sort"
)

// ScoringWeights are the configurable weights applied to the four
// sub-scores; must sum to 1 (§4.3).
type ScoringWeights struct {
	Capability  float64
	Speed       float64
	Cost        float64
	Reliability float64
}

// DefaultScoringWeights matches the spec's default weight table.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Capability: 0.40, Cost: 0.30, Speed: 0.20, Reliability: 0.10}
}

var speedScores = map[LatencyTier]float64{
	LatencyFast:   10,
	LatencyMedium: 6,
	LatencySlow:   3,
}

var costScores = map[CostTier]float64{
	CostFree:   10,
	CostLow:    8,
	CostMedium: 5,
	CostHigh:   2,
}

// defaultReliabilityByVendor mirrors the original's provider reputation
// table; "unknown" vendors default to 5.0 (reliabilityFallback).
var defaultReliabilityByVendor = map[Vendor]float64{
	VendorOpenAI:    9.0,
	VendorAnthropic: 9.0,
	VendorBedrock:   8.0,
	VendorGemini:    8.0,
	VendorAzure:     8.5,
	VendorOllama:    6.0,
	VendorLocal:     6.0,
}

const reliabilityFallback = 5.0

// ScoringEngine produces per-model suitability scores. Stateless aside from
// its weight table, which is loaded once at startup.
type ScoringEngine struct {
	weights      ScoringWeights
	reliability  map[Vendor]float64
}

// NewScoringEngine builds a ScoringEngine with default weights and
// reliability table.
func NewScoringEngine() *ScoringEngine {
	return &ScoringEngine{
		weights:     DefaultScoringWeights(),
		reliability: defaultReliabilityByVendor,
	}
}

// LoadWeights replaces the weight table (full-swap, §6). Validates the
// weights sum to ~1 and rejects the load otherwise, logging via logf.
func (e *ScoringEngine) LoadWeights(w ScoringWeights, logf func(string, ...any)) {
	sum := w.Capability + w.Speed + w.Cost + w.Reliability
	if sum < 0.99 || sum > 1.01 {
		if logf != nil {
			logf("scoring weights sum to %.3f, expected 1.0; keeping previous weights", sum)
		}
		return
	}
	e.weights = w
}

// LoadReliabilityTable replaces the vendor reliability table.
func (e *ScoringEngine) LoadReliabilityTable(t map[Vendor]float64) {
	if len(t) == 0 {
		return
	}
	e.reliability = t
}

// ScoreModels scores every candidate against profile, returning the list
// ordered by (meets_requirements, total) descending.
func (e *ScoringEngine) ScoreModels(models []ModelDescriptor, profile TaskCapabilityProfile) []ModelScore {
	scores := make([]ModelScore, 0, len(models))
	for _, m := range models {
		scores = append(scores, e.scoreModel(m, profile))
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return ScoreLess(scores[i], scores[j])
	})
	return scores
}

func (e *ScoringEngine) scoreModel(m ModelDescriptor, profile TaskCapabilityProfile) ModelScore {
	if reason := e.disqualify(m, profile); reason != "" {
		return ModelScore{
			ModelName:          m.Name,
			Vendor:             m.Vendor,
			DisqualifiedReason: reason,
			MeetsRequirements:  false,
		}
	}

	capability := e.capabilityScore(m, profile)
	speed := speedScores[m.LatencyTier]
	cost := costScores[m.CostTier]
	reliability := e.reliabilityScore(m.Vendor)

	total := capability*e.weights.Capability +
		speed*e.weights.Speed +
		cost*e.weights.Cost +
		reliability*e.weights.Reliability

	return ModelScore{
		ModelName:         m.Name,
		Vendor:            m.Vendor,
		CapabilityScore:   capability,
		SpeedScore:        speed,
		CostScore:         cost,
		ReliabilityScore:  reliability,
		TotalScore:        total,
		MeetsRequirements: capability >= float64(profile.MinCapabilityScore),
	}
}

// disqualify implements §4.3's short-circuit disqualification rules.
func (e *ScoringEngine) disqualify(m ModelDescriptor, profile TaskCapabilityProfile) string {
	if !m.Available {
		return "model is not available"
	}
	if profile.RequiresLocal && !m.Vendor.IsLocal() {
		return "task requires local model for sensitive content"
	}
	if m.MaxTokens < profile.ContextLengthNeeded {
		return fmt.Sprintf("insufficient context length (%d < %d)", m.MaxTokens, profile.ContextLengthNeeded)
	}
	if m.CostTier.Exceeds(profile.MaxCostTier) {
		return fmt.Sprintf("cost tier %s exceeds maximum %s", m.CostTier, profile.MaxCostTier)
	}
	return ""
}

var meanCapabilities = []Capability{CapReasoning, CapCoding, CapSummarization, CapPlanning, CapStructuredOutput}

func (e *ScoringEngine) capabilityScore(m ModelDescriptor, profile TaskCapabilityProfile) float64 {
	if len(profile.RequiredCapabilities) == 0 {
		sum := 0
		for _, cap := range meanCapabilities {
			sum += m.CapabilityOrDefault(cap)
		}
		return float64(sum) / float64(len(meanCapabilities))
	}

	var totalWeighted, totalWeight float64
	for cap, weight := range profile.RequiredCapabilities {
		totalWeighted += float64(m.CapabilityOrDefault(cap)) * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 5.0
	}
	return totalWeighted / totalWeight
}

func (e *ScoringEngine) reliabilityScore(vendor Vendor) float64 {
	if v, ok := e.reliability[vendor]; ok {
		return v
	}
	return reliabilityFallback
}
