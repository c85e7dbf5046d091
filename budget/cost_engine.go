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

// Package budget implements the credit economy: pre/post-execution cost
// estimation, the remote credit ledger client, the per-tenant rate limiter,
// and the anomaly detector.
package budget

import (
	"math"
	"strings"
	"sync"
)

// ModelPricing is per-1K-token pricing for one model, mirroring the
// teacher's cost.ModelPricing shape.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// defaultTierRates is the cost-tier fallback table used when a model has no
// explicit pricing entry, keyed by dispatch.CostTier string values so this
// package stays independent of the dispatch package.
var defaultTierRates = map[string]ModelPricing{
	"free":     {InputPer1K: 0, OutputPer1K: 0},
	"low":      {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"medium":   {InputPer1K: 0.003, OutputPer1K: 0.015},
	"high":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"*":        {InputPer1K: 0.003, OutputPer1K: 0.015},
}

const (
	// defaultEstimateInputTokens / defaultEstimateOutputTokens are the
	// assumed token counts used for pre-execution estimation (§4.7).
	defaultEstimateInputTokens  = 1000
	defaultEstimateOutputTokens = 500
)

// CostEngine converts token counts into credits, the way the teacher's
// cost.PricingConfig converts token counts into USD, wildcard-falling-back
// to a per-cost-tier rate when a model has no explicit pricing entry.
type CostEngine struct {
	mu       sync.RWMutex
	models   map[string]ModelPricing // keyed by "vendor/model"
	tierRate map[string]ModelPricing // keyed by cost tier
}

// NewCostEngine builds a CostEngine pre-seeded with the default tier rates.
func NewCostEngine() *CostEngine {
	tiers := make(map[string]ModelPricing, len(defaultTierRates))
	for k, v := range defaultTierRates {
		tiers[k] = v
	}
	return &CostEngine{
		models:   make(map[string]ModelPricing),
		tierRate: tiers,
	}
}

// SetModelPricing registers explicit per-model pricing, taking priority over
// the cost-tier fallback.
func (c *CostEngine) SetModelPricing(vendor, model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[modelKey(vendor, model)] = pricing
}

// SetTierRate overrides the fallback rate for a cost tier ("free", "low",
// "medium", "high").
func (c *CostEngine) SetTierRate(tier string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tierRate[strings.ToLower(tier)] = pricing
}

func modelKey(vendor, model string) string {
	return strings.ToLower(vendor) + "/" + strings.ToLower(model)
}

// rateFor resolves pricing for (vendor, model, costTier): explicit pricing
// first, then the cost-tier table, then the "*" catch-all.
func (c *CostEngine) rateFor(vendor, model, costTier string) ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.models[modelKey(vendor, model)]; ok {
		return p
	}
	if p, ok := c.tierRate[strings.ToLower(costTier)]; ok {
		return p
	}
	return c.tierRate["*"]
}

// creditsFor applies the rate to a token pair and converts to whole
// credits with the caller's round func (ceil for Estimate, nearest for
// Actual), with a floor of 1 credit for any non-free usage (§4.7).
func creditsFor(rate ModelPricing, isFree bool, tokensIn, tokensOut int, round func(float64) int) int {
	usd := float64(tokensIn)/1000.0*rate.InputPer1K + float64(tokensOut)/1000.0*rate.OutputPer1K
	credits := round(usd * creditsPerUSD)
	if !isFree && (tokensIn > 0 || tokensOut > 0) && credits < 1 {
		return 1
	}
	return credits
}

// creditsPerUSD fixes the credit:USD exchange rate. The spec treats
// "credits" as the ledger's unit of account; 100 credits per dollar keeps
// sub-cent costs from always flooring to zero before the explicit floor
// rule applies.
const creditsPerUSD = 100

// Estimate computes the pre-execution credit estimate for a model, using
// fixed default token counts (1000 in / 500 out) per §4.7.
func (c *CostEngine) Estimate(vendor, model, costTier string) int {
	rate := c.rateFor(vendor, model, costTier)
	isFree := strings.EqualFold(costTier, "free")
	return creditsFor(rate, isFree, defaultEstimateInputTokens, defaultEstimateOutputTokens, func(f float64) int {
		return int(math.Ceil(f))
	})
}

// Actual computes the post-execution credit charge from real token counts,
// rounding to the nearest credit rather than ceiling.
func (c *CostEngine) Actual(vendor, model, costTier string, promptTokens, completionTokens int) int {
	rate := c.rateFor(vendor, model, costTier)
	isFree := strings.EqualFold(costTier, "free")
	return creditsFor(rate, isFree, promptTokens, completionTokens, func(f float64) int {
		return int(math.Round(f))
	})
}

// EstimatedUSD converts an estimate or actual back to a dollar figure for
// display/metrics purposes (DispatchResult.EstimatedUSD).
func (c *CostEngine) EstimatedUSD(vendor, model, costTier string, promptTokens, completionTokens int) float64 {
	rate := c.rateFor(vendor, model, costTier)
	return float64(promptTokens)/1000.0*rate.InputPer1K + float64(completionTokens)/1000.0*rate.OutputPer1K
}
