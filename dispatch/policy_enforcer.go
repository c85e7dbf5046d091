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
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RestrictedPattern maps a content pattern to the set of vendors permitted
// when it matches (§4.4 pass 1).
type RestrictedPattern struct {
	Pattern           *regexp.Regexp
	AllowedVendors    map[Vendor]bool
	Reason            string
}

// policiesConfig is the shape of the YAML policy-table source (§6).
type policiesConfig struct {
	Policies struct {
		PreferLocal             bool    `yaml:"prefer_local"`
		LocalCapabilityThreshold int    `yaml:"local_capability_threshold"`
		FallbackEnabled         bool    `yaml:"fallback_enabled"`
		MaxRetries              int     `yaml:"max_retries"`
		Weights                 struct {
			CapabilityMatch float64 `yaml:"capability_match"`
			Speed           float64 `yaml:"speed"`
			CostEfficiency  float64 `yaml:"cost_efficiency"`
			Reliability     float64 `yaml:"reliability"`
		} `yaml:"weights"`
	} `yaml:"policies"`
	RestrictedPatterns []struct {
		Pattern          string   `yaml:"pattern"`
		AllowedProviders []string `yaml:"allowed_providers"`
		Reason           string   `yaml:"reason"`
	} `yaml:"restricted_patterns"`
	ProviderPriority []string           `yaml:"provider_priority"`
	CostLevels       map[string]float64 `yaml:"cost_levels"`
	RoleCapabilities map[string]struct {
		Required []string `yaml:"required"`
		Preferred []string `yaml:"preferred"`
		MinScore  int      `yaml:"min_score"`
	} `yaml:"role_capabilities"`
}

// PolicyEnforcer applies content restrictions, local preference, and
// provider-priority tie-breaking to a scored candidate list.
type PolicyEnforcer struct {
	restrictedPatterns      []RestrictedPattern
	preferLocal             bool
	localCapabilityThreshold float64
	providerPriority        []Vendor
	fallbackEnabled         bool
	maxRetries              int
	costPer1KUSD            map[CostTier]float64
}

// NewPolicyEnforcer builds a PolicyEnforcer with the built-in defaults
// mirrored from the original source: prefer_local=true, fallback_enabled=
// true, provider_priority=[ollama, openai, anthropic].
func NewPolicyEnforcer() *PolicyEnforcer {
	return &PolicyEnforcer{
		preferLocal:              true,
		localCapabilityThreshold: 6,
		providerPriority:         []Vendor{VendorOllama, VendorOpenAI, VendorAnthropic},
		fallbackEnabled:          true,
		maxRetries:               2,
		costPer1KUSD: map[CostTier]float64{
			CostFree: 0, CostLow: 0.002, CostMedium: 0.01, CostHigh: 0.03,
		},
	}
}

// LoadRestrictedPatterns replaces the content-restriction table.
func (p *PolicyEnforcer) LoadRestrictedPatterns(patterns []RestrictedPattern) {
	p.restrictedPatterns = patterns
}

// LoadProviderPriority replaces the provider-priority list.
func (p *PolicyEnforcer) LoadProviderPriority(vendors []Vendor) {
	p.providerPriority = vendors
}

// FallbackEnabled reports whether ordered fallback across alternatives is
// permitted.
func (p *PolicyEnforcer) FallbackEnabled() bool { return p.fallbackEnabled }

// MaxRetries returns the configured maximum retry count.
func (p *PolicyEnforcer) MaxRetries() int { return p.maxRetries }

// CostEstimateUSD estimates a USD cost for observability only (§4.4's
// "exposes... a USD-cost-per-1k table for observability").
func (p *PolicyEnforcer) CostEstimateUSD(tier CostTier, tokens int) float64 {
	rate, ok := p.costPer1KUSD[tier]
	if !ok {
		rate = 0.01
	}
	return (float64(tokens) / 1000) * rate
}

// FilterByPolicy applies the three ordered passes from §4.4 to scores,
// given the candidate model descriptors (for vendor/capability lookups) and
// the original user input (for restriction matching). The result is always
// a permutation of a subset of the input (§8's universal invariant).
func (p *PolicyEnforcer) FilterByPolicy(scores []ModelScore, models map[string]ModelDescriptor, userInput string) []ModelScore {
	filtered := append([]ModelScore(nil), scores...)

	if allowed := p.checkRestrictions(userInput); allowed != nil {
		next := filtered[:0:0]
		for _, s := range filtered {
			if allowed[s.Vendor] {
				next = append(next, s)
			}
		}
		filtered = next
	}

	if p.preferLocal {
		filtered = p.applyLocalPreference(filtered, models)
	}

	if len(p.providerPriority) > 0 {
		filtered = p.applyProviderPriority(filtered)
	}

	return filtered
}

// LoadPoliciesFromYAML reads the policy-table configuration source (§6) and
// wires its sections across the PolicyEnforcer, the ScoringEngine's
// weights, and the CapabilityExtractor's role table in one pass, since all
// three are sourced from the same YAML document. Either of scorer/extractor
// may be nil to skip that section. On any read/parse error it logs via logf
// and leaves every table at its current values (ConfigError per §7).
func (p *PolicyEnforcer) LoadPoliciesFromYAML(path string, scorer *ScoringEngine, extractor *CapabilityExtractor, logf func(string, ...any)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if logf != nil {
			logf("policy config not found at %s, keeping current policies: %v", path, err)
		}
		return err
	}

	var cfg policiesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if logf != nil {
			logf("failed to parse policy config %s, keeping current policies: %v", path, err)
		}
		return err
	}

	p.preferLocal = cfg.Policies.PreferLocal
	if cfg.Policies.LocalCapabilityThreshold > 0 {
		p.localCapabilityThreshold = float64(cfg.Policies.LocalCapabilityThreshold)
	}
	p.fallbackEnabled = cfg.Policies.FallbackEnabled
	if cfg.Policies.MaxRetries > 0 {
		p.maxRetries = cfg.Policies.MaxRetries
	}

	if len(cfg.RestrictedPatterns) > 0 {
		patterns := make([]RestrictedPattern, 0, len(cfg.RestrictedPatterns))
		for _, rp := range cfg.RestrictedPatterns {
			re, err := regexp.Compile(rp.Pattern)
			if err != nil {
				if logf != nil {
					logf("skipping invalid restricted pattern %q: %v", rp.Pattern, err)
				}
				continue
			}
			allowed := make(map[Vendor]bool, len(rp.AllowedProviders))
			for _, v := range rp.AllowedProviders {
				allowed[Vendor(v)] = true
			}
			patterns = append(patterns, RestrictedPattern{Pattern: re, AllowedVendors: allowed, Reason: rp.Reason})
		}
		p.LoadRestrictedPatterns(patterns)
	}

	if len(cfg.ProviderPriority) > 0 {
		priority := make([]Vendor, len(cfg.ProviderPriority))
		for i, v := range cfg.ProviderPriority {
			priority[i] = Vendor(v)
		}
		p.LoadProviderPriority(priority)
	}

	if len(cfg.CostLevels) > 0 {
		rates := make(map[CostTier]float64, len(cfg.CostLevels))
		for tier, usd := range cfg.CostLevels {
			rates[CostTier(tier)] = usd
		}
		p.costPer1KUSD = rates
	}

	if scorer != nil {
		w := cfg.Policies.Weights
		if w.CapabilityMatch > 0 || w.Speed > 0 || w.CostEfficiency > 0 || w.Reliability > 0 {
			scorer.LoadWeights(ScoringWeights{
				Capability:  w.CapabilityMatch,
				Speed:       w.Speed,
				Cost:        w.CostEfficiency,
				Reliability: w.Reliability,
			}, logf)
		}
	}

	if extractor != nil && len(cfg.RoleCapabilities) > 0 {
		roles := make(map[string]RoleRequirement, len(cfg.RoleCapabilities))
		for name, r := range cfg.RoleCapabilities {
			req := RoleRequirement{
				Required:  make(map[Capability]float64, len(r.Required)),
				Preferred: make(map[Capability]float64, len(r.Preferred)),
				MinScore:  r.MinScore,
			}
			for _, c := range r.Required {
				req.Required[Capability(c)] = 0.8
			}
			for _, c := range r.Preferred {
				req.Preferred[Capability(c)] = 0.5
			}
			roles[name] = req
		}
		extractor.LoadRoleTable(roles)
	}

	return nil
}

func (p *PolicyEnforcer) checkRestrictions(userInput string) map[Vendor]bool {
	lower := strings.ToLower(userInput)
	for _, r := range p.restrictedPatterns {
		if r.Pattern.MatchString(lower) {
			return r.AllowedVendors
		}
	}
	return nil
}

func (p *PolicyEnforcer) applyLocalPreference(scores []ModelScore, models map[string]ModelDescriptor) []ModelScore {
	result := make([]ModelScore, len(scores))
	copy(result, scores)
	for i, s := range result {
		m, ok := models[s.ModelName]
		if !ok || !m.Vendor.IsLocal() {
			continue
		}
		if s.CapabilityScore >= p.localCapabilityThreshold {
			result[i].TotalScore += 0.5
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return ScoreLess(result[i], result[j])
	})
	return result
}

func (p *PolicyEnforcer) applyProviderPriority(scores []ModelScore) []ModelScore {
	index := make(map[Vendor]int, len(p.providerPriority))
	for i, v := range p.providerPriority {
		index[v] = i
	}
	result := make([]ModelScore, len(scores))
	copy(result, scores)
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.MeetsRequirements != b.MeetsRequirements {
			return a.MeetsRequirements && !b.MeetsRequirements
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		pa, oka := index[a.Vendor]
		pb, okb := index[b.Vendor]
		if !oka {
			pa = 999
		}
		if !okb {
			pb = 999
		}
		return pa < pb
	})
	return result
}
