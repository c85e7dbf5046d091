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
	"regexp"
	"strings"
)

// capabilityPattern is one regex pattern contributing to a capability's
// match count.
type capabilityPattern struct {
	capability Capability
	re         *regexp.Regexp
}

// defaultCapabilityPatterns is the fixed table of capability -> regex
// patterns applied to lowercased free text. Deliberately configuration, not
// code, per the spec's own framing; kept as Go literals here because no
// config source overrides it by default.
var defaultCapabilityPatterns = []capabilityPattern{
	{CapCoding, regexp.MustCompile(`\b(code|coding|program|function|class|debug|implement|refactor)\b`)},
	{CapCoding, regexp.MustCompile(`\b(python|javascript|java|go|rust|typescript|sql|api)\b`)},
	{CapCoding, regexp.MustCompile(`\b(bug|error|fix|compile|syntax|algorithm)\b`)},
	{CapReasoning, regexp.MustCompile(`\b(analyze|think|reason|explain|understand|evaluate)\b`)},
	{CapReasoning, regexp.MustCompile(`\b(why|how|compare|contrast|assess|deduce)\b`)},
	{CapReasoning, regexp.MustCompile(`\b(logic|inference|conclusion|hypothesis)\b`)},
	{CapSummarization, regexp.MustCompile(`\b(summarize|summary|brief|overview|tldr|recap)\b`)},
	{CapSummarization, regexp.MustCompile(`\b(condense|shorten|highlight|key.?points)\b`)},
	{CapPlanning, regexp.MustCompile(`\b(plan|schedule|organize|coordinate|roadmap|timeline)\b`)},
	{CapPlanning, regexp.MustCompile(`\b(project|milestone|task|deadline|priority)\b`)},
	{CapPlanning, regexp.MustCompile(`\b(strategy|approach|steps|phases)\b`)},
	{CapLongContext, regexp.MustCompile(`\b(document|report|article|paper|book|chapter)\b`)},
	{CapLongContext, regexp.MustCompile(`\b(entire|full|complete|whole|all.?of)\b`)},
	{CapStructuredOutput, regexp.MustCompile(`\b(json|yaml|xml|csv|table|list|format)\b`)},
	{CapStructuredOutput, regexp.MustCompile(`\b(structured|formatted|organized|template)\b`)},
	{CapStructuredOutput, regexp.MustCompile(`\b(schema|fields|columns|rows)\b`)},
	{CapMultimodal, regexp.MustCompile(`\b(image|photo|picture|diagram|chart|graph)\b`)},
	{CapMultimodal, regexp.MustCompile(`\b(visual|see|look|show|display)\b`)},
	{CapWebSearch, regexp.MustCompile(`\b(search|find|lookup|latest|current|recent)\b`)},
	{CapWebSearch, regexp.MustCompile(`\b(news|today|now|updated)\b`)},
}

// sensitivePatterns flags input that should force local-only routing.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(confidential|secret|private|password|credential)\b`),
	regexp.MustCompile(`\b(internal|proprietary|trade.?secret)\b`),
	regexp.MustCompile(`\bapi.?key\b`),
	regexp.MustCompile(`\baccess.?token\b`),
	regexp.MustCompile(`\bbearer\b`),
}

// RoleRequirement describes a named agent role's capability expectations.
type RoleRequirement struct {
	Required map[Capability]float64
	Preferred map[Capability]float64
	MinScore  int
}

// defaultRoleTable mirrors the built-in role -> capability mapping; callers
// may override via LoadRoleTable from the policies YAML source (§6).
var defaultRoleTable = map[string]RoleRequirement{
	"Engineer": {
		Required:  map[Capability]float64{CapCoding: 0.9, CapReasoning: 0.7},
		Preferred: map[Capability]float64{CapStructuredOutput: 0.5},
		MinScore:  7,
	},
	"Analyst": {
		Required:  map[Capability]float64{CapReasoning: 0.8, CapSummarization: 0.7},
		Preferred: map[Capability]float64{CapLongContext: 0.5},
		MinScore:  6,
	},
	"Writer": {
		Required:  map[Capability]float64{CapSummarization: 0.8},
		Preferred: map[Capability]float64{CapLongContext: 0.4},
		MinScore:  5,
	},
	"Planner": {
		Required:  map[Capability]float64{CapPlanning: 0.8, CapReasoning: 0.6},
		Preferred: map[Capability]float64{CapStructuredOutput: 0.5},
		MinScore:  6,
	},
}

// CapabilityExtractor maps free text + role into a TaskCapabilityProfile.
// Pure and deterministic: same inputs and static tables always yield the
// same profile (§8's "capability extraction is pure" property).
type CapabilityExtractor struct {
	patterns []capabilityPattern
	roles    map[string]RoleRequirement
}

// NewCapabilityExtractor builds an extractor over the built-in tables.
func NewCapabilityExtractor() *CapabilityExtractor {
	return &CapabilityExtractor{
		patterns: defaultCapabilityPatterns,
		roles:    defaultRoleTable,
	}
}

// LoadRoleTable replaces the role table wholesale (full-swap reload per
// §6's "hot-swap-safe by full replacement").
func (c *CapabilityExtractor) LoadRoleTable(roles map[string]RoleRequirement) {
	if len(roles) == 0 {
		return
	}
	c.roles = roles
}

// Extract builds a TaskCapabilityProfile from free text, an optional agent
// role, and an optional context-length hint.
func (c *CapabilityExtractor) Extract(userInput, agentRole string, contextLengthHint int) TaskCapabilityProfile {
	caps := c.extractFromText(userInput)

	minScore := 5
	if role, ok := c.roles[agentRole]; ok {
		for cap, weight := range role.Required {
			if existing, has := caps[cap]; !has || weight > existing {
				caps[cap] = weight
			}
		}
		for cap, weight := range role.Preferred {
			if _, has := caps[cap]; !has {
				caps[cap] = weight
			}
		}
		minScore = role.MinScore
	}

	contextLength := contextLengthHint
	if contextLength < 4000 {
		contextLength = 4000
	}
	requiresLongContext := contextLengthHint > 8000 || caps[CapLongContext] > 0.5

	return TaskCapabilityProfile{
		RequiredCapabilities: caps,
		MinCapabilityScore:   minScore,
		MaxCostTier:          CostHigh,
		RequiresLocal:        c.isSensitive(userInput),
		RequiresLongContext:  requiresLongContext,
		ContextLengthNeeded:  contextLength,
		AgentRole:            agentRole,
	}
}

func (c *CapabilityExtractor) extractFromText(text string) map[Capability]float64 {
	lower := strings.ToLower(text)
	counts := make(map[Capability]int)
	for _, p := range c.patterns {
		counts[p.capability] += len(p.re.FindAllString(lower, -1))
	}

	caps := make(map[Capability]float64)
	for cap, n := range counts {
		if n == 0 {
			continue
		}
		weight := 0.3 + 0.2*float64(n)
		if weight > 1.0 {
			weight = 1.0
		}
		caps[cap] = weight
	}
	return caps
}

func (c *CapabilityExtractor) isSensitive(text string) bool {
	lower := strings.ToLower(text)
	for _, re := range sensitivePatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// EstimateContextLength approximates the token budget an agent context will
// need: roughly len/4 for the system prompt, history, and memories, plus a
// fixed buffer, per the original selector's _estimate_context_length.
func EstimateContextLength(ctx AgentContext) int {
	length := len(ctx.SystemPrompt) / 4
	history := ctx.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, msg := range history {
		length += len(msg.Text) / 4
	}
	for _, mem := range ctx.Memories {
		length += len(mem) / 4
	}
	return length + 500
}
