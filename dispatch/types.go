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

// Package dispatch implements model selection and fault-tolerant dispatch:
// capability extraction, scoring, policy enforcement, and execution with
// ordered fallback across provider adapters.
package dispatch

import "time"

// Vendor identifies an LLM backend vendor.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorBedrock   Vendor = "bedrock"
	VendorOllama    Vendor = "ollama"
	VendorGemini    Vendor = "gemini"
	VendorAzure     Vendor = "azure-openai"
	VendorLocal     Vendor = "local"
)

// IsLocal reports whether the vendor runs inference on-premises.
func (v Vendor) IsLocal() bool {
	return v == VendorOllama || v == VendorLocal
}

// CostTier is an ordinal cost classification.
type CostTier string

const (
	CostFree   CostTier = "free"
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

var costTierOrder = map[CostTier]int{
	CostFree:   0,
	CostLow:    1,
	CostMedium: 2,
	CostHigh:   3,
}

// Exceeds reports whether tier strictly exceeds max.
func (t CostTier) Exceeds(max CostTier) bool {
	return costTierOrder[t] > costTierOrder[max]
}

// LatencyTier is an ordinal latency classification.
type LatencyTier string

const (
	LatencyFast   LatencyTier = "fast"
	LatencyMedium LatencyTier = "medium"
	LatencySlow   LatencyTier = "slow"
)

// Capability is a named model capability scored 0-10.
type Capability string

const (
	CapReasoning        Capability = "reasoning"
	CapCoding           Capability = "coding"
	CapLongContext      Capability = "long_context"
	CapSummarization    Capability = "summarization"
	CapPlanning         Capability = "planning"
	CapStructuredOutput Capability = "structured_output"
	CapMultimodal       Capability = "multimodal"
	CapSpeed            Capability = "speed"
	CapWebSearch        Capability = "web_search"
	CapRealTimeData     Capability = "real_time_data"
)

// PricingPair is a credits-per-1k and USD-per-1k pair for input or output
// tokens.
type PricingPair struct {
	CreditsPer1K float64
	USDPer1K     float64
}

// ModelDescriptor is an immutable description of a registered model.
type ModelDescriptor struct {
	Name             string                `yaml:"name" json:"name"`
	Vendor           Vendor                `yaml:"vendor" json:"vendor"`
	CostTier         CostTier              `yaml:"cost_tier" json:"cost_tier"`
	LatencyTier      LatencyTier           `yaml:"latency_tier" json:"latency_tier"`
	MaxTokens        int                   `yaml:"max_tokens" json:"max_tokens"`
	Available        bool                  `yaml:"available" json:"available"`
	Capabilities     map[Capability]int    `yaml:"capabilities" json:"capabilities"`
	InputPricing     *PricingPair          `yaml:"input_pricing,omitempty" json:"input_pricing,omitempty"`
	OutputPricing    *PricingPair          `yaml:"output_pricing,omitempty" json:"output_pricing,omitempty"`
}

// CapabilityOrDefault returns the model's score for cap, defaulting to 5 if
// the model does not declare it (per §4.3's scoring rule).
func (m ModelDescriptor) CapabilityOrDefault(cap Capability) int {
	if v, ok := m.Capabilities[cap]; ok {
		return v
	}
	return 5
}

// TaskCapabilityProfile is the Capability Extractor's output.
type TaskCapabilityProfile struct {
	RequiredCapabilities map[Capability]float64
	MinCapabilityScore   int
	MaxCostTier          CostTier
	RequiresLocal         bool
	RequiresLongContext   bool
	ContextLengthNeeded   int
	AgentRole             string
}

// ModelScore is the Scoring Engine's per-model output.
type ModelScore struct {
	ModelName           string
	Vendor              Vendor
	DisqualifiedReason  string
	CapabilityScore     float64
	SpeedScore          float64
	CostScore           float64
	ReliabilityScore    float64
	TotalScore          float64
	MeetsRequirements   bool
}

// ScoreLess implements the ordering key (meets_requirements, total) descending,
// i.e. reports whether a should sort before b.
func ScoreLess(a, b ModelScore) bool {
	if a.MeetsRequirements != b.MeetsRequirements {
		return a.MeetsRequirements && !b.MeetsRequirements
	}
	return a.TotalScore > b.TotalScore
}

// HistoryRole is the sender role of a history message.
type HistoryRole string

const (
	RoleUser      HistoryRole = "user"
	RoleAssistant HistoryRole = "assistant"
	RoleSystem    HistoryRole = "system"
)

// HistoryMessage is a single prior conversation turn.
type HistoryMessage struct {
	SenderType HistoryRole
	Text       string
}

// AgentContext carries everything needed to build a generation request for
// one agent.
type AgentContext struct {
	AgentID      string
	DisplayName  string
	RoleName     string
	SystemPrompt string
	History      []HistoryMessage // most recent last, capped to 10 by caller
	Memories     []string
}

// ChatMessage is a role/content pair sent to a provider adapter.
type ChatMessage struct {
	Role    HistoryRole
	Content string
}

// TokenUsage is the three-integer usage triple every adapter must report
// (zeros if the vendor does not report them).
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateResult is a provider adapter's successful output.
type GenerateResult struct {
	Text  string
	Usage TokenUsage
}

// DispatchResult is the Model Dispatcher's final output for a generation
// request.
type DispatchResult struct {
	TaskID              string
	AgentID             string
	SelectedModel        string
	Vendor               Vendor
	AlternativesConsidered []string
	CapabilityScore      float64
	TotalScore           float64
	LatencyMS            int64
	Usage                TokenUsage
	EstimatedUSD         float64
	FallbackUsed         bool
	FallbackModel        string
	SelectionReason      string
	Output               string
	Success              bool
	Error                string
	Timestamp            time.Time
}
