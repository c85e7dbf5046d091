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
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNoCandidates is returned when policy filtering eliminates every scored
// model and no registry default exists to substitute (§4.5's "no viable
// model" terminal case).
var ErrNoCandidates = errors.New("dispatch: no model satisfies the request")

// ErrAllCandidatesFailed is returned when every attempted candidate (best
// plus alternatives) failed, exhausting the fallback chain.
var ErrAllCandidatesFailed = errors.New("dispatch: all candidate models failed")

const maxAlternatives = 4

// guidelineStanza is the fixed behavioral-guidelines block appended to every
// constructed system prompt, ported from the original selector's static
// instruction block.
const guidelineStanza = "Follow the user's instructions precisely. Be concise unless asked for detail. " +
	"Do not fabricate facts; say so when uncertain. Respect any tool or data boundaries described above."

// Dispatcher ties the registry, extractor, scoring engine, and policy
// enforcer together with fault-tolerant execution across provider adapters
// (§4.5).
type Dispatcher struct {
	registry   *Registry
	extractor  *CapabilityExtractor
	scorer     *ScoringEngine
	policy     *PolicyEnforcer
	adapters   *AdapterRegistry
	breakers   *BreakerRegistry
	metrics    MetricsSink
	logf       func(format string, args ...any)
}

// MetricsSink records a DispatchResult for later aggregation (§4.17).
// Implemented by the Postgres-backed sink; nil-safe no-op otherwise.
type MetricsSink interface {
	Record(ctx context.Context, result DispatchResult)
}

// noopMetricsSink discards everything; used when no sink is wired.
type noopMetricsSink struct{}

func (noopMetricsSink) Record(context.Context, DispatchResult) {}

// NewDispatcher wires a Dispatcher from its component parts. Pass a nil
// MetricsSink to disable recording.
func NewDispatcher(registry *Registry, extractor *CapabilityExtractor, scorer *ScoringEngine, policy *PolicyEnforcer, adapters *AdapterRegistry, metrics MetricsSink, logf func(string, ...any)) *Dispatcher {
	if metrics == nil {
		metrics = noopMetricsSink{}
	}
	return &Dispatcher{
		registry:  registry,
		extractor: extractor,
		scorer:    scorer,
		policy:    policy,
		adapters:  adapters,
		breakers:  NewBreakerRegistry(),
		metrics:   metrics,
		logf:      logf,
	}
}

// candidate pairs a scored model with its descriptor for execution.
type candidate struct {
	score      ModelScore
	descriptor ModelDescriptor
}

// SelectModel runs extraction, scoring, and policy filtering and returns the
// ordered candidate list (best first). Exposed separately from Dispatch so
// callers needing only the ranking (e.g. a dry-run endpoint) can skip
// execution.
func (d *Dispatcher) SelectModel(userInput, agentRole string, contextLengthHint int) ([]ModelScore, TaskCapabilityProfile, error) {
	profile := d.extractor.Extract(userInput, agentRole, contextLengthHint)

	available := d.registry.Available()
	if len(available) == 0 {
		return nil, profile, ErrNoCandidates
	}

	scored := d.scorer.ScoreModels(available, profile)

	byName := make(map[string]ModelDescriptor, len(available))
	for _, m := range available {
		byName[m.Name] = m
	}
	filtered := d.policy.FilterByPolicy(scored, byName, userInput)

	if len(filtered) == 0 {
		return nil, profile, ErrNoCandidates
	}
	return filtered, profile, nil
}

// buildCandidates resolves scored models back into model+descriptor pairs,
// substituting the registry's vendor default (scored 0, reason
// "fallback-default") when the top choice fails to meet requirements, per
// §4.5's "never return zero candidates if any model is registered" rule.
func (d *Dispatcher) buildCandidates(scores []ModelScore) []candidate {
	out := make([]candidate, 0, maxAlternatives+1)
	for _, s := range scores {
		if len(out) > maxAlternatives {
			break
		}
		desc, ok := d.registry.Get(s.ModelName)
		if !ok {
			continue
		}
		out = append(out, candidate{score: s, descriptor: desc})
	}

	if len(out) == 0 || !out[0].score.MeetsRequirements {
		for _, vendor := range []Vendor{VendorOllama, VendorOpenAI, VendorAnthropic} {
			if name, ok := d.registry.DefaultFor(vendor); ok {
				if desc, ok := d.registry.Get(name); ok {
					fallback := candidate{
						score: ModelScore{
							ModelName:          desc.Name,
							Vendor:             desc.Vendor,
							DisqualifiedReason: "fallback-default",
							TotalScore:         0,
							MeetsRequirements:  true,
						},
						descriptor: desc,
					}
					out = append([]candidate{fallback}, out...)
					break
				}
			}
		}
	}
	return out
}

// BuildMessages constructs the message list sent to a provider: a system
// message (role prompt + fixed guideline stanza + memory bullets), the last
// ten history turns, and the current input as the final user message
// (§4.5, ported from the original selector's _build_messages/
// _build_system_prompt).
func BuildMessages(ctx AgentContext, userInput string) []ChatMessage {
	var sb strings.Builder
	if ctx.SystemPrompt != "" {
		sb.WriteString(ctx.SystemPrompt)
	} else {
		sb.WriteString(fmt.Sprintf("You are %s, acting as a %s.", ctx.DisplayName, ctx.RoleName))
	}
	sb.WriteString("\n\n")
	sb.WriteString(guidelineStanza)

	if len(ctx.Memories) > 0 {
		sb.WriteString("\n\nRelevant memories:\n")
		for _, m := range ctx.Memories {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}

	messages := make([]ChatMessage, 0, len(ctx.History)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: sb.String()})

	history := ctx.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, h := range history {
		messages = append(messages, ChatMessage{Role: h.SenderType, Content: h.Text})
	}

	messages = append(messages, ChatMessage{Role: RoleUser, Content: userInput})
	return messages
}

// selectionReason builds the short human-readable explanation carried on
// DispatchResult (SPEC_FULL §4.20's "selection-reason string").
func selectionReason(c candidate, profile TaskCapabilityProfile, candidateCount int) string {
	if c.score.DisqualifiedReason == "fallback-default" {
		return "no scored model met requirements; used configured vendor default"
	}
	if profile.RequiresLocal {
		return fmt.Sprintf("local-only routing required; selected %s (capability %.1f)", c.descriptor.Name, c.score.CapabilityScore)
	}
	matched := make([]string, 0, len(profile.RequiredCapabilities))
	for capability := range profile.RequiredCapabilities {
		if c.descriptor.Capabilities[capability] > 0 {
			matched = append(matched, string(capability))
		}
	}
	sort.Strings(matched)
	return fmt.Sprintf("best overall score %.2f among %d candidates (matched: %s; capability %.1f, cost tier %s)",
		c.score.TotalScore, candidateCount, strings.Join(matched, ", "), c.score.CapabilityScore, c.descriptor.CostTier)
}

// Dispatch selects a model and executes the generation request against it,
// falling back across ordered alternatives on transient failure (§4.5). ctx
// governs the whole attempt, including every per-candidate network call.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, agentCtx AgentContext, userInput string, contextLengthHint int) (DispatchResult, error) {
	scores, profile, err := d.SelectModel(userInput, agentCtx.RoleName, contextLengthHint)
	if err != nil && !errors.Is(err, ErrNoCandidates) {
		return DispatchResult{
			TaskID:    taskID,
			AgentID:   agentCtx.AgentID,
			Success:   false,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}, err
	}

	candidates := d.buildCandidates(scores)
	if len(candidates) == 0 {
		err := ErrNoCandidates
		result := DispatchResult{TaskID: taskID, AgentID: agentCtx.AgentID, Success: false, Error: err.Error(), Timestamp: time.Now()}
		d.metrics.Record(ctx, result)
		return result, err
	}

	messages := BuildMessages(agentCtx, userInput)

	alternatives := make([]string, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, c.descriptor.Name)
	}

	maxRetries := d.policy.MaxRetries()
	fallbackAllowed := d.policy.FallbackEnabled()

	var lastErr error
	for attempt, c := range candidates {
		if attempt > 0 && !fallbackAllowed {
			break
		}
		if attempt > maxRetries {
			break
		}

		adapter, ok := d.adapters.Get(c.descriptor.Vendor)
		if !ok || !adapter.IsAvailable() || !adapter.Supports(c.descriptor.Name) {
			lastErr = fmt.Errorf("dispatch: no available adapter for vendor %s", c.descriptor.Vendor)
			continue
		}
		if err := adapter.HealthCheck(ctx); err != nil {
			lastErr = fmt.Errorf("dispatch: health check failed for vendor %s: %w", c.descriptor.Vendor, err)
			if d.logf != nil {
				d.logf("skipping %s (%s): health check failed: %v", c.descriptor.Name, c.descriptor.Vendor, err)
			}
			continue
		}

		breaker := d.breakers.Get(string(c.descriptor.Vendor))
		if !breaker.CanExecute() {
			lastErr = &BreakerOpenError{Provider: string(c.descriptor.Vendor)}
			if d.logf != nil {
				d.logf("skipping %s (%s): circuit open", c.descriptor.Name, c.descriptor.Vendor)
			}
			continue
		}

		start := time.Now()
		genResult, genErr := adapter.Generate(ctx, c.descriptor.Name, messages)
		latency := time.Since(start)

		if genErr != nil {
			breaker.RecordFailure()
			lastErr = genErr
			if d.logf != nil {
				d.logf("model %s (%s) failed: %v", c.descriptor.Name, c.descriptor.Vendor, genErr)
			}
			continue
		}

		breaker.RecordSuccess()

		estimatedUSD := 0.0
		if c.descriptor.OutputPricing != nil {
			estimatedUSD = (float64(genResult.Usage.PromptTokens)/1000)*c.descriptor.InputPricing.USDPer1K +
				(float64(genResult.Usage.CompletionTokens)/1000)*c.descriptor.OutputPricing.USDPer1K
		} else {
			estimatedUSD = d.policy.CostEstimateUSD(c.descriptor.CostTier, genResult.Usage.TotalTokens)
		}

		result := DispatchResult{
			TaskID:                 taskID,
			AgentID:                agentCtx.AgentID,
			SelectedModel:          c.descriptor.Name,
			Vendor:                 c.descriptor.Vendor,
			AlternativesConsidered: alternatives,
			CapabilityScore:        c.score.CapabilityScore,
			TotalScore:             c.score.TotalScore,
			LatencyMS:              latency.Milliseconds(),
			Usage:                  genResult.Usage,
			EstimatedUSD:           estimatedUSD,
			FallbackUsed:           attempt > 0,
			SelectionReason:        selectionReason(c, profile, len(candidates)),
			Output:                 genResult.Text,
			Success:                true,
			Timestamp:              time.Now(),
		}
		if attempt > 0 {
			result.FallbackModel = c.descriptor.Name
		}
		d.metrics.Record(ctx, result)
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrAllCandidatesFailed
	}
	result := DispatchResult{
		TaskID:    taskID,
		AgentID:   agentCtx.AgentID,
		Success:   false,
		Error:     lastErr.Error(),
		Timestamp: time.Now(),
	}
	d.metrics.Record(ctx, result)
	return result, fmt.Errorf("%w: %v", ErrAllCandidatesFailed, lastErr)
}

// ProviderStatusBanner renders a one-line-per-vendor availability summary
// for the startup log (SPEC_FULL §4.20's "provider-status startup banner").
func (d *Dispatcher) ProviderStatusBanner(ctx context.Context) string {
	var sb strings.Builder
	for _, a := range d.adapters.All() {
		status := "unavailable"
		if a.IsAvailable() {
			if err := a.HealthCheck(ctx); err == nil {
				status = "ready"
			} else {
				status = "configured, unreachable"
			}
		}
		fmt.Fprintf(&sb, "%-16s %s\n", a.Vendor(), status)
	}
	return sb.String()
}
