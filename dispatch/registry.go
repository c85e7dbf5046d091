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
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// modelConfigFile is the shape of the YAML model-descriptor source (§6:
// "model descriptors + vendor default-name map").
type modelConfigFile struct {
	Models []struct {
		Name         string             `yaml:"name"`
		Vendor       string             `yaml:"vendor"`
		CostTier     string             `yaml:"cost_tier"`
		LatencyTier  string             `yaml:"latency_tier"`
		MaxTokens    int                `yaml:"max_tokens"`
		Available    *bool              `yaml:"available"`
		Capabilities map[string]int     `yaml:"capabilities"`
		InputCredits float64            `yaml:"input_credits_per_1k"`
		OutputCredits float64           `yaml:"output_credits_per_1k"`
		InputUSD     float64            `yaml:"input_usd_per_1k"`
		OutputUSD    float64            `yaml:"output_usd_per_1k"`
	} `yaml:"models"`
	Defaults map[string]string `yaml:"defaults"`
}

// registrySnapshot is the immutable state the Registry serves; readers never
// lock because a new snapshot always fully replaces the old one (§4.2:
// "read-only after load; concurrent readers do not lock").
type registrySnapshot struct {
	byName   map[string]ModelDescriptor
	byVendor map[Vendor][]ModelDescriptor
	defaults map[Vendor]string
}

// Registry serves immutable model descriptors. Loaded once (or reloaded
// wholesale) at startup; concurrent readers never block each other.
type Registry struct {
	snap atomic.Pointer[registrySnapshot]
}

// NewRegistry constructs a Registry with the built-in fallback descriptors
// already loaded, matching §4.2's "falls back to a small built-in set
// covering at least one high-tier and one fast/low-tier model".
func NewRegistry() *Registry {
	r := &Registry{}
	r.swap(builtinDescriptors())
	return r
}

func builtinDescriptors() []ModelDescriptor {
	return []ModelDescriptor{
		{
			Name:        "gpt-4-turbo",
			Vendor:      VendorOpenAI,
			CostTier:    CostHigh,
			LatencyTier: LatencyMedium,
			MaxTokens:   128000,
			Available:   true,
			Capabilities: map[Capability]int{
				CapReasoning: 9, CapCoding: 9, CapPlanning: 8, CapStructuredOutput: 8,
			},
		},
		{
			Name:        "gpt-3.5-turbo",
			Vendor:      VendorOpenAI,
			CostTier:    CostLow,
			LatencyTier: LatencyFast,
			MaxTokens:   16000,
			Available:   true,
			Capabilities: map[Capability]int{
				CapReasoning: 6, CapCoding: 6, CapSpeed: 9,
			},
		},
	}
}

// LoadFromYAML reads the model-descriptor configuration from path and
// replaces the registry contents atomically. On any read/parse error it
// logs (via the supplied logf) and leaves the previous snapshot (or the
// built-in defaults) in place — a ConfigError per §7, never a hard failure.
func (r *Registry) LoadFromYAML(path string, logf func(format string, args ...any)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if logf != nil {
			logf("model config not found at %s, keeping current descriptors: %v", path, err)
		}
		return err
	}

	var cfg modelConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if logf != nil {
			logf("failed to parse model config %s, keeping current descriptors: %v", path, err)
		}
		return err
	}

	descriptors := make([]ModelDescriptor, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		available := true
		if m.Available != nil {
			available = *m.Available
		}
		caps := make(map[Capability]int, len(m.Capabilities))
		for k, v := range m.Capabilities {
			caps[Capability(k)] = v
		}
		d := ModelDescriptor{
			Name:         m.Name,
			Vendor:       Vendor(m.Vendor),
			CostTier:     CostTier(m.CostTier),
			LatencyTier:  LatencyTier(m.LatencyTier),
			MaxTokens:    m.MaxTokens,
			Available:    available,
			Capabilities: caps,
		}
		if m.InputCredits > 0 || m.InputUSD > 0 {
			d.InputPricing = &PricingPair{CreditsPer1K: m.InputCredits, USDPer1K: m.InputUSD}
		}
		if m.OutputCredits > 0 || m.OutputUSD > 0 {
			d.OutputPricing = &PricingPair{CreditsPer1K: m.OutputCredits, USDPer1K: m.OutputUSD}
		}
		descriptors = append(descriptors, d)
	}

	defaults := make(map[Vendor]string, len(cfg.Defaults))
	for vendor, name := range cfg.Defaults {
		defaults[Vendor(vendor)] = name
	}

	r.swapWithDefaults(descriptors, defaults)
	return nil
}

func (r *Registry) swap(descriptors []ModelDescriptor) {
	r.swapWithDefaults(descriptors, nil)
}

func (r *Registry) swapWithDefaults(descriptors []ModelDescriptor, defaults map[Vendor]string) {
	snap := &registrySnapshot{
		byName:   make(map[string]ModelDescriptor, len(descriptors)),
		byVendor: make(map[Vendor][]ModelDescriptor),
		defaults: defaults,
	}
	if snap.defaults == nil {
		snap.defaults = make(map[Vendor]string)
	}
	for _, d := range descriptors {
		snap.byName[d.Name] = d
		snap.byVendor[d.Vendor] = append(snap.byVendor[d.Vendor], d)
	}
	r.snap.Store(snap)
}

func (r *Registry) current() *registrySnapshot {
	return r.snap.Load()
}

// Get returns the descriptor for name, if registered.
func (r *Registry) Get(name string) (ModelDescriptor, bool) {
	d, ok := r.current().byName[name]
	return d, ok
}

// All returns every registered descriptor.
func (r *Registry) All() []ModelDescriptor {
	snap := r.current()
	out := make([]ModelDescriptor, 0, len(snap.byName))
	for _, d := range snap.byName {
		out = append(out, d)
	}
	return out
}

// Available returns descriptors whose Available flag is true.
func (r *Registry) Available() []ModelDescriptor {
	snap := r.current()
	out := make([]ModelDescriptor, 0, len(snap.byName))
	for _, d := range snap.byName {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// ByVendor returns descriptors for a single vendor.
func (r *Registry) ByVendor(vendor Vendor) []ModelDescriptor {
	snap := r.current()
	out := make([]ModelDescriptor, len(snap.byVendor[vendor]))
	copy(out, snap.byVendor[vendor])
	return out
}

// DefaultFor returns the configured default model name for a vendor.
func (r *Registry) DefaultFor(vendor Vendor) (string, bool) {
	name, ok := r.current().defaults[vendor]
	return name, ok
}

// WithCapability reports whether a named model meets a minimum capability
// score.
func (r *Registry) WithCapability(name string, cap Capability, minScore int) (bool, error) {
	d, ok := r.Get(name)
	if !ok {
		return false, fmt.Errorf("dispatch: model %q not registered", name)
	}
	return d.CapabilityOrDefault(cap) >= minScore, nil
}
