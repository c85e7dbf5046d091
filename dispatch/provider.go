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

import "context"

// Adapter is the contract every vendor integration implements (§4.6):
// generation, a cheap liveness probe, and static vendor identity.
type Adapter interface {
	// Vendor identifies which vendor this adapter serves.
	Vendor() Vendor

	// Generate sends messages to a named model and returns its completion.
	Generate(ctx context.Context, model string, messages []ChatMessage) (GenerateResult, error)

	// HealthCheck performs a cheap liveness probe (e.g. a models-list call
	// or a TCP ping), distinct from Generate so dispatch never burns a
	// paid completion just to test reachability.
	HealthCheck(ctx context.Context) error

	// Supports reports whether this adapter can serve the named model.
	Supports(model string) bool

	// IsAvailable reports whether the adapter is configured and ready
	// (e.g. an API key is present). An adapter that returns false here is
	// skipped before any network call is attempted.
	IsAvailable() bool
}

// AdapterRegistry maps vendors to their Adapter implementation. Populated
// once at startup from configuration (which vendors have credentials) and
// read concurrently thereafter without locking, mirroring the Model
// Registry's read-mostly discipline (§4.2).
type AdapterRegistry struct {
	byVendor map[Vendor]Adapter
}

// NewAdapterRegistry builds a registry from the given adapters, keyed by
// their own declared Vendor().
func NewAdapterRegistry(adapters ...Adapter) *AdapterRegistry {
	r := &AdapterRegistry{byVendor: make(map[Vendor]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byVendor[a.Vendor()] = a
	}
	return r
}

// Get returns the adapter registered for vendor, if any.
func (r *AdapterRegistry) Get(vendor Vendor) (Adapter, bool) {
	a, ok := r.byVendor[vendor]
	return a, ok
}

// All returns every registered adapter, order unspecified.
func (r *AdapterRegistry) All() []Adapter {
	out := make([]Adapter, 0, len(r.byVendor))
	for _, a := range r.byVendor {
		out = append(out, a)
	}
	return out
}
