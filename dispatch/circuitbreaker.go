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
	"sync"
	"time"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	failureThreshold = 5
	recoveryTimeout  = 60 * time.Second
	successThreshold = 3
)

// CircuitBreaker implements the per-provider CLOSED/OPEN/HALF_OPEN state
// machine from §4.11. All transitions are guarded by a single mutex per
// instance, matching the shared-state discipline in §5 (small critical
// sections: compare, mutate, release, then await I/O outside the lock).
type CircuitBreaker struct {
	name            string
	mu              sync.Mutex
	state           BreakerState
	failures        int
	halfOpenSuccess int
	lastFailureAt   time.Time
	onTransition    func(provider string, from, to BreakerState)
}

// NewCircuitBreaker creates a breaker for a named provider, starting CLOSED.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{name: name, state: StateClosed}
}

// OnTransition registers a callback invoked on every state transition, used
// to satisfy §7's "circuit-breaker transitions log at INFO" requirement.
func (cb *CircuitBreaker) OnTransition(fn func(provider string, from, to BreakerState)) {
	cb.mu.Lock()
	cb.onTransition = fn
	cb.mu.Unlock()
}

// BreakerOpenError indicates the circuit is open and rejecting calls.
type BreakerOpenError struct {
	Provider string
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open", e.Provider)
}

// CanExecute reports whether a call is currently admitted. OPEN transitions
// itself to HALF_OPEN once RECOVERY_TIMEOUT has elapsed since the last
// failure, as a side effect of the check (§4.11).
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailureAt) > recoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenSuccess = 0
		} else {
			return false
		}
	}
	return true
}

// RecordSuccess records a successful call. In HALF_OPEN, SUCCESS_THRESHOLD
// consecutive successes close the breaker and reset counters.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= successThreshold {
			cb.transitionLocked(StateClosed)
			cb.failures = 0
			cb.halfOpenSuccess = 0
		}
		return
	}
	cb.failures = 0
}

// RecordFailure records a failed call. In HALF_OPEN, any failure re-opens
// the breaker immediately (resetting the success counter). In CLOSED,
// FAILURE_THRESHOLD consecutive failures opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureAt = time.Now()

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess = 0
		cb.transitionLocked(StateOpen)
		return
	}
	if cb.failures >= failureThreshold {
		cb.transitionLocked(StateOpen)
	}
}

// Reset forces the breaker back to CLOSED with counters cleared.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.halfOpenSuccess = 0
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	if from != to && cb.onTransition != nil {
		cb.onTransition(cb.name, from, to)
	}
}

// BreakerRegistry owns one CircuitBreaker per provider, created lazily and
// held for the lifetime of the process (§3's Lifecycle: "process-singletons
// initialized once at startup").
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	onTransition func(provider string, from, to BreakerState)
}

// NewBreakerRegistry constructs an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*CircuitBreaker)}
}

// OnTransition registers a transition callback applied to every breaker
// created through this registry (existing and future).
func (r *BreakerRegistry) OnTransition(fn func(provider string, from, to BreakerState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
	for _, b := range r.breakers {
		b.OnTransition(fn)
	}
}

// Get returns (creating if necessary) the breaker for provider.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = NewCircuitBreaker(provider)
		if r.onTransition != nil {
			b.OnTransition(r.onTransition)
		}
		r.breakers[provider] = b
	}
	return b
}
