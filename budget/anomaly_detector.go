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

package budget

import (
	"fmt"
	"sync"
	"time"
)

const (
	// defaultPerTaskCeiling is the configurable per-task credit ceiling
	// from §4.10.
	defaultPerTaskCeiling = 1000

	// spikeSampleWindow is how many trailing hourly totals are kept per
	// tenant for the spike check.
	spikeSampleWindow = 24

	// spikeMinSamples / spikeRatio gate when the spike check activates and
	// what ratio of current-to-mean counts as a spike.
	spikeMinSamples = 5
	spikeRatio      = 5.0

	// maxRecursionDepth is the ceiling on (tenant, workflow) nesting depth.
	maxRecursionDepth = 10
)

// AnomalyVerdict is the result of one AnomalyDetector check.
type AnomalyVerdict struct {
	Blocked bool
	Reason  string
}

func ok() AnomalyVerdict { return AnomalyVerdict{} }

func blocked(reason string) AnomalyVerdict { return AnomalyVerdict{Blocked: true, Reason: reason} }

// hourlyBucket tracks one tenant's trailing hourly credit totals for the
// spike check.
type hourlyBucket struct {
	totals    []float64
	bucketKey string // truncated-to-hour marker for the in-progress bucket
}

// AnomalyDetector runs three independent checks guarded by a single mutex,
// per §4.10: a per-task ceiling, a rolling spike check against the trailing
// 24 hourly totals, and a recursion-depth ceiling per (tenant, workflow).
type AnomalyDetector struct {
	mu sync.Mutex

	perTaskCeiling int
	hourly         map[string]*hourlyBucket // key: tenant
	depth          map[string]int           // key: tenant + "|" + workflow
}

// NewAnomalyDetector builds a detector with the default per-task ceiling.
func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{
		perTaskCeiling: defaultPerTaskCeiling,
		hourly:         make(map[string]*hourlyBucket),
		depth:          make(map[string]int),
	}
}

// SetPerTaskCeiling overrides the default 1000-credit per-task ceiling.
func (d *AnomalyDetector) SetPerTaskCeiling(ceiling int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perTaskCeiling = ceiling
}

// CheckPerTaskCeiling rejects an estimate above the configured ceiling.
func (d *AnomalyDetector) CheckPerTaskCeiling(estimate int) AnomalyVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	if estimate > d.perTaskCeiling {
		return blocked(fmt.Sprintf("estimate %d exceeds per-task ceiling %d", estimate, d.perTaskCeiling))
	}
	return ok()
}

// CheckSpike records `credits` against the current hour's bucket for
// tenant, then flags current/mean > 5.0 once at least 5 hourly samples
// exist. The current (in-progress) hour is excluded from the mean so a
// tenant's own spike can't dilute its own baseline.
func (d *AnomalyDetector) CheckSpike(tenant string, credits int, now time.Time) AnomalyVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok2 := d.hourly[tenant]
	if !ok2 {
		b = &hourlyBucket{}
		d.hourly[tenant] = b
	}

	hourKey := now.Truncate(time.Hour).Format(time.RFC3339)
	if b.bucketKey != hourKey {
		// Roll to a new hour: the bucket in progress becomes a completed sample.
		if b.bucketKey != "" {
			b.totals = append(b.totals, 0) // placeholder replaced below
		}
		b.bucketKey = hourKey
	}

	var verdict AnomalyVerdict
	completed := b.totals
	if len(completed) > 0 {
		completed = completed[:len(completed)-1]
	}
	if len(completed) >= spikeMinSamples {
		mean := meanOf(completed)
		if mean > 0 && float64(credits)/mean > spikeRatio {
			verdict = blocked(fmt.Sprintf("credit spike: %d is %.1fx the trailing mean %.1f", credits, float64(credits)/mean, mean))
		} else {
			verdict = ok()
		}
	} else {
		verdict = ok()
	}

	if len(b.totals) > 0 {
		b.totals[len(b.totals)-1] += float64(credits)
	} else {
		b.totals = append(b.totals, float64(credits))
	}
	if len(b.totals) > spikeSampleWindow {
		b.totals = b.totals[len(b.totals)-spikeSampleWindow:]
	}
	return verdict
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// EnterWorkflow increments the (tenant, workflow) recursion depth and
// rejects once the depth has already reached the ceiling of 10.
func (d *AnomalyDetector) EnterWorkflow(tenant, workflow string) AnomalyVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := tenant + "|" + workflow
	if d.depth[key] >= maxRecursionDepth {
		return blocked(fmt.Sprintf("recursion depth %d reached for workflow %s", d.depth[key], workflow))
	}
	d.depth[key]++
	return ok()
}

// ExitWorkflow decrements the recursion depth on completion.
func (d *AnomalyDetector) ExitWorkflow(tenant, workflow string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := tenant + "|" + workflow
	if d.depth[key] > 0 {
		d.depth[key]--
	}
}
