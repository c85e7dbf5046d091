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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimitAction is the verdict from check_budget (§4.9).
type RateLimitAction string

const (
	ActionAllow RateLimitAction = "ALLOW"
	ActionWarn  RateLimitAction = "WARN"
	ActionBlock RateLimitAction = "BLOCK"
)

// RateLimitDecision is the result of a budget check.
type RateLimitDecision struct {
	Action   RateLimitAction
	Reason   string
	HourSum  int
	DaySum   int
}

type creditEntry struct {
	at      time.Time
	credits int
}

type tenantWindow struct {
	mu      sync.Mutex
	hourly  []creditEntry
	daySum  int
	dayDate string // YYYY-MM-DD, reset at midnight
}

// RateLimiter enforces a rolling one-hour credit window plus a
// midnight-reset daily sum, per tenant. It prefers a Redis-backed sliding
// window (mirroring the teacher's checkRateLimitRedis) and falls back to an
// in-memory window (mirroring the teacher's checkRateLimit) when Redis is
// unavailable or fails, so rate limiting degrades rather than panics.
type RateLimiter struct {
	redis *redis.Client

	mu      sync.Mutex
	tenants map[string]*tenantWindow
}

// NewRateLimiter builds a RateLimiter. redisClient may be nil, in which case
// every check uses the in-memory fallback.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, tenants: make(map[string]*tenantWindow)}
}

func (r *RateLimiter) windowFor(tenant string) *tenantWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.tenants[tenant]
	if !ok {
		w = &tenantWindow{}
		r.tenants[tenant] = w
	}
	return w
}

// CheckBudget implements §4.9's check_budget: purge hourly records older
// than one hour, then evaluate hourly limit, daily limit, and balance in
// that order. pauseEnabled controls whether a limit breach becomes BLOCK
// (true) or WARN (false, "soft" mode that logs but lets the task proceed).
func (r *RateLimiter) CheckBudget(ctx context.Context, tenant string, estimate, hourlyLimit, dailyLimit, balance int, pauseEnabled bool) RateLimitDecision {
	w := r.windowFor(tenant)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.purgeLocked(now)
	if r.redis != nil {
		if hourSum, err := r.hourSumRedis(ctx, tenant, now); err == nil {
			w.hourly = nil // Redis is authoritative; don't double count locally.
			return r.decide(hourSum, w.daySumLocked(now), estimate, hourlyLimit, dailyLimit, balance, pauseEnabled)
		}
		// Redis error: fail open to the in-memory window, as the teacher's
		// checkRateLimitRedis falls back on pipeline failure.
	}

	hourSum := w.hourSumLocked()
	daySum := w.daySumLocked(now)
	return r.decide(hourSum, daySum, estimate, hourlyLimit, dailyLimit, balance, pauseEnabled)
}

func (r *RateLimiter) decide(hourSum, daySum, estimate, hourlyLimit, dailyLimit, balance int, pauseEnabled bool) RateLimitDecision {
	action := func() RateLimitAction {
		if pauseEnabled {
			return ActionBlock
		}
		return ActionWarn
	}

	if hourSum+estimate > hourlyLimit {
		return RateLimitDecision{Action: action(), Reason: "hourly limit exceeded", HourSum: hourSum, DaySum: daySum}
	}
	if daySum+estimate > dailyLimit {
		return RateLimitDecision{Action: action(), Reason: "daily limit exceeded", HourSum: hourSum, DaySum: daySum}
	}
	if balance < estimate {
		return RateLimitDecision{Action: ActionBlock, Reason: "insufficient balance", HourSum: hourSum, DaySum: daySum}
	}
	return RateLimitDecision{Action: ActionAllow, HourSum: hourSum, DaySum: daySum}
}

// RecordConsumption appends a (timestamp, credits) entry to both the hourly
// window and the daily sum.
func (r *RateLimiter) RecordConsumption(ctx context.Context, tenant string, credits int) {
	w := r.windowFor(tenant)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.purgeLocked(now)
	w.hourly = append(w.hourly, creditEntry{at: now, credits: credits})
	w.rollDayLocked(now)
	w.daySum += credits

	if r.redis != nil {
		key := fmt.Sprintf("budget:hourly:%s", tenant)
		pipe := r.redis.Pipeline()
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: fmt.Sprintf("%d:%d", now.UnixNano(), credits)})
		pipe.Expire(ctx, key, 2*time.Hour)
		_, _ = pipe.Exec(ctx) // best-effort; in-memory window already recorded.
	}
}

func (w *tenantWindow) purgeLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := w.hourly[:0]
	for _, e := range w.hourly {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.hourly = kept
}

func (w *tenantWindow) hourSumLocked() int {
	sum := 0
	for _, e := range w.hourly {
		sum += e.credits
	}
	return sum
}

func (w *tenantWindow) rollDayLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if w.dayDate != today {
		w.dayDate = today
		w.daySum = 0
	}
}

func (w *tenantWindow) daySumLocked(now time.Time) int {
	w.rollDayLocked(now)
	return w.daySum
}

// hourSumRedis sums hourly credit entries from Redis using the same
// ZREMRANGEBYSCORE/ZRANGEBYSCORE sliding-window idiom as the teacher's
// checkRateLimitRedis/getRateLimitStatsRedis.
func (r *RateLimiter) hourSumRedis(ctx context.Context, tenant string, now time.Time) (int, error) {
	key := fmt.Sprintf("budget:hourly:%s", tenant)
	minScore := now.Add(-time.Hour).Unix() * 1e9

	pipe := r.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	members := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: fmt.Sprintf("%d", minScore), Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	entries, err := members.Result()
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, m := range entries {
		var ts int64
		var credits int
		if _, err := fmt.Sscanf(m, "%d:%d", &ts, &credits); err == nil {
			sum += credits
		}
	}
	return sum, nil
}
