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

package toolexec

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ToolInvoker runs one tool call and returns its output, the seam the DAG
// executor retries and times out around. ConnectorInvoker implements this
// over the concrete connectors (postgres, s3, http, ...).
type ToolInvoker interface {
	Invoke(ctx context.Context, tool ToolDescriptor, inputs map[string]any) (map[string]any, error)
}

// RetryConfig mirrors the fixed/exponential backoff schedule of §4.16:
// sleep 0 on attempt 0, 1s for a fixed policy, 2^(attempt-1) seconds for
// an exponential policy.
type RetryConfig struct {
	Policy     RetryPolicy
	MaxRetries int
}

// nonRetryableCodes never get a retry attempt regardless of policy.
var nonRetryableCodes = map[string]bool{
	ErrCodePermissionDenied: true,
	ErrCodeNotFound:         true,
	ErrCodeInvalidInput:     true,
	ErrCodeSandboxError:     true,
}

// DAGExecutor runs an ActionPlan's steps against the registry, gateway,
// and quota manager, following the teacher's WorkflowEngine's
// sequential/parallel split (ExecuteWorkflow vs
// ExecuteWorkflowWithParallelSupport) generalized to a dependency DAG
// instead of a flat step list (§4.16).
type DAGExecutor struct {
	registry *ToolRegistry
	gateway  *PermissionGateway
	quota    *QuotaManager
	invoker  ToolInvoker

	mu     sync.Mutex
	active map[string]bool // execution ID -> in-flight, per §5's lightly-locked active map
}

// NewDAGExecutor wires the tool registry, permission gateway, quota
// manager, and a ToolInvoker (the connector dispatch seam) into an
// executor.
func NewDAGExecutor(registry *ToolRegistry, gateway *PermissionGateway, quota *QuotaManager, invoker ToolInvoker) *DAGExecutor {
	return &DAGExecutor{
		registry: registry,
		gateway:  gateway,
		quota:    quota,
		invoker:  invoker,
		active:   make(map[string]bool),
	}
}

// Execute runs plan's steps to completion (sequentially or with
// independent-root parallelism per plan.ParallelExecution) and returns the
// normalized aggregate result.
//
// Before any step runs, three pre-flight passes walk every step in the
// plan, mirroring the original execute_plan's _validate_plan /
// _check_all_permissions / _check_all_quotas sequence (§4.16): structure
// and tool/input validation reject the whole plan with a single
// error-status result; a permission or quota denial on any step blocks
// the whole plan. A plan that fails pre-flight never executes a single
// step.
func (d *DAGExecutor) Execute(ctx context.Context, plan ActionPlan, scope ExecutionScope) ExecutionResult {
	start := time.Now()

	d.mu.Lock()
	d.active[plan.ExecutionID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, plan.ExecutionID)
		d.mu.Unlock()
	}()

	if plan.SharedData == nil {
		plan.SharedData = make(map[string]any)
	}

	if err := validatePlanStructure(plan.Steps); err != nil {
		return errorResult(plan.ExecutionID, err, time.Since(start).Milliseconds())
	}
	if err := d.validatePlanTools(plan.Steps); err != nil {
		return errorResult(plan.ExecutionID, err, time.Since(start).Milliseconds())
	}
	if reason := d.checkAllPermissions(plan.Steps, scope); reason != "" {
		return NormalizeResults(plan.ExecutionID, nil, true, reason, time.Since(start).Milliseconds())
	}
	if reason := d.checkAllQuotas(plan.Steps, scope); reason != "" {
		return NormalizeResults(plan.ExecutionID, nil, true, reason, time.Since(start).Milliseconds())
	}

	var results []StepResult
	if plan.ParallelExecution {
		results = d.runParallel(ctx, plan, scope)
	} else {
		results = d.runSequential(ctx, plan, scope)
	}

	return NormalizeResults(plan.ExecutionID, results, false, "", time.Since(start).Milliseconds())
}

// errorResult synthesizes the single failed StepResult §4.16 calls for when
// plan validation rejects the whole plan before any step executes.
func errorResult(executionID string, err error, totalLatencyMS int64) ExecutionResult {
	return NormalizeResults(executionID, []StepResult{{
		Success:   false,
		Error:     err.Error(),
		ErrorCode: ErrCodeInvalidInput,
	}}, false, "", totalLatencyMS)
}

// validatePlanStructure rejects a plan whose step ids are not unique or
// whose depends_on entries don't refer to an already-declared step id
// (§3, §8). Because every dependency must already have been seen, a cycle
// is structurally impossible to express — this single forward scan covers
// uniqueness, existence, and acyclicity at once.
func validatePlanStructure(steps []*Step) error {
	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("step has empty id")
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %q depends_on unknown or not-yet-declared step %q", step.ID, dep)
			}
		}
		seen[step.ID] = true
	}
	return nil
}

// validatePlanTools checks every step's tool exists and its inputs satisfy
// the tool's schema, matching _validate_plan's per-step
// validate_tool_exists/validate_inputs loop.
func (d *DAGExecutor) validatePlanTools(steps []*Step) error {
	for _, step := range steps {
		if _, ok := d.registry.Lookup(step.Tool); !ok {
			return fmt.Errorf("step %q: unknown tool %q", step.ID, step.Tool)
		}
		if err := d.registry.ValidateInputs(step.Tool, step.Inputs); err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}
	}
	return nil
}

// checkAllPermissions walks every step and returns the first denial
// reason, matching _check_all_permissions; an empty string means every
// step is permitted.
func (d *DAGExecutor) checkAllPermissions(steps []*Step, scope ExecutionScope) string {
	for _, step := range steps {
		tool, ok := d.registry.Lookup(step.Tool)
		if !ok {
			continue // already rejected by validatePlanTools
		}
		if result := d.gateway.CheckPermissions(tool, scope); !result.Granted() {
			return result.Reason
		}
	}
	return ""
}

// checkAllQuotas walks every step and returns the first denial reason,
// matching _check_all_quotas; an empty string means every step has quota
// headroom.
func (d *DAGExecutor) checkAllQuotas(steps []*Step, scope ExecutionScope) string {
	for _, step := range steps {
		tool, ok := d.registry.Lookup(step.Tool)
		if !ok {
			continue // already rejected by validatePlanTools
		}
		if decision := d.quota.CheckQuota(tool, tool.Vendor, scope.TenantID); !decision.Allowed {
			return decision.Reason
		}
	}
	return ""
}

// runSequential walks steps in declaration order, accumulating outputs
// into plan.SharedData and synthesizing a dependency-failure result for
// any step whose DependsOn entry did not succeed, per §4.16.
func (d *DAGExecutor) runSequential(ctx context.Context, plan ActionPlan, scope ExecutionScope) []StepResult {
	results := make([]StepResult, 0, len(plan.Steps))
	succeeded := make(map[string]bool)

	for _, step := range plan.Steps {
		if !dependenciesMet(step.DependsOn, succeeded) {
			r := StepResult{
				StepID:    step.ID,
				Success:   false,
				Error:     "dependencies not met",
				ErrorCode: ErrCodeDependencyFailed,
			}
			results = append(results, r)
			continue
		}

		r := d.runStep(ctx, step, plan, scope)
		results = append(results, r)
		if r.Success {
			succeeded[step.ID] = true
			for k, v := range r.Output {
				plan.SharedData[fmt.Sprintf("%s.%s", step.ID, k)] = v
			}
		}
	}
	return results
}

// runParallel partitions steps into roots (no DependsOn) and dependents,
// runs roots concurrently, then walks dependents once their dependencies
// resolve, following the teacher's executeStepsParallel
// WaitGroup-and-indexed-results idiom.
func (d *DAGExecutor) runParallel(ctx context.Context, plan ActionPlan, scope ExecutionScope) []StepResult {
	var roots, dependents []*Step
	for _, s := range plan.Steps {
		if len(s.DependsOn) == 0 {
			roots = append(roots, s)
		} else {
			dependents = append(dependents, s)
		}
	}

	results := make([]StepResult, 0, len(plan.Steps))
	succeeded := make(map[string]bool)
	var mu sync.Mutex

	rootResults := make([]StepResult, len(roots))
	var wg sync.WaitGroup
	for i, step := range roots {
		wg.Add(1)
		go func(idx int, s *Step) {
			defer wg.Done()
			rootResults[idx] = d.runStep(ctx, s, plan, scope)
		}(i, step)
	}
	wg.Wait()

	for i, r := range rootResults {
		results = append(results, r)
		if r.Success {
			succeeded[roots[i].ID] = true
			mu.Lock()
			for k, v := range r.Output {
				plan.SharedData[fmt.Sprintf("%s.%s", roots[i].ID, k)] = v
			}
			mu.Unlock()
		}
	}

	// Remaining dependents are walked sequentially in declaration order
	// (the join-then-walk pattern described in §4.16); since every
	// dependency is declared earlier, a dependent of a dependent runs after
	// its predecessor has resolved.
	for _, step := range dependents {
		if !dependenciesMet(step.DependsOn, succeeded) {
			results = append(results, StepResult{
				StepID:    step.ID,
				Success:   false,
				Error:     "dependencies not met",
				ErrorCode: ErrCodeDependencyFailed,
			})
			continue
		}
		r := d.runStep(ctx, step, plan, scope)
		results = append(results, r)
		if r.Success {
			succeeded[step.ID] = true
			for k, v := range r.Output {
				plan.SharedData[fmt.Sprintf("%s.%s", step.ID, k)] = v
			}
		}
	}

	return results
}

func dependenciesMet(deps []string, succeeded map[string]bool) bool {
	for _, dep := range deps {
		if !succeeded[dep] {
			return false
		}
	}
	return true
}

// runStep runs the retry loop around a single tool invocation. Existence,
// input-schema, permission, and quota checks already ran for every step in
// Execute's pre-flight passes (§4.16); the Lookup here only guards against
// the registry changing out from under an in-flight execution.
func (d *DAGExecutor) runStep(ctx context.Context, step *Step, plan ActionPlan, scope ExecutionScope) StepResult {
	start := time.Now()
	step.Status = StatusRunning
	step.StartedAt = start

	finish := func(r StepResult) StepResult {
		r.LatencyMS = time.Since(start).Milliseconds()
		step.CompletedAt = time.Now()
		if r.Success {
			step.Status = StatusSuccess
			step.Result = r.Output
		} else if r.ErrorCode == ErrCodePermissionDenied || r.ErrorCode == ErrCodeQuotaDenied {
			step.Status = StatusBlocked
		} else {
			step.Status = StatusFailure
		}
		step.Error = r.Error
		step.ErrorCode = r.ErrorCode
		return r
	}

	tool, ok := d.registry.Lookup(step.Tool)
	if !ok {
		return finish(StepResult{StepID: step.ID, Success: false, Error: fmt.Sprintf("unknown tool %q", step.Tool), ErrorCode: ErrCodeNotFound})
	}

	d.quota.IncrementActive(tool.Vendor, scope.TenantID)

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	output, err := d.invokeWithRetry(stepCtx, tool, step)

	// quota.record_usage runs after decrement_active, matching a
	// concurrent check_quota call that can briefly under-count active
	// usage; documented as eventual accounting, not a race to fix.
	d.quota.DecrementActive(tool.Vendor, scope.TenantID)
	d.quota.RecordUsage(tool.Vendor, scope.TenantID)

	if err != nil {
		errCode := ErrCodeRetryExhausted
		if toolErr, ok := err.(*ToolError); ok && nonRetryableCodes[toolErr.Code] {
			errCode = toolErr.Code
		}
		return finish(StepResult{StepID: step.ID, Success: false, Error: err.Error(), ErrorCode: errCode})
	}
	return finish(StepResult{StepID: step.ID, Success: true, Output: output})
}

// invokeWithRetry implements §4.16's retry schedule: attempt 0 has no
// delay; a "fixed" policy waits 1s between attempts; an "exponential"
// policy waits 2^(attempt-1) seconds. A PERMISSION_DENIED, NOT_FOUND, or
// INVALID_INPUT failure from the invoker is never retried.
func (d *DAGExecutor) invokeWithRetry(ctx context.Context, tool ToolDescriptor, step *Step) (map[string]any, error) {
	maxRetries := tool.MaxRetries
	if tool.Retry == RetryNone {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay(tool.Retry, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		output, err := d.invoker.Invoke(ctx, tool, step.Inputs)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if toolErr, ok := err.(*ToolError); ok && nonRetryableCodes[toolErr.Code] {
			return nil, err
		}
	}
	return nil, lastErr
}

// retryDelay implements §4.16's fixed/exponential schedule.
func retryDelay(policy RetryPolicy, attempt int) time.Duration {
	switch policy {
	case RetryFixed:
		return time.Second
	case RetryExponential:
		return time.Duration(1<<uint(attempt-1)) * time.Second
	default:
		return 0
	}
}

// ToolError is the error type a ToolInvoker returns to signal a specific
// error code, letting the retry loop distinguish non-retryable failures.
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string { return e.Message }
