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

// Package toolexec implements the tool action plan pipeline: the tool
// registry, the zero-trust permission gateway, the per-vendor quota
// manager, the code sandbox, and the DAG executor that ties them together,
// grounded on the teacher's connectors/base.Connector contract and
// connectors/registry.Registry idiom (§3, §4.12-4.16).
package toolexec

import "time"

// RetryPolicy is a tool's declared retry strategy (§3).
type RetryPolicy string

const (
	RetryNone        RetryPolicy = "none"
	RetryFixed       RetryPolicy = "fixed"
	RetryExponential RetryPolicy = "exponential"
)

// FailureHandling is a step's declared behavior when it (or a dependency)
// fails (§3).
type FailureHandling string

const (
	FailureStop     FailureHandling = "stop"
	FailureContinue FailureHandling = "continue"
	FailureRetry    FailureHandling = "retry"
	FailureFallback FailureHandling = "fallback"
)

// StepStatus is a step's runtime lifecycle state.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusFailure StepStatus = "failure"
	StatusBlocked StepStatus = "blocked"
)

// PlanStatus is the DAG executor's aggregate verdict (§4.16, §7).
type PlanStatus string

const (
	PlanSuccess        PlanStatus = "SUCCESS"
	PlanPartialSuccess PlanStatus = "PARTIAL_SUCCESS"
	PlanFailure        PlanStatus = "FAILURE"
	PlanBlocked        PlanStatus = "BLOCKED"
)

// Error codes surfaced on StepResult.ErrorCode, per §7's taxonomy and
// §4.16's non-retryable list.
const (
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeRetryExhausted   = "RETRY_EXHAUSTED"
	ErrCodeSandboxError     = "SANDBOX_ERROR"
	ErrCodeQuotaDenied      = "QUOTA_DENIED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)

// SchemaProperty is one entry of a tool's JSON-schema-subset input/output
// schema (§3: "string/integer/number/boolean/array/object").
type SchemaProperty struct {
	Type string `yaml:"type" json:"type"`
}

// InputSchema is the JSON-schema subset the Tool Registry validates inputs
// against: presence of required fields, and a primitive type check against
// properties[*].type. Unknown declared types pass validation (§4.12).
type InputSchema struct {
	Properties map[string]SchemaProperty `yaml:"properties" json:"properties"`
	Required   []string                  `yaml:"required" json:"required"`
}

// ToolDescriptor is a registered tool's full contract (§3).
type ToolDescriptor struct {
	Name                string        `yaml:"name" json:"name"`
	Category            string        `yaml:"category" json:"category"`
	Vendor              string        `yaml:"vendor" json:"vendor"`
	InputSchema         InputSchema   `yaml:"input_schema" json:"input_schema"`
	OutputSchema        InputSchema   `yaml:"output_schema" json:"output_schema"`
	RequiredPermissions []string      `yaml:"required_permissions" json:"required_permissions"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	Retry               RetryPolicy   `yaml:"retry" json:"retry"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	CostTier            string        `yaml:"cost_tier" json:"cost_tier"`
	Available           bool          `yaml:"available" json:"available"`
}

// ExecutionScope carries the caller's identity and grants for a plan run,
// the "context.permissions" / "scope" referenced throughout §4.13-4.16.
type ExecutionScope struct {
	UserID      string
	OfficeID    string
	TenantID    string
	Granted     []string          // granted permission scopes, dotted with optional trailing ".*"
	OAuthTokens map[string]string // vendor -> token
	TokenExpiry map[string]time.Time
}

// Step is one node of an ActionPlan (§3).
type Step struct {
	ID              string          `json:"id"`
	Tool            string          `json:"tool"`
	Inputs          map[string]any  `json:"inputs"`
	Timeout         time.Duration   `json:"timeout,omitempty"`
	FailureHandling FailureHandling `json:"failure_handling"`
	DependsOn       []string        `json:"depends_on,omitempty"`

	Status      StepStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
}

// ActionPlan is a full tool-execution request (§3).
type ActionPlan struct {
	ExecutionID       string         `json:"execution_id"`
	Steps             []*Step        `json:"steps"`
	ParallelExecution bool           `json:"parallel_execution"`
	SharedData        map[string]any `json:"shared_data"`
}

// StepResult is one step's outcome, as emitted by the DAG executor and
// consumed by the Result Normalizer.
type StepResult struct {
	StepID    string         `json:"step_id"`
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
}

// ExecutionResult is the DAG executor's final, normalized output (§4.16,
// §7: status in {SUCCESS, PARTIAL_SUCCESS, FAILURE, BLOCKED}).
type ExecutionResult struct {
	ExecutionID    string       `json:"execution_id"`
	Status         PlanStatus   `json:"status"`
	StepsCompleted int          `json:"steps_completed"`
	StepsFailed    int          `json:"steps_failed"`
	Results        []StepResult `json:"results"`
	Artifacts      []any        `json:"artifacts,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
	TotalLatencyMS int64        `json:"total_latency_ms"`
	Message        string       `json:"message"`
}
