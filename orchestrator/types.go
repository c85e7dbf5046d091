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

package orchestrator

import "github.com/denys89/agentorchestrator/dispatch"

// ExecuteRequest is the body of POST /execute and /execute-async (§6).
type ExecuteRequest struct {
	TaskID         string `json:"task_id"`
	AgentID        string `json:"agent_id"`
	OfficeID       string `json:"office_id"`
	ConversationID string `json:"conversation_id"`
	Input          string `json:"input"`
}

// ExecuteStatus is the outcome reported on ExecuteResponse.Status.
type ExecuteStatus string

const (
	StatusDone   ExecuteStatus = "done"
	StatusFailed ExecuteStatus = "failed"
	StatusQueued ExecuteStatus = "queued"
)

// ExecuteResponse is the success body of POST /execute (§6). Business
// errors (no credit, no viable model, every candidate failed) still answer
// 200 with Status=failed; only malformed requests get a non-2xx.
type ExecuteResponse struct {
	TaskID     string             `json:"task_id"`
	Status     ExecuteStatus      `json:"status"`
	Output     string             `json:"output,omitempty"`
	Error      string             `json:"error,omitempty"`
	TokenUsage dispatch.TokenUsage `json:"token_usage"`
}

// AsyncResponse is the body of POST /execute-async (§6).
type AsyncResponse struct {
	TaskID string        `json:"task_id"`
	Status ExecuteStatus `json:"status"`
}

// HealthResponse is the body of GET /health (§6).
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// AgentsResponse is the body of GET /agents (§6).
type AgentsResponse struct {
	Templates []AgentTemplate `json:"templates"`
}

// AgentTemplate is one entry of AgentsResponse.Templates, the portion of an
// AgentStore entry safe to expose externally.
type AgentTemplate struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	RoleName    string `json:"role_name"`
}

// webhookPayload is the body of the outbound task-complete webhook (§6):
// POST {backend}/api/v1/internal/task-complete.
type webhookPayload struct {
	TaskID         string `json:"task_id"`
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	Output         string `json:"output"`
}
