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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/denys89/agentorchestrator/budget"
	"github.com/denys89/agentorchestrator/dispatch"
	"github.com/denys89/agentorchestrator/toolexec"
)

// instrument wraps a handler with the Prometheus counters/histogram every
// route reports under.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		promRequestDuration.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		promRequestsTotal.WithLabelValues(route, statusClass(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	if code >= 500 {
		return "error"
	}
	if code >= 400 {
		return "client_error"
	}
	return "ok"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Service: "agent-task-orchestrator"})
}

func (s *Server) agentsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AgentsResponse{Templates: s.agents.List()})
}

// executeHandler implements the generation flow: estimate cost, check anomaly
// thresholds (per-task ceiling, spike), check wallet balance, check rate
// windows, dispatch with fallback, charge the actual cost, then fire the
// task-complete webhook.
func (s *Server) executeHandler(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	resp := s.runExecute(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

// executeAsyncHandler enqueues the same work and answers immediately; since
// this orchestrator has no durable queue of its own, the generation runs on
// a detached goroutine and reports its outcome only via the task-complete
// webhook.
func (s *Server) executeAsyncHandler(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.runExecute(ctx, req)
	}()

	writeJSON(w, http.StatusOK, AsyncResponse{TaskID: req.TaskID, Status: StatusQueued})
}

func (s *Server) runExecute(ctx context.Context, req ExecuteRequest) ExecuteResponse {
	agentCtx, ok := s.agents.Get(req.AgentID)
	if !ok {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: fmt.Sprintf("unknown agent_id %q", req.AgentID)}
	}

	contextHint := estimateContextLength(agentCtx)

	scores, profile, err := s.dispatcher.SelectModel(req.Input, agentCtx.RoleName, contextHint)
	if err != nil || len(scores) == 0 {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: "no viable model for this request"}
	}
	best := scores[0]

	tier := "medium"
	if m, ok := s.registry.Get(best.ModelName); ok {
		tier = string(m.CostTier)
	}
	estimate := s.costEngine.Estimate(string(best.Vendor), best.ModelName, tier)

	if v := s.anomalyDetector.CheckPerTaskCeiling(estimate); v.Blocked {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: v.Reason}
	}
	if v := s.anomalyDetector.CheckSpike(req.OfficeID, estimate, time.Now()); v.Blocked {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: v.Reason}
	}

	balance, err := s.ledger.Check(ctx, req.OfficeID, estimate)
	if err != nil {
		s.log.Warn(req.OfficeID, req.TaskID, "ledger check failed, failing open", map[string]any{"error": err.Error()})
	}
	if !balance.HasSufficient {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: "insufficient credit balance"}
	}

	decision := s.rateLimiter.CheckBudget(ctx, req.OfficeID, estimate, defaultHourlyLimit, defaultDailyLimit, balance.Balance, true)
	if decision.Action == budget.ActionBlock {
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: decision.Reason}
	}

	_ = profile // capability profile already folded into scores/selection reason

	result, err := s.dispatcher.Dispatch(ctx, req.TaskID, agentCtx, req.Input, contextHint)
	if err != nil || !result.Success {
		errMsg := result.Error
		if errMsg == "" && err != nil {
			errMsg = err.Error()
		}
		s.fireTaskCompleteWebhook(ctx, req, "")
		return ExecuteResponse{TaskID: req.TaskID, Status: StatusFailed, Error: errMsg}
	}

	actual := s.costEngine.Actual(string(result.Vendor), result.SelectedModel, tier, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	if actual > 0 {
		if consumeResult, err := s.ledger.Consume(ctx, req.OfficeID, req.TaskID, actual, "model execution: "+result.SelectedModel); err != nil {
			s.log.Error(req.OfficeID, req.TaskID, "ledger consume failed", map[string]any{"error": err.Error()})
		} else {
			_ = consumeResult
		}
		s.rateLimiter.RecordConsumption(ctx, req.OfficeID, actual)
	}

	s.agents.AppendHistory(req.AgentID, dispatch.HistoryMessage{SenderType: dispatch.RoleUser, Text: req.Input})
	s.agents.AppendHistory(req.AgentID, dispatch.HistoryMessage{SenderType: dispatch.RoleAssistant, Text: result.Output})

	s.fireTaskCompleteWebhook(ctx, req, result.Output)

	return ExecuteResponse{
		TaskID:     req.TaskID,
		Status:     StatusDone,
		Output:     result.Output,
		TokenUsage: result.Usage,
	}
}

const (
	defaultHourlyLimit = 50000
	defaultDailyLimit  = 200000
)

// estimateContextLength implements the context-length-from-agent-context
// heuristic: len(system_prompt)/4 + sum(len(history))/4 + sum(len(memory))/4
// + a 500-token buffer.
func estimateContextLength(agentCtx dispatch.AgentContext) int {
	total := len(agentCtx.SystemPrompt)
	for _, h := range agentCtx.History {
		total += len(h.Text)
	}
	for _, m := range agentCtx.Memories {
		total += len(m)
	}
	return total/4 + 500
}

func (s *Server) fireTaskCompleteWebhook(ctx context.Context, req ExecuteRequest, output string) {
	backend := getEnv("LEDGER_BACKEND_URL", "")
	if backend == "" {
		return
	}
	payload, err := json.Marshal(webhookPayload{
		TaskID:         req.TaskID,
		ConversationID: req.ConversationID,
		AgentID:        req.AgentID,
		Output:         output,
	})
	if err != nil {
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, backend+"/api/v1/internal/task-complete", bytes.NewReader(payload))
	if err != nil {
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Internal-API-Key", getEnv("LEDGER_SHARED_SECRET", ""))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		s.log.Warn(req.OfficeID, req.TaskID, "task-complete webhook failed", map[string]any{"error": err.Error()})
		return
	}
	defer resp.Body.Close()
}

// executeToolsHandler implements the tool-plan flow (§4.12-§4.16): decode
// the ActionPlan, bind an ExecutionScope from the request, and hand the
// whole DAG to the executor, which already validates inputs, checks
// permissions and quotas per step, and normalizes the aggregate result.
func (s *Server) executeToolsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	officeID := r.URL.Query().Get("office_id")
	if userID == "" || officeID == "" {
		sendError(w, "user_id and office_id query parameters are required", http.StatusBadRequest)
		return
	}

	var plan toolexec.ActionPlan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		sendError(w, "invalid action plan", http.StatusBadRequest)
		return
	}
	if plan.ExecutionID == "" {
		plan.ExecutionID = uuid.NewString()
	}

	scope := toolexec.ExecutionScope{
		UserID:      userID,
		OfficeID:    officeID,
		Granted:     scopesFromHeader(r),
		OAuthTokens: oauthTokensFromHeader(r),
	}

	result := s.dagExecutor.Execute(r.Context(), plan, scope)
	writeJSON(w, http.StatusOK, result)
}

// scopesFromHeader reads a comma-separated X-Granted-Scopes header, the
// permission scopes the upstream gateway has already vetted for this
// caller.
func scopesFromHeader(r *http.Request) []string {
	raw := r.Header.Get("X-Granted-Scopes")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// oauthTokensFromHeader reads a JSON object of vendor -> token from
// X-OAuth-Tokens, the per-vendor credentials the Permission Gateway checks
// against each step's tool.
func oauthTokensFromHeader(r *http.Request) map[string]string {
	raw := r.Header.Get("X-OAuth-Tokens")
	if raw == "" {
		return nil
	}
	var tokens map[string]string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil
	}
	return tokens
}
