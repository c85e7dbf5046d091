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

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/denys89/agentorchestrator/dispatch"
)

// OllamaAdapter calls a local Ollama server's chat API. TokenUsage is taken
// from the response's prompt_eval_count and eval_count; a response without
// those fields yields zeroed TokenUsage.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
}

// NewOllamaAdapter builds an adapter against baseURL (e.g.
// "http://localhost:11434"); an empty baseURL means unavailable.
func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	return &OllamaAdapter{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: 120 * time.Second}}
}

func (a *OllamaAdapter) Vendor() dispatch.Vendor    { return dispatch.VendorOllama }
func (a *OllamaAdapter) IsAvailable() bool          { return a.baseURL != "" }
func (a *OllamaAdapter) Supports(model string) bool { return true }

func (a *OllamaAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	body, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": toOpenAIMessages(messages), // identical {role, content} shape
		"stream":   false,
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return dispatch.GenerateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return dispatch.GenerateResult{}, fmt.Errorf("ollama: API error (%d): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	return dispatch.GenerateResult{
		Text: parsed.Message.Content,
		Usage: dispatch.TokenUsage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

func (a *OllamaAdapter) HealthCheck(ctx context.Context) error {
	if a.baseURL == "" {
		return fmt.Errorf("ollama: no base URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check returned %d", resp.StatusCode)
	}
	return nil
}
