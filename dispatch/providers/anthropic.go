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
	"time"

	"github.com/denys89/agentorchestrator/dispatch"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter calls the Anthropic Messages API directly over net/http.
type AnthropicAdapter struct {
	apiKey string
	client *http.Client
}

// NewAnthropicAdapter builds an adapter; apiKey empty means unavailable.
func NewAnthropicAdapter(apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *AnthropicAdapter) Vendor() dispatch.Vendor   { return dispatch.VendorAnthropic }
func (a *AnthropicAdapter) IsAvailable() bool         { return a.apiKey != "" }
func (a *AnthropicAdapter) Supports(model string) bool { return true }

// splitSystemMessage pulls the leading system message out of messages,
// since Anthropic's Messages API takes "system" as a top-level field.
func splitSystemMessage(messages []dispatch.ChatMessage) (string, []map[string]string) {
	system := ""
	rest := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		if m.Role == dispatch.RoleSystem && system == "" {
			system = m.Content
			continue
		}
		role := string(m.Role)
		if m.Role == dispatch.RoleSystem {
			role = "user"
		}
		rest = append(rest, map[string]string{"role": role, "content": m.Content})
	}
	return system, rest
}

func (a *AnthropicAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	system, chatMessages := splitSystemMessage(messages)

	body, err := json.Marshal(map[string]any{
		"model":      model,
		"max_tokens": 2048,
		"system":     system,
		"messages":   chatMessages,
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return dispatch.GenerateResult{}, err
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return dispatch.GenerateResult{}, fmt.Errorf("anthropic: API error (%d): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	text := ""
	if len(parsed.Content) > 0 {
		text = parsed.Content[0].Text
	}

	return dispatch.GenerateResult{
		Text: text,
		Usage: dispatch.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicAdapter) HealthCheck(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: no API key configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.anthropic.com/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("anthropic: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anthropic: health check returned %d", resp.StatusCode)
	}
	return nil
}
