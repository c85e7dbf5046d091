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

// Package providers implements the dispatch.Adapter contract for each
// supported LLM vendor.
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

// OpenAIAdapter calls the OpenAI chat-completions API directly over
// net/http, matching the teacher's hand-rolled HTTP client rather than an
// SDK (OpenAI has no official Go SDK in the teacher's dependency set).
type OpenAIAdapter struct {
	apiKey string
	client *http.Client
}

// NewOpenAIAdapter builds an adapter; apiKey empty means unavailable.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *OpenAIAdapter) Vendor() dispatch.Vendor { return dispatch.VendorOpenAI }
func (a *OpenAIAdapter) IsAvailable() bool       { return a.apiKey != "" }
func (a *OpenAIAdapter) Supports(model string) bool {
	return true // model identity is validated against the registry, not here
}

func toOpenAIMessages(messages []dispatch.ChatMessage) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	return out
}

func (a *OpenAIAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	body, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    toOpenAIMessages(messages),
		"max_tokens":  2048,
		"temperature": 0.7,
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return dispatch.GenerateResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return dispatch.GenerateResult{}, fmt.Errorf("openai: API error (%d): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("openai: decode response: %w", err)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	return dispatch.GenerateResult{
		Text: content,
		Usage: dispatch.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("openai: no API key configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.openai.com/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: health check returned %d", resp.StatusCode)
	}
	return nil
}
