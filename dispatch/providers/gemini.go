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

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter calls the Gemini generateContent API directly over
// net/http, matching the teacher's hand-rolled wire-protocol style for
// vendors without an official Go SDK in its dependency set.
type GeminiAdapter struct {
	apiKey string
	client *http.Client
}

// NewGeminiAdapter builds an adapter; apiKey empty means unavailable.
func NewGeminiAdapter(apiKey string) *GeminiAdapter {
	return &GeminiAdapter{apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *GeminiAdapter) Vendor() dispatch.Vendor    { return dispatch.VendorGemini }
func (a *GeminiAdapter) IsAvailable() bool          { return a.apiKey != "" }
func (a *GeminiAdapter) Supports(model string) bool { return true }

// geminiContents translates the spec's {system, user, assistant} roles to
// Gemini's {user, model} roles, folding a leading system message into the
// first user turn (Gemini has no first-class system role in this API
// version).
func geminiContents(messages []dispatch.ChatMessage) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	systemPrefix := ""
	for _, m := range messages {
		if m.Role == dispatch.RoleSystem {
			systemPrefix += m.Content + "\n\n"
			continue
		}
		role := "user"
		if m.Role == dispatch.RoleAssistant {
			role = "model"
		}
		text := m.Content
		if systemPrefix != "" && role == "user" {
			text = systemPrefix + text
			systemPrefix = ""
		}
		out = append(out, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": text}},
		})
	}
	return out
}

func (a *GeminiAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	body, err := json.Marshal(map[string]any{
		"contents": geminiContents(messages),
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, model, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dispatch.GenerateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return dispatch.GenerateResult{}, fmt.Errorf("gemini: API error (%d): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	text := ""
	if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
		text = parsed.Candidates[0].Content.Parts[0].Text
	}

	return dispatch.GenerateResult{
		Text: text,
		Usage: dispatch.TokenUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (a *GeminiAdapter) HealthCheck(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("gemini: no API key configured")
	}
	url := fmt.Sprintf("%s/models?key=%s", geminiBaseURL, a.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini: health check returned %d", resp.StatusCode)
	}
	return nil
}
