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

const azureAPIVersion = "2024-06-01"

// AzureOpenAIAdapter calls an Azure OpenAI deployment. Azure's chat
// completions endpoint is keyed by deployment name rather than model name,
// so Generate's model parameter is treated as the deployment name.
type AzureOpenAIAdapter struct {
	endpoint string // e.g. https://my-resource.openai.azure.com
	apiKey   string
	client   *http.Client
}

// NewAzureOpenAIAdapter builds an adapter; endpoint or apiKey empty means
// unavailable.
func NewAzureOpenAIAdapter(endpoint, apiKey string) *AzureOpenAIAdapter {
	return &AzureOpenAIAdapter{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *AzureOpenAIAdapter) Vendor() dispatch.Vendor { return dispatch.VendorAzure }
func (a *AzureOpenAIAdapter) IsAvailable() bool       { return a.endpoint != "" && a.apiKey != "" }
func (a *AzureOpenAIAdapter) Supports(model string) bool { return true }

func (a *AzureOpenAIAdapter) url(deployment string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.endpoint, deployment, azureAPIVersion)
}

func (a *AzureOpenAIAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	body, err := json.Marshal(map[string]any{
		"messages":    toOpenAIMessages(messages),
		"max_tokens":  2048,
		"temperature": 0.7,
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("azure-openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url(model), bytes.NewReader(body))
	if err != nil {
		return dispatch.GenerateResult{}, err
	}
	req.Header.Set("api-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("azure-openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return dispatch.GenerateResult{}, fmt.Errorf("azure-openai: API error (%d): %s", resp.StatusCode, raw)
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
		return dispatch.GenerateResult{}, fmt.Errorf("azure-openai: decode response: %w", err)
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

func (a *AzureOpenAIAdapter) HealthCheck(ctx context.Context) error {
	if !a.IsAvailable() {
		return fmt.Errorf("azure-openai: endpoint or API key not configured")
	}
	url := fmt.Sprintf("%s/openai/models?api-version=%s", a.endpoint, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("azure-openai: health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("azure-openai: health check returned %d", resp.StatusCode)
	}
	return nil
}
