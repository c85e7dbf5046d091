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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/denys89/agentorchestrator/dispatch"
)

// supportedBedrockFamilies are the model families this adapter can
// translate requests/responses for.
var supportedBedrockFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// inferenceProfilePrefixes are the known AWS Bedrock inference-profile
// regional prefixes (e.g. "us.anthropic.claude-...").
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

// BedrockAdapter calls AWS Bedrock's InvokeModel API via the real AWS SDK
// v2, with per-family (anthropic/amazon/meta/mistral) request and response
// translation.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	region string
}

// NewBedrockAdapter builds an adapter for the given AWS region using the
// default credential chain (env vars, shared config, IAM role). An empty
// region yields an adapter with no client, whose IsAvailable reports false;
// a failure to load the AWS config returns nil and the error.
func NewBedrockAdapter(ctx context.Context, region string) (*BedrockAdapter, error) {
	if region == "" {
		return &BedrockAdapter{}, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return &BedrockAdapter{client: bedrockruntime.NewFromConfig(cfg), region: region}, nil
}

func (a *BedrockAdapter) Vendor() dispatch.Vendor    { return dispatch.VendorBedrock }
func (a *BedrockAdapter) IsAvailable() bool          { return a.client != nil }
func (a *BedrockAdapter) Supports(model string) bool { return detectBedrockModelFamily(model) != "" }

func (a *BedrockAdapter) Generate(ctx context.Context, model string, messages []dispatch.ChatMessage) (dispatch.GenerateResult, error) {
	if a.client == nil {
		return dispatch.GenerateResult{}, fmt.Errorf("bedrock: not configured")
	}

	family := detectBedrockModelFamily(model)
	if family == "" {
		return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unsupported model family for %q", model)
	}

	prompt := flattenMessages(messages)
	reqBody, err := buildBedrockRequestBody(family, prompt)
	if err != nil {
		return dispatch.GenerateResult{}, err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return dispatch.GenerateResult{}, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	return parseBedrockResponseBody(family, out.Body)
}

func (a *BedrockAdapter) HealthCheck(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("bedrock: not configured")
	}
	return nil
}

// flattenMessages collapses the chat history into a single prompt string;
// Bedrock's per-family request shapes take a single "prompt"/"inputText"
// field rather than a role-tagged message list (mirrored from the
// teacher's single-turn BedrockProvider.Query).
func flattenMessages(messages []dispatch.ChatMessage) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == dispatch.RoleSystem {
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func buildBedrockRequestBody(family, prompt string) (map[string]any, error) {
	switch family {
	case "anthropic":
		return map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        2048,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}, nil
	case "amazon":
		return map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": 2048,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]any{
			"prompt":      prompt,
			"max_gen_len": 2048,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]any{
			"prompt":     prompt,
			"max_tokens": 2048,
			"top_p":      0.9,
		}, nil
	default:
		return nil, fmt.Errorf("bedrock: unsupported model family: %s", family)
	}
}

func parseBedrockResponseBody(family string, body []byte) (dispatch.GenerateResult, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unmarshal anthropic response: %w", err)
		}
		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		return dispatch.GenerateResult{
			Text: text,
			Usage: dispatch.TokenUsage{
				PromptTokens:     resp.Usage.InputTokens,
				CompletionTokens: resp.Usage.OutputTokens,
				TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			},
		}, nil

	case "amazon":
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
				TokenCount int    `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unmarshal titan response: %w", err)
		}
		text, outTokens := "", 0
		if len(resp.Results) > 0 {
			text = resp.Results[0].OutputText
			outTokens = resp.Results[0].TokenCount
		}
		return dispatch.GenerateResult{
			Text: text,
			Usage: dispatch.TokenUsage{
				PromptTokens:     resp.InputTextTokenCount,
				CompletionTokens: outTokens,
				TotalTokens:      resp.InputTextTokenCount + outTokens,
			},
		}, nil

	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unmarshal llama response: %w", err)
		}
		return dispatch.GenerateResult{
			Text: resp.Generation,
			Usage: dispatch.TokenUsage{
				PromptTokens:     resp.PromptTokenCount,
				CompletionTokens: resp.GenTokenCount,
				TotalTokens:      resp.PromptTokenCount + resp.GenTokenCount,
			},
		}, nil

	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unmarshal mistral response: %w", err)
		}
		text := ""
		if len(resp.Outputs) > 0 {
			text = resp.Outputs[0].Text
		}
		// Mistral on Bedrock doesn't report token counts; metrics fall back
		// to zero-credit per §4.6.
		return dispatch.GenerateResult{Text: text}, nil

	default:
		return dispatch.GenerateResult{}, fmt.Errorf("bedrock: unsupported model family: %s", family)
	}
}

// detectBedrockModelFamily extracts the provider family from a Bedrock
// model ID, tolerating a leading inference-profile region prefix (e.g.
// "us.anthropic.claude-..."), ported verbatim from the teacher's
// detectBedrockModelFamily.
func detectBedrockModelFamily(modelID string) string {
	if modelID == "" {
		return ""
	}
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	first := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if first == prefix && len(segments) > 2 {
			return validateBedrockFamily(segments[1])
		}
	}
	return validateBedrockFamily(first)
}

func validateBedrockFamily(family string) string {
	for _, supported := range supportedBedrockFamilies {
		if family == supported {
			return supported
		}
	}
	return ""
}
