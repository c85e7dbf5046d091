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

/*
Package orchestrator is the composition root and HTTP surface for the agent
task orchestrator: it wires the model dispatch, cost/budget guard, and tool
execution pipelines behind five API routes plus a Prometheus metrics
endpoint, and starts the server.

# Environment Variables

All variables are optional:
  - DATABASE_URL: PostgreSQL connection string for the metrics sink; when
    unset, dispatch metrics are not recorded.
  - LEDGER_BACKEND_URL: base URL of the credit ledger backend; when unset,
    the ledger client fails open and no task-complete webhook is sent.
  - LEDGER_SHARED_SECRET: shared secret sent as X-Internal-API-Key.
  - PORT: HTTP server port (default: 8081).
  - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY: vendor API keys.
  - AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY: Azure OpenAI.
  - BEDROCK_REGION: AWS Bedrock region.
  - OLLAMA_ENDPOINT: local-vendor base URL (default: http://localhost:11434).
  - REDIS_URL: sliding-window rate-limiter backing store.
  - MODEL_CONFIG_PATH: model descriptors + vendor defaults YAML (default:
    config/models.yaml).
  - POLICY_CONFIG_PATH: scoring weights / restricted patterns / provider
    priority / cost fallbacks / role table YAML (default: config/policies.yaml).
  - SANDBOX_INTERPRETER: interpreter probed for the code sandbox tool
    (default: python3).
*/
package orchestrator
