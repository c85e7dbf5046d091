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
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver for the metrics sink
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/denys89/agentorchestrator/budget"
	"github.com/denys89/agentorchestrator/dispatch"
	"github.com/denys89/agentorchestrator/dispatch/providers"
	"github.com/denys89/agentorchestrator/shared/logger"
	"github.com/denys89/agentorchestrator/toolexec"
	"github.com/denys89/agentorchestrator/toolexec/connectors"
)

// Prometheus metrics for the orchestrator's HTTP surface, following
// agent/gateway_handlers.go's var-block + MustRegister idiom.
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_orchestrator_requests_total",
			Help: "Total number of requests processed by the orchestrator",
		},
		[]string{"route", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_orchestrator_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
}

// Server is the composition root: every orchestrator dependency constructed
// once at startup and injected into the HTTP handlers, rather than held as
// package-level singletons.
type Server struct {
	agents AgentStore

	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher

	costEngine      *budget.CostEngine
	rateLimiter     *budget.RateLimiter
	anomalyDetector *budget.AnomalyDetector
	ledger          *budget.LedgerClient

	toolRegistry *toolexec.ToolRegistry
	permissions  *toolexec.PermissionGateway
	quota        *toolexec.QuotaManager
	dagExecutor  *toolexec.DAGExecutor

	log *logger.Logger
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Run is the exported entry point: it wires the dispatch, budget, and
// tool-execution pipelines, registers the HTTP routes, and blocks serving
// traffic until the process exits.
func Run() {
	log.Println("Starting agent task orchestrator...")

	srv := newServer()

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.healthHandler).Methods("GET")
	r.HandleFunc("/execute", srv.instrument("execute", srv.executeHandler)).Methods("POST")
	r.HandleFunc("/execute-async", srv.instrument("execute-async", srv.executeAsyncHandler)).Methods("POST")
	r.HandleFunc("/agents", srv.instrument("agents", srv.agentsHandler)).Methods("GET")
	r.HandleFunc("/execute-tools", srv.instrument("execute-tools", srv.executeToolsHandler)).Methods("POST")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := getEnv("PORT", "8081")
	handler := c.Handler(r)
	log.Printf("agent task orchestrator listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// newServer builds every dependency from environment variables and the two
// YAML configuration sources (§6), falling back to built-in defaults on any
// read/parse error rather than failing to boot.
func newServer() *Server {
	log := logger.New("orchestrator")
	logf := func(format string, args ...any) { log.Info("", "", fmt.Sprintf(format, args...), nil) }

	registry := dispatch.NewRegistry()
	if err := registry.LoadFromYAML(getEnv("MODEL_CONFIG_PATH", "config/models.yaml"), logf); err != nil {
		logf("model config not loaded, using built-in descriptors: %v", err)
	}

	extractor := dispatch.NewCapabilityExtractor()
	scorer := dispatch.NewScoringEngine()
	policy := dispatch.NewPolicyEnforcer()
	if err := policy.LoadPoliciesFromYAML(getEnv("POLICY_CONFIG_PATH", "config/policies.yaml"), scorer, extractor, logf); err != nil {
		logf("policy config not loaded, using built-in policies: %v", err)
	}

	adapters := buildAdapterRegistry(logf)

	var metricsSink dispatch.MetricsSink
	if db := openMetricsDB(logf); db != nil {
		if _, err := db.Exec(dispatch.CreateTableSQL); err != nil {
			logf("failed to ensure model_execution_metrics schema: %v", err)
		}
		metricsSink = dispatch.NewPostgresMetricsSink(db, logf)
	}

	dispatcher := dispatch.NewDispatcher(registry, extractor, scorer, policy, adapters, metricsSink, logf)
	log.Info("", "", "provider status:\n"+dispatcher.ProviderStatusBanner(context.Background()), nil)

	redisClient := buildRedisClient(logf)

	invoker := buildToolInvoker(logf)
	toolRegistry := toolexec.NewToolRegistry()
	registerBuiltinTools(toolRegistry)
	permissions := toolexec.NewPermissionGateway()
	quota := toolexec.NewQuotaManager()
	dagExecutor := toolexec.NewDAGExecutor(toolRegistry, permissions, quota, invoker)

	return &Server{
		agents:          NewInMemoryAgentStore(defaultAgentTemplates()...),
		registry:        registry,
		dispatcher:      dispatcher,
		costEngine:      budget.NewCostEngine(),
		rateLimiter:     budget.NewRateLimiter(redisClient),
		anomalyDetector: budget.NewAnomalyDetector(),
		ledger:          budget.NewLedgerClient(getEnv("LEDGER_BACKEND_URL", ""), getEnv("LEDGER_SHARED_SECRET", "")),
		toolRegistry:    toolRegistry,
		permissions:     permissions,
		quota:           quota,
		dagExecutor:     dagExecutor,
		log:             log,
	}
}

// buildAdapterRegistry constructs one Adapter per vendor whose credentials
// are present in the environment, logging only a short key prefix, never
// the full secret, mirroring LoadLLMConfig's partial-key logging.
func buildAdapterRegistry(logf func(string, ...any)) *dispatch.AdapterRegistry {
	var built []dispatch.Adapter

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		logf("OpenAI adapter enabled (key: %s...)", key[:min(8, len(key))])
		built = append(built, providers.NewOpenAIAdapter(key))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		logf("Anthropic adapter enabled (key: %s...)", key[:min(8, len(key))])
		built = append(built, providers.NewAnthropicAdapter(key))
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		logf("Gemini adapter enabled (key: %s...)", key[:min(8, len(key))])
		built = append(built, providers.NewGeminiAdapter(key))
	}
	if endpoint, key := os.Getenv("AZURE_OPENAI_ENDPOINT"), os.Getenv("AZURE_OPENAI_API_KEY"); endpoint != "" && key != "" {
		logf("Azure OpenAI adapter enabled (endpoint: %s)", endpoint)
		built = append(built, providers.NewAzureOpenAIAdapter(endpoint, key))
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		adapter, err := providers.NewBedrockAdapter(ctx, region)
		cancel()
		if err != nil {
			logf("Bedrock adapter unavailable: %v", err)
		} else {
			logf("Bedrock adapter enabled (region: %s)", region)
			built = append(built, adapter)
		}
	}
	ollamaEndpoint := getEnv("OLLAMA_ENDPOINT", "http://localhost:11434")
	logf("Ollama adapter enabled (endpoint: %s)", ollamaEndpoint)
	built = append(built, providers.NewOllamaAdapter(ollamaEndpoint))

	return dispatch.NewAdapterRegistry(built...)
}

// openMetricsDB opens the metrics-sink Postgres connection, returning nil
// (never failing boot) when DATABASE_URL is unset or unreachable, matching
// the teacher's fail-soft database initialization.
func openMetricsDB(logf func(string, ...any)) *sql.DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logf("DATABASE_URL not set, model execution metrics will not be recorded")
		return nil
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logf("failed to open metrics database: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logf("metrics database unreachable, continuing without it: %v", err)
		return nil
	}
	logf("connected to metrics database")
	return db
}

// buildRedisClient returns nil (triggering RateLimiter's in-memory
// fallback) when REDIS_URL is unset or unparseable.
func buildRedisClient(logf func(string, ...any)) *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logf("REDIS_URL not set, rate limiter will use its in-memory fallback")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logf("failed to parse REDIS_URL, using in-memory rate limiter: %v", err)
		return nil
	}
	return redis.NewClient(opts)
}

// registerBuiltinTools seeds the registry with one descriptor per wired
// connector vendor plus the code sandbox, standing in for an operator-owned
// tool catalog (no persisted tool-config source exists per §4.12 — tools
// are registered programmatically, the same way the teacher's connector
// marketplace ships a fixed initial connector set).
func registerBuiltinTools(registry *toolexec.ToolRegistry) {
	vendors := []string{"postgres", "mysql", "s3", "gcs", "azureblob", "http"}
	for _, vendor := range vendors {
		_ = registry.Register(toolexec.ToolDescriptor{
			Name:     vendor + ".query",
			Category: "data",
			Vendor:   vendor,
			InputSchema: toolexec.InputSchema{
				Properties: map[string]toolexec.SchemaProperty{"statement": {Type: "string"}},
				Required:   []string{"statement"},
			},
			Retry:      toolexec.RetryFixed,
			MaxRetries: 2,
			CostTier:   "low",
			Available:  true,
		})
	}
	_ = registry.Register(toolexec.ToolDescriptor{
		Name:     "sandbox.execute",
		Category: "code",
		Vendor:   "sandbox",
		InputSchema: toolexec.InputSchema{
			Properties: map[string]toolexec.SchemaProperty{"code": {Type: "string"}},
			Required:   []string{"code"},
		},
		Retry:      toolexec.RetryNone,
		CostTier:   "free",
		Available:  true,
	})
}

// buildToolInvoker assembles the default ToolInvoker: a sandboxed-code path
// for the "sandbox" vendor and a connector-backed path for every other tool
// vendor (§4.15, §4.16, §4.19).
func buildToolInvoker(logf func(string, ...any)) toolexec.ToolInvoker {
	configs := map[string]*connectors.Config{
		"postgres": {Name: "postgres", Type: "postgres", ConnectionURL: os.Getenv("TOOLS_POSTGRES_URL")},
		"mysql":    {Name: "mysql", Type: "mysql", ConnectionURL: os.Getenv("TOOLS_MYSQL_URL")},
		"s3": {
			Name: "s3", Type: "s3",
			Options: map[string]any{"bucket": os.Getenv("TOOLS_S3_BUCKET"), "region": os.Getenv("TOOLS_S3_REGION")},
		},
		"gcs": {
			Name: "gcs", Type: "gcs",
			Options:     map[string]any{"bucket": os.Getenv("TOOLS_GCS_BUCKET")},
			Credentials: map[string]string{"credentials_file": os.Getenv("TOOLS_GCS_CREDENTIALS_FILE")},
		},
		"azureblob": {
			Name: "azureblob", Type: "azureblob",
			Options:     map[string]any{"container": os.Getenv("TOOLS_AZURE_CONTAINER"), "account_name": os.Getenv("TOOLS_AZURE_ACCOUNT")},
			Credentials: map[string]string{"connection_string": os.Getenv("TOOLS_AZURE_CONNECTION_STRING")},
		},
		"http": {Name: "http", Type: "http", ConnectionURL: os.Getenv("TOOLS_HTTP_BASE_URL")},
	}
	connectorInvoker := toolexec.NewConnectorInvoker(configs)
	sandbox := toolexec.NewSandbox(getEnv("SANDBOX_INTERPRETER", "python3"))
	if !sandbox.IsAvailable() {
		logf("sandbox interpreter unavailable; sandbox tool calls will fail closed")
	}
	return &sandboxingInvoker{connectors: connectorInvoker, sandbox: sandbox}
}

