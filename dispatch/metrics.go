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

package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ModelUsageAggregate is the Metrics Sink's per-model rollup over a
// trailing window (§4.17's "aggregate query... per-model totals").
type ModelUsageAggregate struct {
	ModelName     string
	CallCount     int
	SuccessRate   float64
	MeanLatencyMS float64
	TotalTokens   int64
	TotalCostUSD  float64
	FallbackRate  float64
}

// RecentFailure is one row of the Metrics Sink's "recent failures" query.
type RecentFailure struct {
	TaskID    string
	ModelName string
	Error     string
	Timestamp time.Time
}

// PostgresMetricsSink is an append-only store of model-execution records
// backed by Postgres, matching the teacher's cost.PostgresRepository
// SaveUsage/GetUsageForPeriod idiom adapted to the spec's
// model_execution_metrics schema (§6) with secondary indexes on
// task_id/agent_id/selected_model/created_at.
type PostgresMetricsSink struct {
	db   *sql.DB
	logf func(format string, args ...any)
}

// NewPostgresMetricsSink wraps an already-open *sql.DB. Schema creation is
// the caller's responsibility (migrations), mirroring the teacher's
// repository constructors.
func NewPostgresMetricsSink(db *sql.DB, logf func(string, ...any)) *PostgresMetricsSink {
	return &PostgresMetricsSink{db: db, logf: logf}
}

// CreateTableSQL returns the DDL for model_execution_metrics and its four
// secondary indexes (§6), for callers that run their own migrations.
const CreateTableSQL = `
CREATE TABLE IF NOT EXISTS model_execution_metrics (
	id                      BIGSERIAL PRIMARY KEY,
	task_id                 TEXT NOT NULL,
	agent_id                TEXT NOT NULL,
	selected_model          TEXT NOT NULL,
	vendor                  TEXT NOT NULL,
	alternatives_considered TEXT[],
	capability_score        DOUBLE PRECISION,
	total_score             DOUBLE PRECISION,
	latency_ms              BIGINT,
	prompt_tokens           INTEGER,
	completion_tokens       INTEGER,
	total_tokens            INTEGER,
	estimated_usd           DOUBLE PRECISION,
	success                 BOOLEAN NOT NULL,
	error                   TEXT,
	fallback_used           BOOLEAN NOT NULL DEFAULT FALSE,
	fallback_model          TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_model_execution_metrics_task_id ON model_execution_metrics (task_id);
CREATE INDEX IF NOT EXISTS idx_model_execution_metrics_agent_id ON model_execution_metrics (agent_id);
CREATE INDEX IF NOT EXISTS idx_model_execution_metrics_selected_model ON model_execution_metrics (selected_model);
CREATE INDEX IF NOT EXISTS idx_model_execution_metrics_created_at ON model_execution_metrics (created_at);
`

// Record appends one DispatchResult to the durable store. On failure it
// logs and drops the record (best-effort observability per §4.17), never
// propagating the error back to the dispatcher.
func (s *PostgresMetricsSink) Record(ctx context.Context, result DispatchResult) {
	query := `
		INSERT INTO model_execution_metrics (
			task_id, agent_id, selected_model, vendor, alternatives_considered,
			capability_score, total_score, latency_ms, prompt_tokens,
			completion_tokens, total_tokens, estimated_usd, success, error,
			fallback_used, fallback_model, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.TaskID, result.AgentID, result.SelectedModel, result.Vendor,
		pq.Array(result.AlternativesConsidered),
		result.CapabilityScore, result.TotalScore, result.LatencyMS,
		result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens,
		result.EstimatedUSD, result.Success, nullableString(result.Error),
		result.FallbackUsed, nullableString(result.FallbackModel), result.Timestamp,
	)
	if err != nil && s.logf != nil {
		s.logf("metrics sink: failed to record execution for task %s: %v", result.TaskID, err)
	}
}

// Aggregate returns per-model totals over the trailing `days` days.
func (s *PostgresMetricsSink) Aggregate(ctx context.Context, days int) ([]ModelUsageAggregate, error) {
	query := `
		SELECT
			selected_model,
			COUNT(*) AS call_count,
			AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END) AS success_rate,
			AVG(latency_ms) AS mean_latency_ms,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(estimated_usd), 0) AS total_cost_usd,
			AVG(CASE WHEN fallback_used THEN 1.0 ELSE 0.0 END) AS fallback_rate
		FROM model_execution_metrics
		WHERE created_at >= $1
		GROUP BY selected_model
		ORDER BY call_count DESC
	`
	rows, err := s.db.QueryContext(ctx, query, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("metrics sink: aggregate query: %w", err)
	}
	defer rows.Close()

	var out []ModelUsageAggregate
	for rows.Next() {
		var a ModelUsageAggregate
		if err := rows.Scan(&a.ModelName, &a.CallCount, &a.SuccessRate, &a.MeanLatencyMS,
			&a.TotalTokens, &a.TotalCostUSD, &a.FallbackRate); err != nil {
			return nil, fmt.Errorf("metrics sink: scan aggregate row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentFailures returns the most recent failed executions, newest first.
func (s *PostgresMetricsSink) RecentFailures(ctx context.Context, limit int) ([]RecentFailure, error) {
	query := `
		SELECT task_id, selected_model, COALESCE(error, ''), created_at
		FROM model_execution_metrics
		WHERE success = FALSE
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: recent failures query: %w", err)
	}
	defer rows.Close()

	var out []RecentFailure
	for rows.Next() {
		var f RecentFailure
		if err := rows.Scan(&f.TaskID, &f.ModelName, &f.Error, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("metrics sink: scan failure row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
