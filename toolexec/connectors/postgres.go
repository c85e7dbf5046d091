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

package connectors

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConnector implements Connector for PostgreSQL, adapted from the
// teacher's connectors/postgres.PostgresConnector.
type PostgresConnector struct {
	config *Config
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresConnector builds an unconnected PostgreSQL connector.
func NewPostgresConnector() *PostgresConnector {
	return &PostgresConnector{logger: log.New(os.Stdout, "[TOOLEXEC_POSTGRES] ", log.LstdFlags)}
}

func (c *PostgresConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config

	db, err := sql.Open("postgres", config.ConnectionURL)
	if err != nil {
		return NewError(config.Name, "Connect", "failed to open connection", err)
	}

	maxOpenConns, maxIdleConns := 25, 5
	connMaxLifetime := 5 * time.Minute
	if v, ok := config.Options["max_open_conns"].(int); ok {
		maxOpenConns = v
	}
	if v, ok := config.Options["max_idle_conns"].(int); ok {
		maxIdleConns = v
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return NewError(config.Name, "Connect", "failed to ping database", err)
	}

	c.db = db
	c.logger.Printf("connected to postgres: %s (max_conns=%d)", config.Name, maxOpenConns)
	return nil
}

func (c *PostgresConnector) Disconnect(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return NewError(c.config.Name, "Disconnect", "failed to close connection", err)
	}
	return nil
}

func (c *PostgresConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.db == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	err := c.db.PingContext(ctx)
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true
	return status, nil
}

func (c *PostgresConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.db == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	start := time.Now()

	args := namedParamsToPositional(q.Parameters)
	rows, err := c.db.QueryContext(ctx, q.Statement, args...)
	if err != nil {
		return nil, NewError(c.name(), "Query", "query failed", err)
	}
	defer rows.Close()

	result, err := scanRows(rows, q.Limit)
	if err != nil {
		return nil, NewError(c.name(), "Query", "failed to scan rows", err)
	}

	return &QueryResult{
		Rows:      result,
		RowCount:  len(result),
		Duration:  time.Since(start),
		Connector: c.name(),
	}, nil
}

func (c *PostgresConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.db == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	start := time.Now()

	args := namedParamsToPositional(cmd.Parameters)
	res, err := c.db.ExecContext(ctx, cmd.Statement, args...)
	if err != nil {
		return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
			NewError(c.name(), "Execute", "exec failed", err)
	}

	affected, _ := res.RowsAffected()
	return &CommandResult{
		Success:      true,
		RowsAffected: int(affected),
		Duration:     time.Since(start),
		Connector:    c.name(),
		Message:      "ok",
	}, nil
}

func (c *PostgresConnector) Name() string { return c.name() }
func (c *PostgresConnector) name() string {
	if c.config == nil {
		return "postgres"
	}
	return c.config.Name
}
func (c *PostgresConnector) Type() string           { return "postgres" }
func (c *PostgresConnector) Version() string        { return "1.0.0" }
func (c *PostgresConnector) Capabilities() []string { return []string{"query", "execute", "transactions"} }

// namedParamsToPositional flattens a parameters map into a deterministic
// positional arg slice; real deployments pass already-positional
// $1/$2-style statements with parameters supplied in order under numeric
// string keys ("1", "2", ...).
func namedParamsToPositional(params map[string]any) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, 0, len(params))
	for i := 1; ; i++ {
		v, ok := params[itoa(i)]
		if !ok {
			break
		}
		args = append(args, v)
	}
	return args
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func scanRows(rows *sql.Rows, limit int) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
