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
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLConnector implements Connector for MySQL, following the same
// database/sql shape as PostgresConnector (teacher's
// connectors/mysql.MySQLConnector).
type MySQLConnector struct {
	config *Config
	db     *sql.DB
}

func NewMySQLConnector() *MySQLConnector { return &MySQLConnector{} }

func (c *MySQLConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	db, err := sql.Open("mysql", config.ConnectionURL)
	if err != nil {
		return NewError(config.Name, "Connect", "failed to open connection", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return NewError(config.Name, "Connect", "failed to ping database", err)
	}
	c.db = db
	return nil
}

func (c *MySQLConnector) Disconnect(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *MySQLConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
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

func (c *MySQLConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
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
	return &QueryResult{Rows: result, RowCount: len(result), Duration: time.Since(start), Connector: c.name()}, nil
}

func (c *MySQLConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
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
	return &CommandResult{Success: true, RowsAffected: int(affected), Duration: time.Since(start), Connector: c.name(), Message: "ok"}, nil
}

func (c *MySQLConnector) Name() string {
	return c.name()
}
func (c *MySQLConnector) name() string {
	if c.config == nil {
		return "mysql"
	}
	return c.config.Name
}
func (c *MySQLConnector) Type() string           { return "mysql" }
func (c *MySQLConnector) Version() string        { return "1.0.0" }
func (c *MySQLConnector) Capabilities() []string { return []string{"query", "execute", "transactions"} }
