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
	"strings"
	"time"

	"github.com/gocql/gocql" // Cassandra/Scylla driver
)

// CassandraConnector implements Connector for Apache Cassandra / ScyllaDB,
// adapted from the teacher's connectors/cassandra.CassandraConnector.
type CassandraConnector struct {
	config  *Config
	cluster *gocql.ClusterConfig
	session *gocql.Session
}

func NewCassandraConnector() *CassandraConnector { return &CassandraConnector{} }

func (c *CassandraConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	hosts, keyspace := parseCassandraURL(config.ConnectionURL)

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = config.Timeout
	if cluster.Timeout == 0 {
		cluster.Timeout = 10 * time.Second
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return NewError(config.Name, "Connect", "failed to create session", err)
	}

	c.cluster = cluster
	c.session = session
	return nil
}

func (c *CassandraConnector) Disconnect(ctx context.Context) error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}

func (c *CassandraConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.session == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	if err := c.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err != nil {
		return &HealthStatus{Latency: time.Since(start), Timestamp: time.Now(), Error: err.Error()}, nil
	}
	return &HealthStatus{Healthy: true, Latency: time.Since(start), Timestamp: time.Now()}, nil
}

func (c *CassandraConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.session == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	start := time.Now()

	args := namedParamsToPositional(q.Parameters)
	iter := c.session.Query(q.Statement, args...).WithContext(ctx).Iter()

	var rows []map[string]any
	row := map[string]any{}
	for iter.MapScan(row) {
		copied := make(map[string]any, len(row))
		for k, v := range row {
			copied[k] = v
		}
		rows = append(rows, copied)
		row = map[string]any{}
		if q.Limit > 0 && len(rows) >= q.Limit {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return nil, NewError(c.name(), "Query", "iteration failed", err)
	}

	return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name()}, nil
}

func (c *CassandraConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.session == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	start := time.Now()
	args := namedParamsToPositional(cmd.Parameters)
	if err := c.session.Query(cmd.Statement, args...).WithContext(ctx).Exec(); err != nil {
		return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
			NewError(c.name(), "Execute", "exec failed", err)
	}
	return &CommandResult{Success: true, Duration: time.Since(start), Connector: c.name(), Message: "ok"}, nil
}

func (c *CassandraConnector) Name() string {
	return c.name()
}
func (c *CassandraConnector) name() string {
	if c.config == nil {
		return "cassandra"
	}
	return c.config.Name
}
func (c *CassandraConnector) Type() string           { return "cassandra" }
func (c *CassandraConnector) Version() string        { return "1.0.0" }
func (c *CassandraConnector) Capabilities() []string { return []string{"query", "execute"} }

// parseCassandraURL parses "cassandra://host1,host2:9042/keyspace" into
// its host list and keyspace.
func parseCassandraURL(url string) (hosts []string, keyspace string) {
	trimmed := strings.TrimPrefix(url, "cassandra://")
	parts := strings.SplitN(trimmed, "/", 2)
	hostPart := parts[0]
	if len(parts) > 1 {
		keyspace = parts[1]
	}
	hosts = strings.Split(hostPart, ",")
	return hosts, keyspace
}
