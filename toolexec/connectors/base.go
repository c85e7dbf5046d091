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

// Package connectors implements the per-vendor tool adapters the DAG
// executor dispatches to, grounded on the teacher's
// connectors/base.Connector contract (§4.19): a common
// Connect/Disconnect/HealthCheck/Query/Execute lifecycle that every
// vendor-specific backend (postgres, mysql, mongodb, cassandra, s3, gcs,
// azure blob, generic HTTP) implements the same way.
package connectors

import (
	"context"
	"time"
)

// Config holds the configuration for a connector instance.
type Config struct {
	Name          string
	Type          string
	ConnectionURL string
	Credentials   map[string]string
	Options       map[string]any
	Timeout       time.Duration
	MaxRetries    int
	TenantID      string
}

// Query is a read operation (MCP Resource pattern).
type Query struct {
	Statement  string
	Parameters map[string]any
	Timeout    time.Duration
	Limit      int
}

// QueryResult is the outcome of a Query.
type QueryResult struct {
	Rows      []map[string]any
	RowCount  int
	Duration  time.Duration
	Connector string
	Metadata  map[string]any
}

// Command is a write operation (MCP Tool pattern).
type Command struct {
	Action     string
	Statement  string
	Parameters map[string]any
	Timeout    time.Duration
}

// CommandResult is the outcome of a Command.
type CommandResult struct {
	Success      bool
	RowsAffected int
	Duration     time.Duration
	Message      string
	Connector    string
	Metadata     map[string]any
}

// HealthStatus reports a connector's current health.
type HealthStatus struct {
	Healthy   bool
	Latency   time.Duration
	Details   map[string]string
	Timestamp time.Time
	Error     string
}

// Connector is the interface every vendor-specific adapter implements,
// mirrored directly from the teacher's connectors/base.Connector.
type Connector interface {
	Connect(ctx context.Context, config *Config) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	Query(ctx context.Context, q *Query) (*QueryResult, error)
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)

	Name() string
	Type() string
	Version() string
	Capabilities() []string
}

// Error represents an error from a specific connector operation.
type Error struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a connector Error.
func NewError(connectorName, operation, message string, cause error) *Error {
	return &Error{ConnectorName: connectorName, Operation: operation, Message: message, Cause: cause}
}
