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

package toolexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/denys89/agentorchestrator/toolexec/connectors"
)

// ConnectorInvoker is the default ToolInvoker: it dispatches each step to
// the connectors.Connector registered for the tool's vendor, translating
// the step's inputs into either a Query (operation "query", the default)
// or a Command (operation "execute"), per §4.16/§4.19. Connections are
// established lazily and cached per vendor, mirroring the teacher's
// connector-pool-on-first-use idiom.
type ConnectorInvoker struct {
	configs map[string]*connectors.Config

	mu       sync.Mutex
	byVendor map[string]connectors.Connector
}

// NewConnectorInvoker builds an invoker over a vendor -> connection config
// map (one entry per tool vendor the Tool Registry serves).
func NewConnectorInvoker(configs map[string]*connectors.Config) *ConnectorInvoker {
	return &ConnectorInvoker{
		configs:  configs,
		byVendor: make(map[string]connectors.Connector),
	}
}

func newConnectorFor(vendor string) (connectors.Connector, error) {
	switch vendor {
	case "postgres", "postgresql":
		return connectors.NewPostgresConnector(), nil
	case "mysql":
		return connectors.NewMySQLConnector(), nil
	case "mongodb", "mongo":
		return connectors.NewMongoDBConnector(), nil
	case "cassandra":
		return connectors.NewCassandraConnector(), nil
	case "s3":
		return connectors.NewS3Connector(), nil
	case "gcs":
		return connectors.NewGCSConnector(), nil
	case "azureblob", "azure_blob":
		return connectors.NewAzureBlobConnector(), nil
	case "http", "webhook":
		return connectors.NewHTTPConnector(), nil
	default:
		return nil, fmt.Errorf("toolexec: no connector registered for vendor %q", vendor)
	}
}

func (inv *ConnectorInvoker) connectorFor(ctx context.Context, vendor string) (connectors.Connector, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if c, ok := inv.byVendor[vendor]; ok {
		return c, nil
	}

	c, err := newConnectorFor(vendor)
	if err != nil {
		return nil, err
	}

	cfg := inv.configs[vendor]
	if cfg == nil {
		cfg = &connectors.Config{Name: vendor, Type: vendor}
	}
	if err := c.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("toolexec: connect %s: %w", vendor, err)
	}
	inv.byVendor[vendor] = c
	return c, nil
}

// Invoke implements ToolInvoker. inputs["operation"] selects Query (the
// default) vs "execute" for Command; inputs["statement"] carries the
// query/command statement, and inputs["parameters"] its bound parameters.
func (inv *ConnectorInvoker) Invoke(ctx context.Context, tool ToolDescriptor, inputs map[string]any) (map[string]any, error) {
	conn, err := inv.connectorFor(ctx, tool.Vendor)
	if err != nil {
		return nil, err
	}

	statement, _ := inputs["statement"].(string)
	parameters, _ := inputs["parameters"].(map[string]any)
	if parameters == nil {
		parameters = inputs
	}

	operation, _ := inputs["operation"].(string)
	if operation == "execute" {
		action, _ := inputs["action"].(string)
		result, err := conn.Execute(ctx, &connectors.Command{Action: action, Statement: statement, Parameters: parameters})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":       result.Success,
			"rows_affected": result.RowsAffected,
			"message":       result.Message,
		}, nil
	}

	limit, _ := inputs["limit"].(int)
	result, err := conn.Query(ctx, &connectors.Query{Statement: statement, Parameters: parameters, Limit: limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"rows":      result.Rows,
		"row_count": result.RowCount,
	}, nil
}
