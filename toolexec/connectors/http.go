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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// HTTPConnector implements Connector for generic REST/webhook tools,
// adapted from the teacher's connectors/http.HTTPConnector down to this
// package's Query/Execute shape: Query issues a GET against the
// statement's path, Execute issues a POST (or cmd.Action's method).
type HTTPConnector struct {
	config  *Config
	client  *http.Client
	baseURL string
	headers map[string]string
}

func NewHTTPConnector() *HTTPConnector { return &HTTPConnector{} }

func (c *HTTPConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	c.baseURL = config.ConnectionURL
	c.headers = make(map[string]string, len(config.Credentials))
	for k, v := range config.Credentials {
		c.headers[k] = v
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.client = &http.Client{Timeout: timeout}
	return nil
}

func (c *HTTPConnector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

func (c *HTTPConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.client == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return &HealthStatus{Healthy: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	resp, err := c.client.Do(req)
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	defer resp.Body.Close()
	status.Healthy = resp.StatusCode < 500
	return status, nil
}

func (c *HTTPConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+q.Statement, nil)
	if err != nil {
		return nil, NewError(c.name(), "Query", "failed to build request", err)
	}
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(c.name(), "Query", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(c.name(), "Query", "failed to read response", err)
	}

	rows := decodeRows(body)
	return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name(),
		Metadata: map[string]any{"status_code": resp.StatusCode}}, nil
}

func (c *HTTPConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	method := cmd.Action
	if method == "" {
		method = http.MethodPost
	}
	start := time.Now()

	var body io.Reader
	if payload, ok := cmd.Parameters["body"]; ok {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, NewError(c.name(), "Execute", "failed to encode body", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+cmd.Statement, body)
	if err != nil {
		return nil, NewError(c.name(), "Execute", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
			NewError(c.name(), "Execute", "request failed", err)
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	return &CommandResult{
		Success:   success,
		Message:   resp.Status,
		Connector: c.name(),
		Duration:  time.Since(start),
		Metadata:  map[string]any{"status_code": resp.StatusCode},
	}, nil
}

func (c *HTTPConnector) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func decodeRows(body []byte) []map[string]any {
	var asSlice []map[string]any
	if err := json.Unmarshal(body, &asSlice); err == nil {
		return asSlice
	}
	var asObject map[string]any
	if err := json.Unmarshal(body, &asObject); err == nil {
		return []map[string]any{asObject}
	}
	return nil
}

func (c *HTTPConnector) Name() string { return c.name() }
func (c *HTTPConnector) name() string {
	if c.config == nil {
		return "http"
	}
	return c.config.Name
}
func (c *HTTPConnector) Type() string           { return "http" }
func (c *HTTPConnector) Version() string        { return "1.0.0" }
func (c *HTTPConnector) Capabilities() []string { return []string{"query", "execute"} }
