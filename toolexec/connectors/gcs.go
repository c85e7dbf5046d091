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
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConnector implements Connector for Google Cloud Storage, adapted from
// the teacher's connectors/gcs.GCSConnector: Query lists objects under a
// prefix, Execute writes or deletes one.
type GCSConnector struct {
	config *Config
	client *storage.Client
	bucket string
}

func NewGCSConnector() *GCSConnector { return &GCSConnector{} }

func (c *GCSConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	c.bucket, _ = config.Options["bucket"].(string)

	var opts []option.ClientOption
	if credFile, ok := config.Credentials["credentials_file"]; ok && credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	} else if credJSON, ok := config.Credentials["credentials_json"]; ok && credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	if endpoint, ok := config.Options["endpoint"].(string); ok && endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return NewError(config.Name, "Connect", "failed to create GCS client", err)
	}
	c.client = client

	if c.bucket != "" {
		if _, err := c.client.Bucket(c.bucket).Attrs(ctx); err != nil {
			return NewError(config.Name, "Connect", "bucket unreachable", err)
		}
	}
	return nil
}

func (c *GCSConnector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *GCSConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.client == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	it := c.client.Buckets(ctx, "")
	_, err := it.Next()
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil && err != iterator.Done {
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true
	return status, nil
}

func (c *GCSConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	bucket := c.bucketFor(q.Parameters)
	start := time.Now()
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: q.Statement})

	rows := make([]map[string]any, 0)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewError(c.name(), "Query", "list objects failed", err)
		}
		rows = append(rows, map[string]any{
			"key":     attrs.Name,
			"size":    attrs.Size,
			"updated": attrs.Updated,
		})
		if q.Limit > 0 && len(rows) >= q.Limit {
			break
		}
	}
	return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name()}, nil
}

func (c *GCSConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	bucket := c.bucketFor(cmd.Parameters)
	obj := c.client.Bucket(bucket).Object(cmd.Statement)
	start := time.Now()

	switch cmd.Action {
	case "delete":
		if err := obj.Delete(ctx); err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "delete object failed", err)
		}
		return &CommandResult{Success: true, Message: "deleted", Connector: c.name(), Duration: time.Since(start)}, nil
	default:
		body, _ := cmd.Parameters["body"].(string)
		w := obj.NewWriter(ctx)
		if _, err := io.WriteString(w, body); err != nil {
			w.Close()
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "write object failed", err)
		}
		if err := w.Close(); err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "close writer failed", err)
		}
		return &CommandResult{Success: true, RowsAffected: 1, Message: "put", Connector: c.name(), Duration: time.Since(start)}, nil
	}
}

func (c *GCSConnector) bucketFor(params map[string]any) string {
	if b, ok := params["bucket"].(string); ok && b != "" {
		return b
	}
	return c.bucket
}

func (c *GCSConnector) Name() string { return c.name() }
func (c *GCSConnector) name() string {
	if c.config == nil {
		return "gcs"
	}
	return c.config.Name
}
func (c *GCSConnector) Type() string           { return "gcs" }
func (c *GCSConnector) Version() string        { return "1.0.0" }
func (c *GCSConnector) Capabilities() []string { return []string{"query", "execute", "presign", "streaming"} }
