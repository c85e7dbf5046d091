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
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlobConnector implements Connector for Azure Blob Storage, adapted
// from the teacher's connectors/azureblob.AzureBlobConnector: Query lists
// blobs in a container, Execute uploads or deletes one.
type AzureBlobConnector struct {
	config    *Config
	client    *azblob.Client
	container string
}

func NewAzureBlobConnector() *AzureBlobConnector { return &AzureBlobConnector{} }

func (c *AzureBlobConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	c.container, _ = config.Options["container"].(string)
	accountName, _ := config.Options["account_name"].(string)

	var client *azblob.Client
	var err error

	if connString, ok := config.Credentials["connection_string"]; ok && connString != "" {
		client, err = azblob.NewClientFromConnectionString(connString, nil)
	} else {
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return NewError(config.Name, "Connect", "failed to build Azure credential", credErr)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
	}
	if err != nil {
		return NewError(config.Name, "Connect", "failed to create Azure blob client", err)
	}
	c.client = client
	return nil
}

func (c *AzureBlobConnector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

func (c *AzureBlobConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.client == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	containerClient := c.client.ServiceClient().NewContainerClient(c.containerFor(nil))
	pager := containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{})
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			status.Error = err.Error()
			return status, nil
		}
	}
	status.Healthy = true
	return status, nil
}

func (c *AzureBlobConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	containerName := c.containerFor(q.Parameters)
	start := time.Now()
	containerClient := c.client.ServiceClient().NewContainerClient(containerName)
	pager := containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &q.Statement})

	rows := make([]map[string]any, 0)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, NewError(c.name(), "Query", "list blobs failed", err)
		}
		for _, item := range page.Segment.BlobItems {
			row := map[string]any{"key": *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				row["size"] = *item.Properties.ContentLength
			}
			rows = append(rows, row)
			if q.Limit > 0 && len(rows) >= q.Limit {
				return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name()}, nil
			}
		}
	}
	return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name()}, nil
}

func (c *AzureBlobConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	containerName := c.containerFor(cmd.Parameters)
	start := time.Now()

	switch cmd.Action {
	case "delete":
		if _, err := c.client.DeleteBlob(ctx, containerName, cmd.Statement, nil); err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "delete blob failed", err)
		}
		return &CommandResult{Success: true, Message: "deleted", Connector: c.name(), Duration: time.Since(start)}, nil
	default:
		body, _ := cmd.Parameters["body"].(string)
		if _, err := c.client.UploadBuffer(ctx, containerName, cmd.Statement, []byte(body), &azblob.UploadBufferOptions{}); err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "upload blob failed", err)
		}
		return &CommandResult{Success: true, RowsAffected: 1, Message: "uploaded", Connector: c.name(), Duration: time.Since(start)}, nil
	}
}

func (c *AzureBlobConnector) containerFor(params map[string]any) string {
	if params != nil {
		if v, ok := params["container"].(string); ok && v != "" {
			return v
		}
	}
	return c.container
}

func (c *AzureBlobConnector) Name() string { return c.name() }
func (c *AzureBlobConnector) name() string {
	if c.config == nil {
		return "azureblob"
	}
	return c.config.Name
}
func (c *AzureBlobConnector) Type() string    { return "azureblob" }
func (c *AzureBlobConnector) Version() string { return "1.0.0" }
func (c *AzureBlobConnector) Capabilities() []string {
	return []string{"query", "execute", "presign", "streaming"}
}
