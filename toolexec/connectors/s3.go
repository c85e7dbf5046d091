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
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Connector implements Connector for Amazon S3 (and S3-compatible
// endpoints via a configurable base URL), adapted from the teacher's
// connectors/s3.S3Connector down to this package's simpler Query/Execute
// shape: Query lists objects under a prefix, Execute puts or deletes one.
type S3Connector struct {
	config *Config
	client *s3.Client
	bucket string
}

func NewS3Connector() *S3Connector { return &S3Connector{} }

func (c *S3Connector) Connect(ctx context.Context, config *Config) error {
	c.config = config
	region := config.Options["region"]
	regionStr, _ := region.(string)
	if regionStr == "" {
		regionStr = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(regionStr))
	if err != nil {
		return NewError(config.Name, "Connect", "failed to load AWS config", err)
	}

	var opts []func(*s3.Options)
	if endpoint, ok := config.Options["endpoint"].(string); ok && endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if forcePathStyle, ok := config.Options["force_path_style"].(bool); ok && forcePathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	c.client = s3.NewFromConfig(awsCfg, opts...)
	c.bucket, _ = config.Options["bucket"].(string)

	if c.bucket != "" {
		if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
			return NewError(config.Name, "Connect", "bucket unreachable", err)
		}
	}
	return nil
}

func (c *S3Connector) Disconnect(ctx context.Context) error {
	c.client = nil
	return nil
}

func (c *S3Connector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.client == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	_, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true
	return status, nil
}

// Query lists objects under the statement's key prefix (MCP Resource
// pattern, per the teacher's "query = list objects" mapping).
func (c *S3Connector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	bucket := c.bucketFor(q.Parameters)
	start := time.Now()
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(q.Statement),
	})
	if err != nil {
		return nil, NewError(c.name(), "Query", "list objects failed", err)
	}
	rows := make([]map[string]any, 0, len(out.Contents))
	for _, obj := range out.Contents {
		rows = append(rows, map[string]any{
			"key":           aws.ToString(obj.Key),
			"size":          aws.ToInt64(obj.Size),
			"last_modified": aws.ToTime(obj.LastModified),
		})
		if q.Limit > 0 && len(rows) >= q.Limit {
			break
		}
	}
	return &QueryResult{Rows: rows, RowCount: len(rows), Duration: time.Since(start), Connector: c.name()}, nil
}

// Execute performs a put or delete object operation; cmd.Action selects
// which (default "put"). The object body is taken from
// cmd.Parameters["body"].
func (c *S3Connector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.client == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	bucket := c.bucketFor(cmd.Parameters)
	start := time.Now()

	switch cmd.Action {
	case "delete":
		_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(cmd.Statement)})
		if err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "delete object failed", err)
		}
		return &CommandResult{Success: true, Message: "deleted", Connector: c.name(), Duration: time.Since(start)}, nil
	default:
		body, _ := cmd.Parameters["body"].(string)
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(cmd.Statement),
			Body:   io.NopCloser(bytes.NewReader([]byte(body))),
		})
		if err != nil {
			return &CommandResult{Success: false, Message: err.Error(), Connector: c.name(), Duration: time.Since(start)},
				NewError(c.name(), "Execute", "put object failed", err)
		}
		return &CommandResult{Success: true, RowsAffected: 1, Message: "put", Connector: c.name(), Duration: time.Since(start)}, nil
	}
}

func (c *S3Connector) bucketFor(params map[string]any) string {
	if b, ok := params["bucket"].(string); ok && b != "" {
		return b
	}
	return c.bucket
}

func (c *S3Connector) Name() string { return c.name() }
func (c *S3Connector) name() string {
	if c.config == nil {
		return "s3"
	}
	return c.config.Name
}
func (c *S3Connector) Type() string    { return "s3" }
func (c *S3Connector) Version() string { return "1.0.0" }
func (c *S3Connector) Capabilities() []string {
	return []string{"query", "execute", "presign", "streaming"}
}
