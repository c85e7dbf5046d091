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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultMongoPoolSize = 100

// MongoDBConnector implements Connector for MongoDB, adapted from the
// teacher's connectors/mongodb.MongoDBConnector. Query.Statement names the
// collection; Query.Parameters is used as the filter document.
type MongoDBConnector struct {
	config   *Config
	client   *mongo.Client
	database *mongo.Database
}

func NewMongoDBConnector() *MongoDBConnector { return &MongoDBConnector{} }

func (c *MongoDBConnector) Connect(ctx context.Context, config *Config) error {
	c.config = config

	opts := options.Client().ApplyURI(config.ConnectionURL).SetMaxPoolSize(defaultMongoPoolSize)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return NewError(config.Name, "Connect", "failed to connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return NewError(config.Name, "Connect", "failed to ping", err)
	}

	dbName, _ := config.Options["database"].(string)
	if dbName == "" {
		dbName = config.Name
	}

	c.client = client
	c.database = client.Database(dbName)
	return nil
}

func (c *MongoDBConnector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

func (c *MongoDBConnector) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if c.client == nil {
		return &HealthStatus{Healthy: false, Error: "not connected", Timestamp: time.Now()}, nil
	}
	start := time.Now()
	err := c.client.Ping(ctx, readpref.Primary())
	status := &HealthStatus{Latency: time.Since(start), Timestamp: time.Now()}
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Healthy = true
	return status, nil
}

func (c *MongoDBConnector) Query(ctx context.Context, q *Query) (*QueryResult, error) {
	if c.database == nil {
		return nil, NewError(c.name(), "Query", "not connected", nil)
	}
	start := time.Now()

	filter := bson.M{}
	for k, v := range q.Parameters {
		filter[k] = v
	}

	findOpts := options.Find()
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}

	cursor, err := c.database.Collection(q.Statement).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, NewError(c.name(), "Query", "find failed", err)
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, NewError(c.name(), "Query", "cursor decode failed", err)
	}

	return &QueryResult{Rows: docs, RowCount: len(docs), Duration: time.Since(start), Connector: c.name()}, nil
}

func (c *MongoDBConnector) Execute(ctx context.Context, cmd *Command) (*CommandResult, error) {
	if c.database == nil {
		return nil, NewError(c.name(), "Execute", "not connected", nil)
	}
	start := time.Now()
	collection := c.database.Collection(cmd.Statement)

	switch cmd.Action {
	case "insert":
		res, err := collection.InsertOne(ctx, bson.M(cmd.Parameters))
		if err != nil {
			return nil, NewError(c.name(), "Execute", "insert failed", err)
		}
		return &CommandResult{Success: true, RowsAffected: 1, Duration: time.Since(start), Connector: c.name(), Message: "inserted", Metadata: map[string]any{"inserted_id": res.InsertedID}}, nil
	case "delete":
		res, err := collection.DeleteMany(ctx, bson.M(cmd.Parameters))
		if err != nil {
			return nil, NewError(c.name(), "Execute", "delete failed", err)
		}
		return &CommandResult{Success: true, RowsAffected: int(res.DeletedCount), Duration: time.Since(start), Connector: c.name(), Message: "deleted"}, nil
	default:
		return nil, NewError(c.name(), "Execute", "unsupported action: "+cmd.Action, nil)
	}
}

func (c *MongoDBConnector) Name() string {
	return c.name()
}
func (c *MongoDBConnector) name() string {
	if c.config == nil {
		return "mongodb"
	}
	return c.config.Name
}
func (c *MongoDBConnector) Type() string           { return "mongodb" }
func (c *MongoDBConnector) Version() string        { return "1.0.0" }
func (c *MongoDBConnector) Capabilities() []string { return []string{"query", "execute"} }
