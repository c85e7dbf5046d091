// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package toolexec

import (
	"context"
	"testing"

	"github.com/denys89/agentorchestrator/toolexec/connectors"
)

// fakeConnector is an in-memory connectors.Connector used to exercise
// ConnectorInvoker without a real backend.
type fakeConnector struct {
	queryResult *connectors.QueryResult
	queryErr    error
	execResult  *connectors.CommandResult
	execErr     error
	lastQuery   *connectors.Query
	lastCommand *connectors.Command
}

func (f *fakeConnector) Connect(ctx context.Context, config *connectors.Config) error { return nil }
func (f *fakeConnector) Disconnect(ctx context.Context) error                         { return nil }
func (f *fakeConnector) HealthCheck(ctx context.Context) (*connectors.HealthStatus, error) {
	return &connectors.HealthStatus{Healthy: true}, nil
}
func (f *fakeConnector) Query(ctx context.Context, q *connectors.Query) (*connectors.QueryResult, error) {
	f.lastQuery = q
	return f.queryResult, f.queryErr
}
func (f *fakeConnector) Execute(ctx context.Context, cmd *connectors.Command) (*connectors.CommandResult, error) {
	f.lastCommand = cmd
	return f.execResult, f.execErr
}
func (f *fakeConnector) Name() string          { return "fake" }
func (f *fakeConnector) Type() string          { return "fake" }
func (f *fakeConnector) Version() string       { return "v0" }
func (f *fakeConnector) Capabilities() []string { return nil }

func invokerWithFake(vendor string, fake connectors.Connector) *ConnectorInvoker {
	inv := NewConnectorInvoker(nil)
	inv.byVendor[vendor] = fake
	return inv
}

func TestConnectorInvoker_QueryDefaultOperation(t *testing.T) {
	fake := &fakeConnector{queryResult: &connectors.QueryResult{
		Rows: []map[string]any{{"id": 1}}, RowCount: 1,
	}}
	inv := invokerWithFake("postgres", fake)

	tool := ToolDescriptor{Name: "postgres.select", Vendor: "postgres"}
	out, err := inv.Invoke(context.Background(), tool, map[string]any{
		"statement": "SELECT 1", "limit": 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["row_count"] != 1 {
		t.Errorf("expected row_count 1, got %v", out["row_count"])
	}
	if fake.lastQuery.Statement != "SELECT 1" || fake.lastQuery.Limit != 10 {
		t.Errorf("unexpected query passed to connector: %+v", fake.lastQuery)
	}
}

func TestConnectorInvoker_ExecuteOperation(t *testing.T) {
	fake := &fakeConnector{execResult: &connectors.CommandResult{Success: true, RowsAffected: 2, Message: "ok"}}
	inv := invokerWithFake("mysql", fake)

	tool := ToolDescriptor{Name: "mysql.update", Vendor: "mysql"}
	out, err := inv.Invoke(context.Background(), tool, map[string]any{
		"operation": "execute", "action": "update", "statement": "UPDATE t SET x=1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["success"] != true || out["rows_affected"] != 2 {
		t.Errorf("unexpected result: %+v", out)
	}
	if fake.lastCommand.Action != "update" {
		t.Errorf("expected action 'update' to be passed through, got %q", fake.lastCommand.Action)
	}
}

func TestConnectorInvoker_PropagatesConnectorError(t *testing.T) {
	fake := &fakeConnector{queryErr: connectors.NewError("fake", "query", "boom", nil)}
	inv := invokerWithFake("postgres", fake)

	tool := ToolDescriptor{Name: "postgres.select", Vendor: "postgres"}
	_, err := inv.Invoke(context.Background(), tool, map[string]any{"statement": "SELECT 1"})
	if err == nil {
		t.Fatal("expected the connector's error to propagate")
	}
}

func TestConnectorInvoker_UnknownVendorErrors(t *testing.T) {
	inv := NewConnectorInvoker(nil)
	tool := ToolDescriptor{Name: "unknown.tool", Vendor: "carrier-pigeon"}
	_, err := inv.Invoke(context.Background(), tool, map[string]any{})
	if err == nil {
		t.Fatal("expected an error for an unregistered connector vendor")
	}
}

func TestConnectorInvoker_CachesConnectorPerVendor(t *testing.T) {
	fake := &fakeConnector{queryResult: &connectors.QueryResult{}}
	inv := invokerWithFake("postgres", fake)
	tool := ToolDescriptor{Name: "postgres.select", Vendor: "postgres"}

	inv.Invoke(context.Background(), tool, map[string]any{"statement": "SELECT 1"})
	inv.Invoke(context.Background(), tool, map[string]any{"statement": "SELECT 2"})

	if fake.lastQuery.Statement != "SELECT 2" {
		t.Errorf("expected the same cached connector to serve both calls")
	}
	if len(inv.byVendor) != 1 {
		t.Errorf("expected exactly one cached connector, got %d", len(inv.byVendor))
	}
}
