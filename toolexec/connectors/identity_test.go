// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package connectors

import "testing"

// These connectors dial a real backend (database ping, cloud SDK client,
// cluster session) in Connect, so only their static identity contract is
// exercised here; Query/Execute/Connect behavior is covered for HTTPConnector
// in http_test.go via httptest, matching what's testable without live
// infrastructure.

func TestPostgresConnector_Identity(t *testing.T) {
	c := NewPostgresConnector()
	if c.Type() != "postgres" {
		t.Errorf("expected type postgres, got %s", c.Type())
	}
	if c.Name() != "postgres" {
		t.Errorf("expected default name to fall back to type, got %s", c.Name())
	}
	var _ Connector = c
}

func TestMySQLConnector_Identity(t *testing.T) {
	c := NewMySQLConnector()
	if c.Type() != "mysql" {
		t.Errorf("expected type mysql, got %s", c.Type())
	}
	var _ Connector = c
}

func TestMongoDBConnector_Identity(t *testing.T) {
	c := NewMongoDBConnector()
	if c.Type() != "mongodb" {
		t.Errorf("expected type mongodb, got %s", c.Type())
	}
	var _ Connector = c
}

func TestCassandraConnector_Identity(t *testing.T) {
	c := NewCassandraConnector()
	if c.Type() != "cassandra" {
		t.Errorf("expected type cassandra, got %s", c.Type())
	}
	var _ Connector = c
}

func TestS3Connector_Identity(t *testing.T) {
	c := NewS3Connector()
	if c.Type() != "s3" {
		t.Errorf("expected type s3, got %s", c.Type())
	}
	var _ Connector = c
}

func TestGCSConnector_Identity(t *testing.T) {
	c := NewGCSConnector()
	if c.Type() != "gcs" {
		t.Errorf("expected type gcs, got %s", c.Type())
	}
	if len(c.Capabilities()) == 0 {
		t.Error("expected gcs connector to advertise capabilities")
	}
	var _ Connector = c
}

func TestAzureBlobConnector_Identity(t *testing.T) {
	c := NewAzureBlobConnector()
	if c.Type() != "azureblob" {
		t.Errorf("expected type azureblob, got %s", c.Type())
	}
	var _ Connector = c
}
