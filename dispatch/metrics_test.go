// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresMetricsSink_RecordInsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO model_execution_metrics").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := NewPostgresMetricsSink(db, nil)
	sink.Record(context.Background(), DispatchResult{
		TaskID: "task-1", AgentID: "agent-1", SelectedModel: "gpt-4-turbo", Vendor: VendorOpenAI,
		AlternativesConsidered: []string{"gpt-3.5-turbo"},
		CapabilityScore:        8.5, TotalScore: 7.2, LatencyMS: 120,
		Usage:        TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		EstimatedUSD: 0.01, Success: true, Timestamp: time.Now(),
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresMetricsSink_RecordSwallowsErrorsAndLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO model_execution_metrics").WillReturnError(context.DeadlineExceeded)

	var logged string
	sink := NewPostgresMetricsSink(db, func(format string, args ...any) { logged = format })

	sink.Record(context.Background(), DispatchResult{TaskID: "task-2", Timestamp: time.Now()})

	if logged == "" {
		t.Error("expected a best-effort log message on a failed insert")
	}
}

func TestPostgresMetricsSink_AggregateScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"selected_model", "call_count", "success_rate", "mean_latency_ms",
		"total_tokens", "total_cost_usd", "fallback_rate",
	}).AddRow("gpt-4-turbo", 10, 0.9, 150.0, int64(5000), 1.25, 0.1)

	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sink := NewPostgresMetricsSink(db, nil)
	aggregates, err := sink.Aggregate(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aggregates) != 1 || aggregates[0].ModelName != "gpt-4-turbo" || aggregates[0].CallCount != 10 {
		t.Errorf("unexpected aggregates: %+v", aggregates)
	}
}

func TestPostgresMetricsSink_RecentFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"task_id", "selected_model", "error", "created_at"}).
		AddRow("task-3", "gpt-4-turbo", "timeout", time.Now())

	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sink := NewPostgresMetricsSink(db, nil)
	failures, err := sink.RecentFailures(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failures) != 1 || failures[0].TaskID != "task-3" {
		t.Errorf("unexpected failures: %+v", failures)
	}
}
