// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"testing"
	"time"
)

func TestAnomalyDetector_PerTaskCeiling(t *testing.T) {
	d := NewAnomalyDetector()

	if v := d.CheckPerTaskCeiling(999); v.Blocked {
		t.Errorf("expected 999 to pass default ceiling, got blocked: %s", v.Reason)
	}
	if v := d.CheckPerTaskCeiling(1001); !v.Blocked {
		t.Error("expected 1001 to exceed default ceiling")
	}

	d.SetPerTaskCeiling(50)
	if v := d.CheckPerTaskCeiling(51); !v.Blocked {
		t.Error("expected custom ceiling of 50 to reject 51")
	}
}

func TestAnomalyDetector_SpikeRequiresMinimumSamples(t *testing.T) {
	d := NewAnomalyDetector()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Only 2 completed hourly samples so far; a huge spike should not yet trigger.
	for i := 0; i < 2; i++ {
		hour := base.Add(time.Duration(i) * time.Hour)
		if v := d.CheckSpike("tenant-a", 10, hour); v.Blocked {
			t.Fatalf("unexpected block before minimum samples: %s", v.Reason)
		}
	}
	if v := d.CheckSpike("tenant-a", 10000, base.Add(2*time.Hour)); v.Blocked {
		t.Error("expected no spike flag before 5 completed samples")
	}
}

func TestAnomalyDetector_SpikeTriggersAfterEnoughSamples(t *testing.T) {
	d := NewAnomalyDetector()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		hour := base.Add(time.Duration(i) * time.Hour)
		d.CheckSpike("tenant-b", 10, hour)
	}
	// 7th hour: mean of prior 6 completed hours is 10; 10000 is a huge spike.
	v := d.CheckSpike("tenant-b", 10000, base.Add(6*time.Hour))
	if !v.Blocked {
		t.Error("expected spike to be flagged once enough samples exist")
	}
}

func TestAnomalyDetector_RecursionDepth(t *testing.T) {
	d := NewAnomalyDetector()

	for i := 0; i < 10; i++ {
		if v := d.EnterWorkflow("tenant-c", "wf-1"); v.Blocked {
			t.Fatalf("unexpected block at depth %d: %s", i, v.Reason)
		}
	}
	if v := d.EnterWorkflow("tenant-c", "wf-1"); !v.Blocked {
		t.Error("expected depth 10 to be rejected")
	}

	d.ExitWorkflow("tenant-c", "wf-1")
	if v := d.EnterWorkflow("tenant-c", "wf-1"); v.Blocked {
		t.Error("expected room after exiting one level")
	}
}
