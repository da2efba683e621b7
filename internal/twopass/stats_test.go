package twopass

import (
	"errors"
	"testing"

	"github.com/gwlsn/tqenc/internal/mocks"
)

func collect(t *testing.T, first uint64, n int) *Collector {
	t.Helper()
	c := NewCollector()
	for i := 0; i < n; i++ {
		if err := c.Add(FrameStats{Index: first + uint64(i), QI: 40 + i, Score: 0.99, Trials: 3, Converged: true}); err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}
	return c
}

func TestCollectorRejectsGaps(t *testing.T) {
	c := collect(t, 0, 3)
	if err := c.Add(FrameStats{Index: 5}); err == nil {
		t.Error("expected error for non-consecutive index")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestCollectorStatsIsCopy(t *testing.T) {
	c := collect(t, 0, 2)
	s := c.Stats()
	s[0].QI = 99
	if c.Stats()[0].QI == 99 {
		t.Error("Stats() returned the internal slice")
	}
}

func TestPlanSeed(t *testing.T) {
	plan, err := NewPlan(collect(t, 5, 5).Stats())
	if err != nil {
		t.Fatalf("NewPlan() error = %v", err)
	}

	tests := []struct {
		index   uint64
		wantQI  int
		wantErr bool
	}{
		{index: 4, wantErr: true},
		{index: 5, wantQI: 40},
		{index: 7, wantQI: 42},
		{index: 9, wantQI: 44},
		{index: 10, wantErr: true},
	}

	for _, tt := range tests {
		fs, err := plan.Seed(tt.index)
		if tt.wantErr {
			if !errors.Is(err, ErrContentMismatch) {
				t.Errorf("Seed(%d) error = %v, want ErrContentMismatch", tt.index, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Seed(%d) error = %v", tt.index, err)
			continue
		}
		if fs.QI != tt.wantQI {
			t.Errorf("Seed(%d).QI = %d, want %d", tt.index, fs.QI, tt.wantQI)
		}
	}
}

func TestPlanCheckComplete(t *testing.T) {
	plan, err := NewPlan(collect(t, 0, 4).Stats())
	if err != nil {
		t.Fatal(err)
	}
	if plan.End() != 4 {
		t.Errorf("End() = %d, want 4", plan.End())
	}
	if err := plan.CheckComplete(4); err != nil {
		t.Errorf("CheckComplete(4) error = %v", err)
	}
	if err := plan.CheckComplete(3); !errors.Is(err, ErrContentMismatch) {
		t.Errorf("CheckComplete(3) error = %v, want ErrContentMismatch", err)
	}

	empty, _ := NewPlan(nil)
	if err := empty.CheckComplete(0); err != nil {
		t.Errorf("empty plan CheckComplete() error = %v", err)
	}
	if empty.Has(0) {
		t.Error("empty plan should not have index 0")
	}
}

func TestNewPlanRejectsNonContiguous(t *testing.T) {
	_, err := NewPlan([]FrameStats{{Index: 0}, {Index: 2}})
	if err == nil {
		t.Error("expected error for non-contiguous stats")
	}
}

func TestComplexity(t *testing.T) {
	flat := mocks.Flat(16, 16, 100)
	if got := Complexity(flat, nil); got != 0 {
		t.Errorf("Complexity(flat, nil) = %f, want 0", got)
	}
	if got := Complexity(flat, mocks.Flat(16, 16, 90)); got != 10 {
		t.Errorf("Complexity(flat, flat-10) = %f, want 10", got)
	}
	if got := Complexity(mocks.Frame(16, 16, 0), nil); got <= 0 {
		t.Errorf("Complexity(textured, nil) = %f, want > 0", got)
	}
}

func TestSummarize(t *testing.T) {
	stats := []FrameStats{
		{Index: 0, QI: 10, Score: 0.9, Trials: 2, Bytes: 100, Converged: true},
		{Index: 1, QI: 30, Score: 0.8, Trials: 4, Bytes: 50},
	}
	s := Summarize(stats)
	if s.Frames != 2 || s.Bytes != 150 || s.Trials != 6 || s.Unconverged != 1 {
		t.Errorf("Summarize() = %+v", s)
	}
	if s.MeanQI != 20 {
		t.Errorf("MeanQI = %f, want 20", s.MeanQI)
	}
	if zero := Summarize(nil); zero.Frames != 0 || zero.MeanQI != 0 {
		t.Errorf("Summarize(nil) = %+v", zero)
	}
}
