package job

import (
	"math"
	"testing"
	"time"
)

func TestRecomputeFromFrames(t *testing.T) {
	total := uint64(2000)
	s := NewStats(&total, nil)
	s.Frame = 1000
	s.FPS = 25
	s.Recompute()

	if s.ProgressPercent != 50 {
		t.Fatalf("progress = %v, want 50", s.ProgressPercent)
	}
	if s.ETA == nil || *s.ETA != 40*time.Second {
		t.Fatalf("eta = %v, want 40s", s.ETA)
	}
}

func TestRecomputeFallsBackToDuration(t *testing.T) {
	duration := 100 * time.Second
	s := NewStats(nil, &duration)
	s.TimeEncoded = 25 * time.Second
	s.FPS = 30
	s.Recompute()

	if math.Abs(s.ProgressPercent-25) > 1e-9 {
		t.Fatalf("progress = %v, want 25", s.ProgressPercent)
	}
	if s.ETA != nil {
		t.Fatal("eta requires total frames")
	}
}

func TestRecomputeLeavesProgressWithoutTotals(t *testing.T) {
	s := Stats{Frame: 10, FPS: 5, ProgressPercent: 12}
	s.Recompute()
	if s.ProgressPercent != 12 {
		t.Fatalf("progress changed to %v", s.ProgressPercent)
	}
	if s.ETA != nil {
		t.Fatal("eta must be absent without total frames")
	}
}

func TestRecomputeClampsAndZeroFPS(t *testing.T) {
	total := uint64(100)
	s := NewStats(&total, nil)
	s.Frame = 150
	s.Recompute()
	if s.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want clamp to 100", s.ProgressPercent)
	}
	if s.ETA != nil {
		t.Fatal("eta must be absent when fps is zero")
	}

	s.FPS = 10
	s.Recompute()
	if s.ETA == nil || *s.ETA != 0 {
		t.Fatalf("eta = %v, want 0 past the end", s.ETA)
	}
}
