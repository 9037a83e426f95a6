package layout

import "testing"

func TestEstimateMonotonic(t *testing.T) {
	e := DefaultEstimator()
	for _, width := range []int{320, 767, 768, 1024, 1920} {
		for _, att := range []bool{false, true} {
			collapsed := e.Estimate(false, width, att)
			expanded := e.Estimate(true, width, att)
			if expanded <= collapsed {
				t.Errorf("width=%d attachments=%v: expanded %d <= collapsed %d", width, att, expanded, collapsed)
			}
		}
	}
}

func TestEstimateDeterministic(t *testing.T) {
	e := DefaultEstimator()
	first := e.Estimate(true, 1024, true)
	for i := 0; i < 100; i++ {
		if got := e.Estimate(true, 1024, true); got != first {
			t.Fatalf("call %d returned %d, want %d", i, got, first)
		}
	}
}

func TestEstimateBreakpoint(t *testing.T) {
	e := DefaultEstimator()
	tests := []struct {
		name     string
		expanded bool
		width    int
		att      bool
		want     int
	}{
		{"collapsed wide", false, 1024, false, 220},
		{"collapsed wide attachments ignored", false, 1024, true, 220},
		{"collapsed narrow", false, 400, false, 260},
		{"expanded wide", true, 1024, false, 220 + 180 + 16},
		{"expanded wide gallery", true, 1024, true, 220 + 180 + 160 + 16},
		{"expanded narrow gallery", true, 400, true, 260 + 180 + 240 + 16},
		{"breakpoint is wide", false, 768, false, 220},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Estimate(tt.expanded, tt.width, tt.att); got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimatorValidate(t *testing.T) {
	if err := DefaultEstimator().Validate(); err != nil {
		t.Fatalf("default estimator invalid: %v", err)
	}
	e := DefaultEstimator()
	e.Body = 0
	if err := e.Validate(); err == nil {
		t.Error("zero body must be rejected: expanded would equal collapsed")
	}
	e = DefaultEstimator()
	e.Spacing = -1
	if err := e.Validate(); err == nil {
		t.Error("negative spacing must be rejected")
	}
}
