package trigger

import (
	"testing"

	"pgregory.net/rapid"
)

func TestTrigger_FiresAtThresholds(t *testing.T) {
	tests := []struct {
		name     string
		progress int
		want     int
		fire     bool
	}{
		{name: "below first threshold", progress: 19, fire: false},
		{name: "first threshold", progress: 20, want: 20, fire: true},
		{name: "between thresholds", progress: 35, want: 20, fire: true},
		{name: "mid threshold", progress: 60, want: 60, fire: true},
		{name: "last threshold", progress: 80, want: 80, fire: true},
		{name: "past last threshold caps at 80", progress: 95, want: 80, fire: true},
		{name: "full sweep caps at 80", progress: 100, want: 80, fire: true},
		{name: "zero", progress: 0, fire: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			th, fire := tr.Eval(tt.progress, 0)
			if fire != tt.fire {
				t.Fatalf("Eval(%d) fire = %v, want %v", tt.progress, fire, tt.fire)
			}
			if fire && th != tt.want {
				t.Errorf("Eval(%d) threshold = %d, want %d", tt.progress, th, tt.want)
			}
		})
	}
}

func TestTrigger_NoRefireBelowLastThreshold(t *testing.T) {
	tr := New()

	th, fire := tr.Eval(42, 0)
	if !fire || th != 40 {
		t.Fatalf("expected fire at 40, got fire=%v th=%d", fire, th)
	}
	tr.Arm(th)
	tr.Release()

	// Same threshold again: no fire.
	if _, fire := tr.Eval(45, 1); fire {
		t.Error("threshold 40 must not fire twice")
	}
	// Lower threshold after swinging back: no fire.
	if _, fire := tr.Eval(25, 1); fire {
		t.Error("threshold 20 must not fire after 40 already fired")
	}
	// Higher threshold: fires.
	if th, fire := tr.Eval(61, 1); !fire || th != 60 {
		t.Errorf("expected fire at 60, got fire=%v th=%d", fire, th)
	}
}

func TestTrigger_InFlightBlocks(t *testing.T) {
	tr := New()
	tr.Arm(20)

	if _, fire := tr.Eval(80, 1); fire {
		t.Error("in-flight lock must block automatic fire")
	}

	tr.Release()
	if th, fire := tr.Eval(80, 1); !fire || th != 80 {
		t.Errorf("expected fire at 80 after release, got fire=%v th=%d", fire, th)
	}
}

func TestTrigger_CapBlocksAuto(t *testing.T) {
	tr := New()
	if _, fire := tr.Eval(20, MaxImages); fire {
		t.Error("auto capture must not fire at the image cap")
	}
}

func TestTrigger_AllowManual(t *testing.T) {
	tr := New()

	if !tr.AllowManual(0) {
		t.Error("manual capture should be allowed with no images")
	}
	if !tr.AllowManual(MaxImages - 1) {
		t.Error("manual capture should be allowed below the cap")
	}
	if tr.AllowManual(MaxImages) {
		t.Error("manual capture must be rejected at the cap")
	}

	// Manual ignores the in-flight lock.
	tr.Arm(20)
	if !tr.AllowManual(1) {
		t.Error("manual capture must not be blocked by the in-flight lock")
	}
}

func TestTrigger_Reset(t *testing.T) {
	tr := New()
	tr.Arm(80)
	tr.Reset()

	if th, fire := tr.Eval(20, 0); !fire || th != 20 {
		t.Errorf("expected fire at 20 after reset, got fire=%v th=%d", fire, th)
	}
}

// TestTrigger_AtMostOncePerThreshold drives the trigger with an arbitrary
// progress walk and checks each threshold fires at most once per sweep and
// the total never exceeds the image cap.
func TestTrigger_AtMostOncePerThreshold(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := New()
		fired := make(map[int]int)
		count := 0

		n := rapid.IntRange(1, 100).Draw(t, "n")
		for i := 0; i < n; i++ {
			p := rapid.IntRange(0, 100).Draw(t, "progress")
			th, fire := tr.Eval(p, count)
			if !fire {
				continue
			}
			tr.Arm(th)
			tr.Release() // no cooldown in this model: worst case for refires
			fired[th]++
			count++

			if fired[th] > 1 {
				t.Fatalf("threshold %d fired %d times", th, fired[th])
			}
			if count > MaxImages {
				t.Fatalf("fired %d times, cap is %d", count, MaxImages)
			}
		}
	})
}
