package trigger

import "time"

const (
	// thresholdStep and the min/max bounds define the auto-capture points:
	// progress multiples of 20 within [20, 80].
	thresholdStep = 20
	thresholdMin  = 20
	thresholdMax  = 80

	// MaxImages caps the captured-image sequence for auto and manual
	// capture alike.
	MaxImages = 5

	// Cooldown is how long the in-flight lock is held after an automatic
	// fire, so closely-spaced sensor events cannot double-fire a threshold.
	Cooldown = 500 * time.Millisecond
)

// sentinel below the minimum threshold so 20 can fire on the first sweep.
const noThreshold = 0

// Trigger decides when an automatic capture should fire. It tracks the last
// threshold that fired and an in-flight lock, both scoped to one capturing
// phase.
//
// Trigger is not safe for concurrent use; the owning session serializes
// calls.
type Trigger struct {
	lastFired int
	inFlight  bool
}

// New creates a trigger with no fired thresholds.
func New() *Trigger {
	return &Trigger{lastFired: noThreshold}
}

// Eval reports whether an automatic capture should fire for the given
// progress percent and current image count, and at which threshold.
func (t *Trigger) Eval(progress, imageCount int) (threshold int, fire bool) {
	if t.inFlight || imageCount >= MaxImages {
		return 0, false
	}

	th := (progress / thresholdStep) * thresholdStep
	if th < thresholdMin {
		return 0, false
	}
	if th > thresholdMax {
		th = thresholdMax
	}
	if th <= t.lastFired {
		return 0, false
	}
	return th, true
}

// Arm records a fired threshold and takes the in-flight lock. Call after
// Eval returns fire=true and before performing the capture.
func (t *Trigger) Arm(threshold int) {
	t.inFlight = true
	t.lastFired = threshold
}

// Release clears the in-flight lock. Scheduled Cooldown after each fire.
func (t *Trigger) Release() {
	t.inFlight = false
}

// AllowManual reports whether a manual capture may proceed. Manual capture
// ignores the in-flight lock but honors the overall cap.
func (t *Trigger) AllowManual(imageCount int) bool {
	return imageCount < MaxImages
}

// Reset returns the trigger to its initial state for a new capturing phase.
func (t *Trigger) Reset() {
	t.lastFired = noThreshold
	t.inFlight = false
}
