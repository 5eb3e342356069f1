package tracker

import "math"

// fullSweepDegrees is the gamma displacement that maps to 100% progress.
const fullSweepDegrees = 60.0

// Sample is one device-orientation reading in degrees. Gamma is the
// left-right tilt axis used as the rotation signal for the panorama sweep.
type Sample struct {
	Alpha *float64
	Beta  *float64
	Gamma *float64
}

// Tracker converts raw orientation samples into a 0–100 rotation progress
// value. The gamma of the first sample after a reset becomes the reference;
// all later progress is absolute displacement from it. Swinging back toward
// the reference reduces progress.
//
// Tracker is not safe for concurrent use; the owning session serializes
// calls.
type Tracker struct {
	referenceGamma *float64
	progress       int
}

// New creates a tracker with no reference set.
func New() *Tracker {
	return &Tracker{}
}

// Observe processes one orientation sample and returns the current progress
// percent along with whether the sample changed it. Samples with a null
// gamma are ignored.
func (t *Tracker) Observe(s Sample) (percent int, changed bool) {
	if s.Gamma == nil {
		return t.progress, false
	}

	if t.referenceGamma == nil {
		ref := *s.Gamma
		t.referenceGamma = &ref
		t.progress = 0
		return 0, true
	}

	rotation := *s.Gamma - *t.referenceGamma
	p := int(math.Round(math.Abs(rotation) / fullSweepDegrees * 100))
	if p > 100 {
		p = 100
	}

	changed = p != t.progress
	t.progress = p
	return p, changed
}

// Progress returns the last computed progress percent.
func (t *Tracker) Progress() int {
	return t.progress
}

// HasReference reports whether the reference gamma has been latched.
func (t *Tracker) HasReference() bool {
	return t.referenceGamma != nil
}

// Reset clears the reference and progress. Called when a new capturing
// phase begins.
func (t *Tracker) Reset() {
	t.referenceGamma = nil
	t.progress = 0
}
