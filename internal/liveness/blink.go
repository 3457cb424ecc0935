package liveness

import "github.com/andresmejia3/rollcall/internal/types"

const (
	DefaultEARThreshold      = 0.25
	DefaultConsecutiveFrames = 3
)

// BlinkDetector counts consecutive closed-eye frames. A blink is registered when
// the eyes reopen after at least minFrames closed frames; once registered the
// flag stays set until Reset.
type BlinkDetector struct {
	threshold float64
	minFrames int

	counter  int
	detected bool
}

// NewBlinkDetector returns a detector. Non-positive arguments select the defaults.
func NewBlinkDetector(threshold float64, minFrames int) *BlinkDetector {
	if threshold <= 0 {
		threshold = DefaultEARThreshold
	}
	if minFrames <= 0 {
		minFrames = DefaultConsecutiveFrames
	}
	return &BlinkDetector{threshold: threshold, minFrames: minFrames}
}

// UpdateEAR feeds one frame's eye aspect ratio and returns the blink flag.
func (b *BlinkDetector) UpdateEAR(ear float64) bool {
	if ear < b.threshold {
		b.counter++
		return b.detected
	}
	if b.counter >= b.minFrames {
		b.detected = true
	}
	b.counter = 0
	return b.detected
}

// Update feeds the faces of one frame. The first face carrying landmarks
// drives the state machine; a frame without such a face leaves the state
// untouched. Degenerate landmarks are reported and leave the state untouched.
func (b *BlinkDetector) Update(faces []types.DetectedFace) (bool, error) {
	for _, f := range faces {
		if f.Landmarks == nil {
			continue
		}
		ear, err := FaceEAR(*f.Landmarks)
		if err != nil {
			return b.detected, err
		}
		return b.UpdateEAR(ear), nil
	}
	return b.detected, nil
}

// Counter returns the current run of closed-eye frames.
func (b *BlinkDetector) Counter() int { return b.counter }

// Detected reports whether a blink has been seen since the last Reset.
func (b *BlinkDetector) Detected() bool { return b.detected }

func (b *BlinkDetector) Reset() {
	b.counter = 0
	b.detected = false
}
