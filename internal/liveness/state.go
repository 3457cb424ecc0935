package liveness

import (
	"image"

	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Options configures a liveness State. Zero values select the defaults.
type Options struct {
	EARThreshold      float64
	ConsecutiveFrames int
	MotionThreshold   float64
	Estimator         FlowEstimator
}

// Verdict is the liveness outcome after one frame.
type Verdict struct {
	Blink     bool    `json:"blink"`
	Motion    bool    `json:"motion"`
	Magnitude float64 `json:"magnitude"`
	Live      bool    `json:"live"`
}

// State is the per-session liveness state. It is not safe for concurrent use;
// each camera stream or HTTP session owns exactly one.
type State struct {
	blink  *BlinkDetector
	motion *MotionDetector
}

func NewState(opts Options) *State {
	return &State{
		blink:  NewBlinkDetector(opts.EARThreshold, opts.ConsecutiveFrames),
		motion: NewMotionDetector(opts.MotionThreshold, opts.Estimator),
	}
}

// Observe feeds one frame and the faces detected in it.
func (s *State) Observe(img image.Image, faces []types.DetectedFace) Verdict {
	blink, err := s.blink.Update(faces)
	if err != nil {
		logger.Warning("skipping blink update", logger.LoggerOptions{Key: "error", Data: err.Error()})
	}
	motion, magnitude := s.motion.Update(img)
	return Verdict{
		Blink:     blink,
		Motion:    motion,
		Magnitude: magnitude,
		Live:      blink || motion,
	}
}

// BlinkDetected reports the sticky blink flag without feeding a frame.
func (s *State) BlinkDetected() bool {
	return s.blink.Detected()
}

// Reset clears the blink counter and flag and forgets the previous frame.
func (s *State) Reset() {
	s.blink.Reset()
	s.motion.Reset()
}
