package liveness

import (
	"errors"
	"image"

	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/logger"
)

// DefaultMotionThreshold is the mean absolute flow, in pixels, above which a frame pair counts as motion.
const DefaultMotionThreshold = 0.5

var errSizeMismatch = errors.New("frame size changed between calls")

// MotionDetector compares each frame with the previous one via dense optical flow.
type MotionDetector struct {
	threshold float64
	estimator FlowEstimator
	prev      *image.Gray
}

// NewMotionDetector returns a detector. A nil estimator selects the build's default.
func NewMotionDetector(threshold float64, estimator FlowEstimator) *MotionDetector {
	if threshold <= 0 {
		threshold = DefaultMotionThreshold
	}
	if estimator == nil {
		estimator = DefaultEstimator()
	}
	return &MotionDetector{threshold: threshold, estimator: estimator}
}

// Update converts img to grayscale, compares it with the previous frame and
// stores it as the new previous frame. It returns whether motion was detected
// and the mean flow magnitude. The first frame, and any frame whose size
// differs from the previous one, reports no motion.
func (m *MotionDetector) Update(img image.Image) (bool, float64) {
	gray := frame.ToGray(img)
	prev := m.prev
	m.prev = gray

	if prev == nil || prev.Bounds().Size() != gray.Bounds().Size() {
		return false, 0
	}

	field, err := m.estimator.Estimate(prev, gray)
	if err != nil {
		logger.Warning("optical flow failed", logger.LoggerOptions{Key: "error", Data: err.Error()})
		return false, 0
	}
	magnitude := field.MeanAbs()
	return magnitude > m.threshold, magnitude
}

func (m *MotionDetector) Reset() {
	m.prev = nil
}
