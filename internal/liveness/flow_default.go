//go:build !gocv

package liveness

// DefaultEstimator returns the pure-Go pyramidal Lucas-Kanade estimator.
func DefaultEstimator() FlowEstimator {
	return NewLucasKanade()
}
