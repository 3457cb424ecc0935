// Package liveness implements the blink and motion heuristics used to tell a
// live subject from a static photo held up to the camera.
package liveness

import (
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
)

// ErrDegenerateLandmarks is returned when eye landmarks cannot produce an aspect ratio.
var ErrDegenerateLandmarks = errors.New("degenerate eye landmarks")

// eyePoints is the size of the canonical eye contour (dlib points 36-41 / 42-47).
const eyePoints = 6

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) for a 6-point eye.
func EyeAspectRatio(eye []types.Point) (float64, error) {
	if len(eye) != eyePoints {
		return 0, fmt.Errorf("%w: expected %d points, got %d", ErrDegenerateLandmarks, eyePoints, len(eye))
	}
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0, fmt.Errorf("%w: zero eye width", ErrDegenerateLandmarks)
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * horizontal), nil
}

// FaceEAR is the mean aspect ratio of both eyes.
func FaceEAR(lm types.Landmarks) (float64, error) {
	left, err := EyeAspectRatio(lm.LeftEye)
	if err != nil {
		return 0, fmt.Errorf("left eye: %w", err)
	}
	right, err := EyeAspectRatio(lm.RightEye)
	if err != nil {
		return 0, fmt.Errorf("right eye: %w", err)
	}
	return (left + right) / 2, nil
}

func dist(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
