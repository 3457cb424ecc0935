package liveness

import (
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

// eye builds a 6-point eye of the given width whose two vertical pairs are both height apart.
func eye(width, height float64) []types.Point {
	return []types.Point{
		{X: 0, Y: 0},
		{X: width / 3, Y: -height / 2},
		{X: 2 * width / 3, Y: -height / 2},
		{X: width, Y: 0},
		{X: 2 * width / 3, Y: height / 2},
		{X: width / 3, Y: height / 2},
	}
}

func TestEyeAspectRatio(t *testing.T) {
	const epsilon = 1e-9
	tests := []struct {
		name    string
		eye     []types.Point
		want    float64
		wantErr bool
	}{
		{"open eye", eye(30, 9), 0.3, false},
		{"closed eye", eye(30, 0), 0, false},
		{"too few points", eye(30, 9)[:5], 0, true},
		{"zero width", []types.Point{{}, {X: 1, Y: 1}, {X: 1, Y: 1}, {}, {X: 1}, {X: 1}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EyeAspectRatio(tt.eye)
			if tt.wantErr {
				if !errors.Is(err, ErrDegenerateLandmarks) {
					t.Fatalf("EyeAspectRatio() error = %v, want ErrDegenerateLandmarks", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("EyeAspectRatio() unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > epsilon {
				t.Errorf("EyeAspectRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFaceEAR_AveragesBothEyes(t *testing.T) {
	got, err := FaceEAR(types.Landmarks{LeftEye: eye(30, 6), RightEye: eye(30, 12)})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.3) > 1e-9 {
		t.Errorf("FaceEAR() = %v, want 0.3", got)
	}
}
