package matcher

import (
	"math"

	"github.com/andresmejia3/rollcall/internal/types"
)

// RescaleBox maps a box found on a frame downscaled by factor back to the
// original frame, rounding each coordinate to the nearest pixel.
func RescaleBox(b types.BoundingBox, factor float64) types.BoundingBox {
	if factor <= 0 || factor == 1 {
		return b
	}
	return types.BoundingBox{
		Top:    unscaleCoord(b.Top, factor),
		Right:  unscaleCoord(b.Right, factor),
		Bottom: unscaleCoord(b.Bottom, factor),
		Left:   unscaleCoord(b.Left, factor),
	}
}

// ScaleBox maps a box on the original frame onto a frame downscaled by factor.
func ScaleBox(b types.BoundingBox, factor float64) types.BoundingBox {
	if factor <= 0 || factor == 1 {
		return b
	}
	return types.BoundingBox{
		Top:    scaleCoord(b.Top, factor),
		Right:  scaleCoord(b.Right, factor),
		Bottom: scaleCoord(b.Bottom, factor),
		Left:   scaleCoord(b.Left, factor),
	}
}

// RescaleResults rescales the boxes of every result in place.
func RescaleResults(results []types.MatchResult, factor float64) {
	for i := range results {
		results[i].Face.Box = RescaleBox(results[i].Face.Box, factor)
		if lm := results[i].Face.Landmarks; lm != nil && factor > 0 && factor != 1 {
			results[i].Face.Landmarks = &types.Landmarks{
				LeftEye:  unscalePoints(lm.LeftEye, factor),
				RightEye: unscalePoints(lm.RightEye, factor),
			}
		}
	}
}

func unscaleCoord(v int, factor float64) int {
	return int(math.Round(float64(v) / factor))
}

func scaleCoord(v int, k float64) int {
	return int(math.Round(float64(v) * k))
}

func unscalePoints(pts []types.Point, factor float64) []types.Point {
	out := make([]types.Point, len(pts))
	for i, p := range pts {
		out[i] = types.Point{X: p.X / factor, Y: p.Y / factor}
	}
	return out
}
