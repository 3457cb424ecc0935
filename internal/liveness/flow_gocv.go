//go:build gocv

package liveness

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DefaultEstimator returns the OpenCV Farneback estimator.
func DefaultEstimator() FlowEstimator {
	return Farneback{PyrScale: 0.5, Levels: 3, Window: 15, Iterations: 3, PolyN: 5, PolySigma: 1.2}
}

// Farneback computes dense flow with OpenCV's polynomial expansion method.
type Farneback struct {
	PyrScale   float64
	Levels     int
	Window     int
	Iterations int
	PolyN      int
	PolySigma  float64
}

func (f Farneback) Estimate(prev, next *image.Gray) (Field, error) {
	if prev.Bounds().Size() != next.Bounds().Size() {
		return Field{}, errSizeMismatch
	}
	a, err := grayMat(prev)
	if err != nil {
		return Field{}, err
	}
	defer a.Close()
	b, err := grayMat(next)
	if err != nil {
		return Field{}, err
	}
	defer b.Close()

	flow := gocv.NewMat()
	defer flow.Close()
	gocv.CalcOpticalFlowFarneback(a, b, &flow, f.PyrScale, f.Levels, f.Window, f.Iterations, f.PolyN, f.PolySigma, 0)

	data, err := flow.DataPtrFloat32()
	if err != nil {
		return Field{}, fmt.Errorf("reading flow: %w", err)
	}
	w, h := prev.Bounds().Dx(), prev.Bounds().Dy()
	field := Field{Width: w, Height: h, U: make([]float32, w*h), V: make([]float32, w*h)}
	for i := 0; i < w*h && 2*i+1 < len(data); i++ {
		field.U[i] = data[2*i]
		field.V[i] = data[2*i+1]
	}
	return field, nil
}

func grayMat(g *image.Gray) (gocv.Mat, error) {
	b := g.Bounds()
	buf := make([]byte, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		buf = append(buf, g.Pix[y*g.Stride:y*g.Stride+b.Dx()]...)
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, buf)
}
