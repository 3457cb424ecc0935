package liveness

import (
	"image"
	"math"
)

// Field is a dense optical flow field: U and V hold the horizontal and
// vertical displacement of every pixel in row-major order.
type Field struct {
	Width, Height int
	U, V          []float32
}

// MeanAbs is the mean absolute displacement over both components of every pixel.
func (f Field) MeanAbs() float64 {
	n := len(f.U) + len(f.V)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range f.U {
		sum += math.Abs(float64(f.U[i]))
	}
	for i := range f.V {
		sum += math.Abs(float64(f.V[i]))
	}
	return sum / float64(n)
}

// FlowEstimator computes dense optical flow between two same-sized frames.
type FlowEstimator interface {
	Estimate(prev, next *image.Gray) (Field, error)
}

// LucasKanade is a dense pyramidal Lucas-Kanade estimator. Each level warps the
// next frame by the current flow and solves the 2x2 normal equations over a
// square window, using integral images so every pixel costs O(1) per iteration.
type LucasKanade struct {
	Levels     int
	Window     int
	Iterations int
}

// NewLucasKanade returns an estimator tuned like the Farneback parameters the
// heuristic was calibrated with: 3 pyramid levels and a 15 px window.
func NewLucasKanade() LucasKanade {
	return LucasKanade{Levels: 3, Window: 15, Iterations: 3}
}

const (
	// minDeterminant rejects windows without enough texture to solve for flow.
	minDeterminant = 1e-6
	// maxStep caps a single iteration's update at each level, in pixels.
	maxStep = 4
)

func (lk LucasKanade) Estimate(prev, next *image.Gray) (Field, error) {
	p0, p1 := fromGray(prev), fromGray(next)
	if p0.w != p1.w || p0.h != p1.h {
		return Field{}, errSizeMismatch
	}

	window := max(lk.Window, 3)
	pyr0 := []*plane{p0}
	pyr1 := []*plane{p1}
	for l := 1; l < max(lk.Levels, 1); l++ {
		last := pyr0[len(pyr0)-1]
		if last.w/2 < window || last.h/2 < window {
			break
		}
		pyr0 = append(pyr0, last.half())
		pyr1 = append(pyr1, pyr1[len(pyr1)-1].half())
	}

	var u, v []float32
	for l := len(pyr0) - 1; l >= 0; l-- {
		I, J := pyr0[l], pyr1[l]
		if u == nil {
			u = make([]float32, I.w*I.h)
			v = make([]float32, I.w*I.h)
		} else {
			u, v = upsampleFlow(u, v, pyr0[l+1], I)
		}
		lk.refine(I, J, u, v, window/2)
	}

	return Field{Width: p0.w, Height: p0.h, U: u, V: v}, nil
}

func (lk LucasKanade) refine(I, J *plane, u, v []float32, r int) {
	w, h := I.w, I.h
	ix := make([]float64, w*h)
	iy := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ix[y*w+x] = float64(I.at(x+1, y)-I.at(x-1, y)) / 2
			iy[y*w+x] = float64(I.at(x, y+1)-I.at(x, y-1)) / 2
		}
	}

	prod := make([]float64, w*h)
	fill := func(f func(i int) float64) *integral {
		for i := range prod {
			prod[i] = f(i)
		}
		return newIntegral(prod, w, h)
	}
	gxx := fill(func(i int) float64 { return ix[i] * ix[i] })
	gxy := fill(func(i int) float64 { return ix[i] * iy[i] })
	gyy := fill(func(i int) float64 { return iy[i] * iy[i] })

	it := make([]float64, w*h)
	for iter := 0; iter < max(lk.Iterations, 1); iter++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				it[i] = float64(J.sample(float32(x)+u[i], float32(y)+v[i]) - I.at(x, y))
			}
		}
		bx := fill(func(i int) float64 { return ix[i] * it[i] })
		by := fill(func(i int) float64 { return iy[i] * it[i] })

		for y := 0; y < h; y++ {
			y0, y1 := max(y-r, 0), min(y+r, h-1)
			for x := 0; x < w; x++ {
				x0, x1 := max(x-r, 0), min(x+r, w-1)
				sxx := gxx.sum(x0, y0, x1, y1)
				sxy := gxy.sum(x0, y0, x1, y1)
				syy := gyy.sum(x0, y0, x1, y1)
				det := sxx*syy - sxy*sxy
				if det < minDeterminant {
					continue
				}
				sbx := bx.sum(x0, y0, x1, y1)
				sby := by.sum(x0, y0, x1, y1)
				du := -(syy*sbx - sxy*sby) / det
				dv := -(sxx*sby - sxy*sbx) / det
				i := y*w + x
				u[i] += float32(clamp(du, maxStep))
				v[i] += float32(clamp(dv, maxStep))
			}
		}
	}
}

func clamp(d, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, d))
}

// upsampleFlow doubles a coarse flow field onto the finer level's grid.
func upsampleFlow(u, v []float32, coarse, fine *plane) ([]float32, []float32) {
	fu := make([]float32, fine.w*fine.h)
	fv := make([]float32, fine.w*fine.h)
	for y := 0; y < fine.h; y++ {
		cy := min(y/2, coarse.h-1)
		for x := 0; x < fine.w; x++ {
			cx := min(x/2, coarse.w-1)
			fu[y*fine.w+x] = 2 * u[cy*coarse.w+cx]
			fv[y*fine.w+x] = 2 * v[cy*coarse.w+cx]
		}
	}
	return fu, fv
}

// plane is a float32 grayscale image with clamped sampling.
type plane struct {
	w, h int
	pix  []float32
}

func fromGray(g *image.Gray) *plane {
	b := g.Bounds()
	p := &plane{w: b.Dx(), h: b.Dy(), pix: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+p.w]
		for x, c := range row {
			p.pix[y*p.w+x] = float32(c)
		}
	}
	return p
}

func (p *plane) at(x, y int) float32 {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)
	return p.pix[y*p.w+x]
}

// sample reads p at a sub-pixel position with bilinear interpolation. Integer
// positions return the stored value exactly.
func (p *plane) sample(x, y float32) float32 {
	fx, fy := float32(math.Floor(float64(x))), float32(math.Floor(float64(y)))
	ax, ay := x-fx, y-fy
	x0, y0 := int(fx), int(fy)
	if ax == 0 && ay == 0 {
		return p.at(x0, y0)
	}
	top := p.at(x0, y0)*(1-ax) + p.at(x0+1, y0)*ax
	bottom := p.at(x0, y0+1)*(1-ax) + p.at(x0+1, y0+1)*ax
	return top*(1-ay) + bottom*ay
}

// half returns p downsampled by two with a 2x2 box filter.
func (p *plane) half() *plane {
	q := &plane{w: p.w / 2, h: p.h / 2}
	q.pix = make([]float32, q.w*q.h)
	for y := 0; y < q.h; y++ {
		for x := 0; x < q.w; x++ {
			q.pix[y*q.w+x] = (p.at(2*x, 2*y) + p.at(2*x+1, 2*y) + p.at(2*x, 2*y+1) + p.at(2*x+1, 2*y+1)) / 4
		}
	}
	return q
}

// integral is a summed-area table with one row and column of zero padding.
type integral struct {
	w    int
	sums []float64
}

func newIntegral(src []float64, w, h int) *integral {
	in := &integral{w: w + 1, sums: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += src[y*w+x]
			in.sums[(y+1)*in.w+x+1] = in.sums[y*in.w+x+1] + row
		}
	}
	return in
}

// sum returns the sum over the inclusive rectangle [x0,x1]x[y0,y1].
func (in *integral) sum(x0, y0, x1, y1 int) float64 {
	return in.sums[(y1+1)*in.w+x1+1] - in.sums[y0*in.w+x1+1] - in.sums[(y1+1)*in.w+x0] + in.sums[y0*in.w+x0]
}
