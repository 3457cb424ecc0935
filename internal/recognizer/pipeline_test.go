package recognizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
)

type stubDetector struct {
	faces   []types.DetectedFace
	err     error
	gotSize image.Point
	calls   int
}

func (d *stubDetector) Detect(ctx context.Context, data []byte) ([]types.DetectedFace, error) {
	d.calls++
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	d.gotSize = image.Pt(cfg.Width, cfg.Height)
	return d.faces, d.err
}

type stubRecorder struct {
	names []string
	seen  map[string]bool
}

func (r *stubRecorder) Record(ctx context.Context, name string, at time.Time) (bool, error) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	r.names = append(r.names, name)
	if r.seen[name] {
		return false, nil
	}
	r.seen[name] = true
	return true, nil
}

func axis(i int, v float64) types.FaceEncoding {
	var enc types.FaceEncoding
	enc[i] = v
	return enc
}

func testImage(t *testing.T, w, h int, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	return testImage(t, w, h, func(b *bytes.Buffer, img image.Image) error { return jpeg.Encode(b, img, nil) })
}

func newMatcher(t *testing.T) *matcher.Matcher {
	t.Helper()
	store := encodings.New()
	for _, id := range []encodings.KnownIdentity{
		{Name: "alice", Encoding: axis(0, 1)},
		{Name: "bob", Encoding: axis(1, 1)},
	} {
		if err := store.Add(id.Name, id.Encoding); err != nil {
			t.Fatal(err)
		}
	}
	return matcher.New(store, matcher.Options{})
}

func TestProcessFrame_DownscalesAndRescales(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{
		{Box: types.BoundingBox{Top: 10, Right: 40, Bottom: 50, Left: 5}, Encoding: axis(0, 1)},
		{Box: types.BoundingBox{Top: 1, Right: 2, Bottom: 3, Left: 1}, Encoding: axis(5, 3)},
	}}
	rec := &stubRecorder{}
	p := New(det, newMatcher(t), rec, Options{Scale: 0.25})

	res, err := p.ProcessFrame(context.Background(), jpegBytes(t, 320, 240), liveness.NewState(liveness.Options{}))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	if det.gotSize != image.Pt(80, 60) {
		t.Errorf("detector saw %v, want 80x60", det.gotSize)
	}
	if len(res.Faces) != 2 || res.Faces[0].Name != "alice" || res.Faces[1].Name != types.Unknown {
		t.Fatalf("Faces = %+v, want alice then Unknown", res.Faces)
	}
	if want := (types.BoundingBox{Top: 40, Right: 160, Bottom: 200, Left: 20}); res.Faces[0].Face.Box != want {
		t.Errorf("Box = %+v, want %+v", res.Faces[0].Face.Box, want)
	}
	if res.Liveness == nil || res.Liveness.Live {
		t.Errorf("Liveness = %+v, want a not-live verdict on the first frame", res.Liveness)
	}
	if len(rec.names) != 1 || rec.names[0] != "alice" {
		t.Errorf("recorded %v, want [alice]", rec.names)
	}
	if len(res.Recorded) != 1 || res.Recorded[0] != "alice" {
		t.Errorf("Recorded = %v, want [alice]", res.Recorded)
	}
}

func TestProcessFrame_RecordsEachNameOncePerFrame(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{
		{Encoding: axis(0, 1)},
		{Encoding: axis(1, 1)},
		{Encoding: axis(0, 0.9)},
	}}
	rec := &stubRecorder{}
	p := New(det, newMatcher(t), rec, Options{Scale: 0.5})

	if _, err := p.ProcessFrame(context.Background(), jpegBytes(t, 64, 64), liveness.NewState(liveness.Options{})); err != nil {
		t.Fatal(err)
	}
	if len(rec.names) != 2 || rec.names[0] != "alice" || rec.names[1] != "bob" {
		t.Errorf("recorded %v, want [alice bob]", rec.names)
	}
}

func TestProcessFrame_RequireLiveness(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{{Encoding: axis(0, 1)}}}
	rec := &stubRecorder{}
	p := New(det, newMatcher(t), rec, Options{Scale: 0.5, RequireLiveness: true})

	res, err := p.ProcessFrame(context.Background(), jpegBytes(t, 64, 64), liveness.NewState(liveness.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.names) != 0 || len(res.Recorded) != 0 {
		t.Errorf("recorded %v for a subject that is not live", rec.names)
	}
}

func TestProcessImage_StillAtFullScale(t *testing.T) {
	det := &stubDetector{faces: []types.DetectedFace{
		{Box: types.BoundingBox{Top: 10, Right: 40, Bottom: 50, Left: 5}, Encoding: axis(1, 1)},
	}}
	rec := &stubRecorder{}
	p := New(det, newMatcher(t), rec, Options{Scale: 0.25, RequireLiveness: true})

	data := testImage(t, 50, 40, func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })
	res, err := p.ProcessImage(context.Background(), data)
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if det.gotSize != image.Pt(50, 40) {
		t.Errorf("detector saw %v, want full-size 50x40", det.gotSize)
	}
	if res.Liveness != nil {
		t.Errorf("still image produced a liveness verdict %+v", res.Liveness)
	}
	if want := (types.BoundingBox{Top: 10, Right: 40, Bottom: 50, Left: 5}); res.Faces[0].Face.Box != want {
		t.Errorf("Box = %+v, want unchanged %+v", res.Faces[0].Face.Box, want)
	}
	if len(res.Recorded) != 1 || res.Recorded[0] != "bob" {
		t.Errorf("Recorded = %v, want [bob]", res.Recorded)
	}
}

func TestProcess_Errors(t *testing.T) {
	p := New(&stubDetector{}, newMatcher(t), nil, Options{})
	if _, err := p.ProcessImage(context.Background(), []byte("not an image")); !errors.Is(err, frame.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}

	boom := errors.New("worker crashed")
	p = New(&stubDetector{err: boom}, newMatcher(t), nil, Options{})
	if _, err := p.ProcessImage(context.Background(), jpegBytes(t, 16, 16)); !errors.Is(err, boom) {
		t.Errorf("expected detector error, got %v", err)
	}
}

func TestProcess_NoFaces(t *testing.T) {
	rec := &stubRecorder{}
	p := New(&stubDetector{}, matcher.New(nil, matcher.Options{}), rec, Options{Scale: 0.5})
	res, err := p.ProcessFrame(context.Background(), jpegBytes(t, 32, 32), liveness.NewState(liveness.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Faces) != 0 || len(rec.names) != 0 {
		t.Errorf("Faces = %v, recorded = %v, want both empty", res.Faces, rec.names)
	}
}

// eyeOfHeight is a 6-point eye 24 px wide whose EAR is height/24.
func eyeOfHeight(x, height float64) []types.Point {
	return []types.Point{
		{X: x, Y: 0}, {X: x + 8, Y: -height / 2}, {X: x + 16, Y: -height / 2},
		{X: x + 24, Y: 0}, {X: x + 16, Y: height / 2}, {X: x + 8, Y: height / 2},
	}
}

// landmarkStub answers landmark requests with eyes of the next height in heights.
type landmarkStub struct {
	stubDetector
	heights  []float64
	calls    int
	gotBoxes []types.BoundingBox
	gotSize  image.Point
}

func (d *landmarkStub) Landmarks(ctx context.Context, data []byte, boxes []types.BoundingBox) ([]*types.Landmarks, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	d.gotSize = image.Pt(cfg.Width, cfg.Height)
	d.gotBoxes = boxes

	h := d.heights[d.calls]
	d.calls++
	marks := make([]*types.Landmarks, len(boxes))
	for i := range marks {
		marks[i] = &types.Landmarks{LeftEye: eyeOfHeight(0, h), RightEye: eyeOfHeight(40, h)}
	}
	return marks, nil
}

func TestProcessFrame_BlinkFromFullResolutionLandmarks(t *testing.T) {
	// The detection frame's landmarks are too coarse to ever read as open.
	coarse := &types.Landmarks{LeftEye: eyeOfHeight(0, 2), RightEye: eyeOfHeight(40, 2)}
	det := &landmarkStub{
		stubDetector: stubDetector{faces: []types.DetectedFace{
			{Box: types.BoundingBox{Top: 10, Right: 40, Bottom: 50, Left: 5}, Encoding: axis(0, 1), Landmarks: coarse},
		}},
		// open, closed for three frames, open again
		heights: []float64{8, 2, 2, 2, 8},
	}
	rec := &stubRecorder{}
	p := New(det, newMatcher(t), rec, Options{Scale: 0.25, RequireLiveness: true})
	state := liveness.NewState(liveness.Options{})
	data := jpegBytes(t, 320, 240)

	for i := range det.heights {
		res, err := p.ProcessFrame(context.Background(), data, state)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		last := i == len(det.heights)-1
		if res.Liveness.Blink != last {
			t.Errorf("frame %d: Blink = %v, want %v", i, res.Liveness.Blink, last)
		}
		if last != (len(res.Recorded) == 1) {
			t.Errorf("frame %d: Recorded = %v", i, res.Recorded)
		}
	}

	if det.gotSize != image.Pt(320, 240) {
		t.Errorf("landmarks ran on %v, want the full 320x240 frame", det.gotSize)
	}
	if want := (types.BoundingBox{Top: 40, Right: 160, Bottom: 200, Left: 20}); len(det.gotBoxes) != 1 || det.gotBoxes[0] != want {
		t.Errorf("landmark boxes = %+v, want [%+v]", det.gotBoxes, want)
	}
}

func TestProcessImage_SkipsLandmarkRefinement(t *testing.T) {
	det := &landmarkStub{stubDetector: stubDetector{faces: []types.DetectedFace{{Encoding: axis(0, 1)}}}}
	p := New(det, newMatcher(t), nil, Options{Scale: 0.25})

	if _, err := p.ProcessImage(context.Background(), jpegBytes(t, 32, 32)); err != nil {
		t.Fatal(err)
	}
	if det.calls != 0 {
		t.Errorf("still image made %d landmark requests, want 0", det.calls)
	}
}
