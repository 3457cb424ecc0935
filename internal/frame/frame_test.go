package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	return img
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(16, 8)); err != nil {
		t.Fatal(err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	for _, bad := range [][]byte{nil, []byte("definitely not an image")} {
		if _, err := Decode(bad); !errors.Is(err, ErrDecode) {
			t.Errorf("Decode(%q) error = %v, want ErrDecode", bad, err)
		}
	}
}

func TestDownscale(t *testing.T) {
	img := testImage(64, 48)

	small := Downscale(img, 0.25)
	if small.Bounds().Dx() != 16 || small.Bounds().Dy() != 12 {
		t.Errorf("Downscale(0.25) bounds = %v, want 16x12", small.Bounds())
	}

	if same := Downscale(img, 1); same != image.Image(img) {
		t.Error("Downscale(1) should return the input unchanged")
	}
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	data, err := EncodeJPEG(testImage(20, 10))
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(EncodeJPEG()) error = %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestToGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 14, 12))
	for y := 10; y < 12; y++ {
		for x := 10; x < 14; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}

	g := ToGray(img)
	if g.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("ToGray bounds = %v, want origin-anchored 4x2", g.Bounds())
	}
	if v := g.GrayAt(3, 1).Y; v != 200 {
		t.Errorf("GrayAt(3,1) = %d, want 200", v)
	}
}
