package encodings

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/rollcall/internal/types"
)

func encodingWith(v float64) types.FaceEncoding {
	var enc types.FaceEncoding
	for i := range enc {
		enc[i] = v
	}
	return enc
}

func TestStoreAddKeepsOrder(t *testing.T) {
	s := New()
	for _, name := range []string{"alice", "bob", "alice"} {
		if err := s.Add(name, encodingWith(0.1)); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if s.At(2).Name != "alice" {
		t.Errorf("At(2).Name = %q, want alice", s.At(2).Name)
	}
	names := s.Names()
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("Names() = %v, want [alice bob]", names)
	}

	if err := s.Add("", encodingWith(0)); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Add(\"\") error = %v, want ErrEmptyName", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encodings.json")

	s := New()
	s.Add("alice", encodingWith(0.25))
	s.Add("bob", encodingWith(-0.5))
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", loaded.Len())
	}
	if loaded.At(1).Name != "bob" || loaded.At(1).Encoding[127] != -0.5 {
		t.Errorf("unexpected identity %+v", loaded.At(1).Name)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrMissingStore) {
		t.Errorf("missing file error = %v, want ErrMissingStore", err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"length mismatch", `{"names":["a","b"],"encodings":[[]]}`},
		{"wrong dimension", `{"names":["a"],"encodings":[[0.1,0.2]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			os.WriteFile(path, []byte(tt.content), 0644)
			if _, err := Load(path); !errors.Is(err, ErrCorruptStore) {
				t.Errorf("Load() error = %v, want ErrCorruptStore", err)
			}
		})
	}
}

func TestLoadEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	os.WriteFile(path, []byte(`{"names":[],"encodings":[]}`), 0644)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

// stubDetector returns one face per call unless the image is in noFace.
type stubDetector struct {
	calls  int
	noFace map[int]bool
}

func (d *stubDetector) Detect(ctx context.Context, jpeg []byte) ([]types.DetectedFace, error) {
	d.calls++
	if d.noFace[d.calls] {
		return nil, nil
	}
	return []types.DetectedFace{{Encoding: encodingWith(float64(d.calls))}}, nil
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"))
	writePNG(t, filepath.Join(dir, "bob.png"))
	writePNG(t, filepath.Join(dir, "carol.png"))
	os.WriteFile(filepath.Join(dir, "dave.jpg"), []byte("corrupt"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)
	os.Mkdir(filepath.Join(dir, "nested.png"), 0755)

	// bob is the second image handed to the detector
	det := &stubDetector{noFace: map[int]bool{2: true}}
	seen := 0
	res, err := LoadDir(context.Background(), dir, det, func(string) { seen++ })
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	if seen != 4 {
		t.Errorf("progress callback called %d times, want 4", seen)
	}
	names := res.Store.Names()
	if len(names) != 2 || names[0] != "alice" || names[1] != "carol" {
		t.Errorf("Names() = %v, want [alice carol]", names)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2 entries", res.Skipped)
	}
	if filepath.Base(res.Skipped[0].Path) != "bob.png" || res.Skipped[0].Reason != "no face found" {
		t.Errorf("Skipped[0] = %+v", res.Skipped[0])
	}
	if filepath.Base(res.Skipped[1].Path) != "dave.jpg" {
		t.Errorf("Skipped[1] = %+v", res.Skipped[1])
	}
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"), &stubDetector{}, nil)
	if !errors.Is(err, ErrMissingStore) {
		t.Errorf("LoadDir() error = %v, want ErrMissingStore", err)
	}
}

func TestNameFromPath(t *testing.T) {
	if got := NameFromPath("/refs/Elon Musk.jpeg"); got != "Elon Musk" {
		t.Errorf("NameFromPath() = %q", got)
	}
}
