package utils

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"slices"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestFileFingerprint(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "fingerprint_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake frame content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := FileFingerprint(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := FileFingerprint(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := FileFingerprint(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}

func TestSplitJpeg_MultipleFrames(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	stream := append(append([]byte{}, frame...), frame...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	count := 0
	for scanner.Scan() {
		if !bytes.Equal(scanner.Bytes(), frame) {
			t.Errorf("frame %d = %X, want %X", count, scanner.Bytes(), frame)
		}
		count++
	}
	if count != 2 {
		t.Errorf("Expected 2 frames, got %d", count)
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format string
		fps    int
		want   []string
	}{
		{
			name:  "video file",
			input: "clip.mp4",
			want:  []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-i", "clip.mp4", "-f", "image2pipe", "-vcodec", "mjpeg", "-"},
		},
		{
			name:   "camera device",
			input:  "/dev/video0",
			format: "v4l2",
			fps:    5,
			want: []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "v4l2", "-i", "/dev/video0",
				"-vf", "fps=5", "-f", "image2pipe", "-vcodec", "mjpeg", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewFFmpegCmd(context.Background(), tt.input, tt.format, tt.fps)
			if !slices.Equal(cmd.Args, tt.want) {
				t.Errorf("Args = %v, want %v", cmd.Args, tt.want)
			}
		})
	}
}
