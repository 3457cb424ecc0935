package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/recognizer"
	"github.com/andresmejia3/rollcall/internal/types"
)

func result(live *bool, recorded []string, names ...string) *recognizer.Result {
	res := &recognizer.Result{Recorded: recorded}
	for _, n := range names {
		res.Faces = append(res.Faces, types.MatchResult{Name: n})
	}
	if live != nil {
		res.Liveness = &liveness.Verdict{Blink: *live, Live: *live}
	}
	return res
}

func TestReporter(t *testing.T) {
	yes, no := true, false
	r := &reporter{}

	steps := []struct {
		name string
		res  *recognizer.Result
		want int
	}{
		{"first face appears", result(&no, nil, "alice"), 1},
		{"same scene is silent", result(&no, nil, "alice"), 0},
		{"order does not matter", result(&no, nil, "bob", "alice"), 1},
		{"same set reordered", result(&no, nil, "alice", "bob"), 0},
		{"liveness flips", result(&yes, []string{"alice"}, "alice", "bob"), 2},
		{"still live", result(&yes, nil, "alice", "bob"), 0},
		{"scene empties", result(&yes, nil), 1},
		{"still image has no verdict", result(nil, nil), 0},
	}
	for _, s := range steps {
		if got := r.update(s.res); len(got) != s.want {
			t.Errorf("%s: update() = %q, want %d lines", s.name, got, s.want)
		}
	}

	if got := r.summary(); got != "alice" {
		t.Errorf("summary() = %q, want alice", got)
	}
}

func TestReporterSummaryEmpty(t *testing.T) {
	if got := (&reporter{}).summary(); got != "nobody" {
		t.Errorf("summary() = %q, want nobody", got)
	}
}

func TestValidateWatchFlags(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    WatchOptions
		wantErr bool
	}{
		{"file", WatchOptions{InputPath: video, NthFrame: 1}, false},
		{"missing file", WatchOptions{InputPath: filepath.Join(dir, "nope.mp4"), NthFrame: 1}, true},
		{"directory", WatchOptions{InputPath: dir, NthFrame: 1}, true},
		{"device is not stat'ed", WatchOptions{InputPath: "/dev/video9", Format: "v4l2", NthFrame: 1}, false},
		{"zero nth frame", WatchOptions{InputPath: video, NthFrame: 0}, true},
		{"negative fps", WatchOptions{InputPath: video, NthFrame: 1, FPS: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateWatchFlags(tt.opts); (err != nil) != tt.wantErr {
				t.Errorf("validateWatchFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCountTemplates(t *testing.T) {
	s := encodings.New()
	for _, n := range []string{"bob", "alice", "bob", "carol", "bob"} {
		if err := s.Add(n, types.FaceEncoding{}); err != nil {
			t.Fatal(err)
		}
	}

	names, counts := countTemplates(s)
	if want := []string{"bob", "alice", "carol"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if counts["bob"] != 3 || counts["alice"] != 1 || counts["carol"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestParseDay(t *testing.T) {
	now := time.Date(2024, 3, 9, 15, 4, 5, 0, time.Local)

	got, err := parseDay("", now)
	if err != nil || !got.Equal(now) {
		t.Errorf("parseDay(\"\") = %v, %v, want now", got, err)
	}

	got, err = parseDay("2023-12-31", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Year() != 2023 || got.Month() != 12 || got.Day() != 31 {
		t.Errorf("parseDay() = %v", got)
	}

	if _, err := parseDay("31/12/2023", now); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestServePortHelpMatchesDefault(t *testing.T) {
	usage := serveCmd.Flags().Lookup("port").Usage
	want := "default from config: " + strconv.Itoa(config.Default().Server.Port)
	if !strings.Contains(usage, want) {
		t.Errorf("port usage = %q, want it to mention %q", usage, want)
	}
}
