// Package recognizer runs one frame through decode, detection, matching,
// liveness and attendance.
package recognizer

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Detector finds faces in a JPEG frame. Boxes are in pixels of that frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]types.DetectedFace, error)
}

// LandmarkDetector is implemented by detectors that can run the landmark
// predictor alone at known face boxes. Live frames use it to measure the eyes
// on the full-resolution frame instead of the downscaled detection frame.
type LandmarkDetector interface {
	Landmarks(ctx context.Context, jpeg []byte, boxes []types.BoundingBox) ([]*types.Landmarks, error)
}

type Options struct {
	// Scale is the downscale factor applied to live frames before detection.
	Scale float64
	// RequireLiveness records attendance on live frames only when the session is live.
	RequireLiveness bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result is the outcome of one frame.
type Result struct {
	Faces    []types.MatchResult `json:"faces"`
	Liveness *liveness.Verdict   `json:"liveness,omitempty"`
	Recorded []string            `json:"recorded"`
}

// Pipeline is safe for concurrent use as long as each liveness.State is
// used by one caller at a time.
type Pipeline struct {
	detector Detector
	matcher  *matcher.Matcher
	recorder attendance.Recorder
	opts     Options
}

// New builds a pipeline. A nil recorder disables attendance.
func New(det Detector, m *matcher.Matcher, rec attendance.Recorder, opts Options) *Pipeline {
	if opts.Scale <= 0 || opts.Scale > 1 {
		opts.Scale = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{detector: det, matcher: m, recorder: rec, opts: opts}
}

// ProcessFrame handles a live camera frame: it is downscaled for detection and
// feeds the session's liveness state.
func (p *Pipeline) ProcessFrame(ctx context.Context, data []byte, state *liveness.State) (*Result, error) {
	return p.process(ctx, data, p.opts.Scale, state)
}

// ProcessImage handles a still image at full resolution without liveness.
func (p *Pipeline) ProcessImage(ctx context.Context, data []byte) (*Result, error) {
	return p.process(ctx, data, 1, nil)
}

func (p *Pipeline) process(ctx context.Context, data []byte, scale float64, state *liveness.State) (*Result, error) {
	img, err := frame.Decode(data)
	if err != nil {
		return nil, err
	}

	jpeg := data
	if scale != 1 || !isJPEG(data) {
		jpeg, err = frame.EncodeJPEG(frame.Downscale(img, scale))
		if err != nil {
			return nil, fmt.Errorf("re-encoding frame: %w", err)
		}
	}

	faces, err := p.detector.Detect(ctx, jpeg)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	res := &Result{Faces: p.matcher.MatchAll(faces), Recorded: []string{}}
	matcher.RescaleResults(res.Faces, scale)

	if state != nil && scale != 1 && len(res.Faces) > 0 {
		if err := p.refineLandmarks(ctx, data, img, res.Faces); err != nil {
			return nil, err
		}
	}

	if state != nil {
		detected := make([]types.DetectedFace, len(res.Faces))
		for i, r := range res.Faces {
			detected[i] = r.Face
		}
		v := state.Observe(img, detected)
		res.Liveness = &v
	}

	p.record(ctx, res)
	return res, nil
}

// refineLandmarks replaces the landmarks found on the downscaled frame with
// ones predicted on the original frame at the rescaled boxes. Detectors that
// cannot do this keep the rescaled landmarks.
func (p *Pipeline) refineLandmarks(ctx context.Context, data []byte, img image.Image, faces []types.MatchResult) error {
	ld, ok := p.detector.(LandmarkDetector)
	if !ok {
		return nil
	}

	full := data
	if !isJPEG(data) {
		var err error
		if full, err = frame.EncodeJPEG(img); err != nil {
			return fmt.Errorf("re-encoding frame: %w", err)
		}
	}

	boxes := make([]types.BoundingBox, len(faces))
	for i, f := range faces {
		boxes[i] = f.Face.Box
	}
	marks, err := ld.Landmarks(ctx, full, boxes)
	if err != nil {
		return fmt.Errorf("predicting landmarks: %w", err)
	}
	if len(marks) != len(faces) {
		return fmt.Errorf("predicting landmarks: got %d results for %d faces", len(marks), len(faces))
	}
	for i := range faces {
		faces[i].Face.Landmarks = marks[i]
	}
	return nil
}

// record writes attendance for each matched name at most once per frame.
func (p *Pipeline) record(ctx context.Context, res *Result) {
	if p.recorder == nil {
		return
	}
	if p.opts.RequireLiveness && res.Liveness != nil && !res.Liveness.Live {
		return
	}

	now := p.opts.Now()
	seen := make(map[string]bool)
	for _, r := range res.Faces {
		if !r.Matched || !attendance.Recordable(r.Name) || seen[r.Name] {
			continue
		}
		seen[r.Name] = true

		ok, err := p.recorder.Record(ctx, r.Name, now)
		if err != nil {
			logger.Error("failed to record attendance",
				logger.LoggerOptions{Key: "name", Data: r.Name},
				logger.LoggerOptions{Key: "error", Data: err.Error()})
			continue
		}
		if ok {
			res.Recorded = append(res.Recorded, r.Name)
		}
	}
}

func isJPEG(data []byte) bool {
	return len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8
}
