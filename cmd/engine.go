package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/recognizer"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
)

// startWorker launches the detector subprocess described by the config.
func startWorker(ctx context.Context) (*worker.PythonWorker, error) {
	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	return worker.NewPythonWorker(ctx, 0, worker.Config{
		Python:      Cfg.Worker.Python,
		Script:      Cfg.Worker.Script,
		ReadTimeout: Cfg.WorkerTimeout(),
	})
}

// loadKnownFaces returns the encoding store: from the database when one is
// configured, else from the encodings file, else by encoding the images
// directory (and caching the result to the encodings file).
func loadKnownFaces(ctx context.Context, det encodings.Detector) (*encodings.Store, error) {
	if DB != nil {
		return DB.LoadEncodings(ctx)
	}

	s, err := encodings.Load(Cfg.Encodings.File)
	if err == nil {
		fmt.Fprintf(os.Stderr, "📂 Loaded %d encodings from %s\n", s.Len(), Cfg.Encodings.File)
		return s, nil
	}
	if !errors.Is(err, encodings.ErrMissingStore) {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "⚠️  %s not found, encoding images from %s\n", Cfg.Encodings.File, Cfg.Encodings.ImagesDir)
	res, err := encodeDir(ctx, det, Cfg.Encodings.ImagesDir)
	if err != nil {
		return nil, err
	}
	if err := res.Store.Save(Cfg.Encodings.File); err != nil {
		return nil, err
	}
	return res.Store, nil
}

// encodeDir encodes every reference image with a progress bar and reports skipped files.
func encodeDir(ctx context.Context, det encodings.Detector, dir string) (*encodings.DirResult, error) {
	paths, err := encodings.ListImages(dir)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "🖼️  %d encoding images found.\n", len(paths))

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🧬 Encoding faces"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	res, err := encodings.LoadDir(ctx, dir, det, func(string) { bar.Add(1) })
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}

	for _, s := range res.Skipped {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped %s: %s\n", s.Path, s.Reason)
	}
	return res, nil
}

// newRecorder returns the database recorder when a database is configured, else the CSV ledger.
func newRecorder() (attendance.Ledger, error) {
	if DB != nil {
		return DB, nil
	}
	return attendance.OpenCSV(Cfg.Attendance.File)
}

func newMatcher(s *encodings.Store) *matcher.Matcher {
	return matcher.New(s, matcher.Options{
		Threshold:    Cfg.Match.Threshold,
		IndexMinSize: Cfg.Match.IndexMinSize,
		Candidates:   Cfg.Match.Candidates,
	})
}

func livenessOptions() liveness.Options {
	return liveness.Options{
		EARThreshold:      Cfg.Liveness.EARThreshold,
		ConsecutiveFrames: Cfg.Liveness.ConsecutiveFrames,
		MotionThreshold:   Cfg.Liveness.MotionThreshold,
	}
}

// engine bundles everything a recognition command needs.
type engine struct {
	worker   *worker.PythonWorker
	pipeline *recognizer.Pipeline
	recorder attendance.Ledger
}

// newEngine starts the worker, loads known faces and builds the pipeline.
// The caller must Close the engine.
func newEngine(ctx context.Context) (*engine, error) {
	w, err := startWorker(ctx)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return nil, err
	}

	known, err := loadKnownFaces(ctx, w)
	if err != nil {
		w.Close()
		utils.ShowError("Failed to load known faces", err, w.Cmd)
		return nil, err
	}
	if known.Len() == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No known faces enrolled. Every face will be reported as Unknown.")
	}

	rec, err := newRecorder()
	if err != nil {
		w.Close()
		utils.ShowError("Failed to open attendance ledger", err, nil)
		return nil, err
	}

	p := recognizer.New(w, newMatcher(known), rec, recognizer.Options{
		Scale:           Cfg.Frame.Scale,
		RequireLiveness: Cfg.Liveness.RequireForAttendance,
	})
	return &engine{worker: w, pipeline: p, recorder: rec}, nil
}

func (e *engine) Close() {
	e.worker.Close()
}
