package encodings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Detector is the black-box face detector/encoder used during enrollment.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]types.DetectedFace, error)
}

// imageExts lists the reference image formats accepted from the images directory.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// SkippedImage explains why a reference image did not produce an identity.
type SkippedImage struct {
	Path   string
	Reason string
}

// DirResult is the outcome of encoding an images directory.
type DirResult struct {
	Store   *Store
	Skipped []SkippedImage
}

// ListImages returns the reference images in dir, sorted by file name so
// enrollment order is reproducible.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStore, dir)
		}
		return nil, fmt.Errorf("failed to read images directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// NameFromPath derives the identity name from the file stem.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadDir encodes every reference image in dir. The first face the detector
// reports in an image becomes that image's identity; images that fail to
// decode or contain no face are skipped and reported. onImage, when non-nil,
// is called after each image is handled.
func LoadDir(ctx context.Context, dir string, det Detector, onImage func(path string)) (*DirResult, error) {
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	logger.Info("encoding images found", logger.LoggerOptions{Key: "count", Data: len(paths)})

	res := &DirResult{Store: New()}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reason, err := encodeImage(ctx, res.Store, det, path)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			res.Skipped = append(res.Skipped, SkippedImage{Path: path, Reason: reason})
			logger.Warning("skipping reference image",
				logger.LoggerOptions{Key: "path", Data: path},
				logger.LoggerOptions{Key: "reason", Data: reason})
		}
		if onImage != nil {
			onImage(path)
		}
	}
	return res, nil
}

// encodeImage returns a non-empty skip reason for recoverable per-image problems
// and an error only when the detector itself fails.
func encodeImage(ctx context.Context, s *Store, det Detector, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("unreadable: %v", err), nil
	}
	img, err := frame.Decode(data)
	if err != nil {
		return err.Error(), nil
	}
	jpg, err := frame.EncodeJPEG(img)
	if err != nil {
		return err.Error(), nil
	}

	faces, err := det.Detect(ctx, jpg)
	if err != nil {
		return "", fmt.Errorf("detector failed on %s: %w", path, err)
	}
	if len(faces) == 0 {
		return "no face found", nil
	}

	name := NameFromPath(path)
	if err := s.Add(name, faces[0].Encoding); err != nil {
		return err.Error(), nil
	}
	return "", nil
}
