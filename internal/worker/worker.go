// Package worker drives the face detector/encoder subprocess.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils" // Using the SafeCommand wrapper
)

var (
	// ErrWorkerDead is returned once a worker has timed out or crashed; the
	// stream is out of sync and the worker must be restarted.
	ErrWorkerDead = errors.New("detector worker is not running")
	ErrTimeout    = errors.New("detector worker timed out")
)

// Wire limits, so a corrupt header cannot trigger a huge allocation.
const (
	maxFacesPerFrame = 1024
	maxLandmarks     = 68
)

// Config selects the interpreter and script for the worker.
type Config struct {
	Python      string
	Script      string
	ReadTimeout time.Duration
}

// PythonWorker is a long-lived detector subprocess. Requests are serialized.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
	dead    bool
}

// NewPythonWorker starts the worker script. The subprocess is killed when ctx is cancelled.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	logger.Info("detector worker started", logger.LoggerOptions{Key: "pid", Data: py.Process.Pid})
	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import crash in the worker
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Request opcodes, sent as the first byte of every request payload.
const (
	opDetect    byte = 0
	opLandmarks byte = 1
)

// Detect sends a JPEG frame and returns every face the worker found, in detection order.
func (w *PythonWorker) Detect(ctx context.Context, jpeg []byte) ([]types.DetectedFace, error) {
	req := make([]byte, 0, 1+len(jpeg))
	req = append(req, opDetect)
	req = append(req, jpeg...)

	body, err := w.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(body)
}

// Landmarks runs only the landmark predictor on a JPEG frame, at the given
// face boxes in that frame's pixels. The result has one entry per box, nil
// where the predictor found no eyes.
func (w *PythonWorker) Landmarks(ctx context.Context, jpeg []byte, boxes []types.BoundingBox) ([]*types.Landmarks, error) {
	if len(boxes) > maxFacesPerFrame {
		return nil, fmt.Errorf("too many boxes for one frame: %d", len(boxes))
	}
	var req bytes.Buffer
	req.WriteByte(opLandmarks)
	binary.Write(&req, binary.BigEndian, uint32(len(boxes)))
	for _, b := range boxes {
		binary.Write(&req, binary.BigEndian, [4]int32{int32(b.Top), int32(b.Right), int32(b.Bottom), int32(b.Left)})
	}
	req.Write(jpeg)

	body, err := w.roundTrip(ctx, req.Bytes())
	if err != nil {
		return nil, err
	}
	marks, err := DecodeLandmarks(body)
	if err != nil {
		return nil, err
	}
	if len(marks) != len(boxes) {
		return nil, fmt.Errorf("worker returned landmarks for %d faces, asked for %d", len(marks), len(boxes))
	}
	return marks, nil
}

// roundTrip performs one serialized request. Any transport failure, timeout or
// cancellation leaves the stream out of sync, so the worker is killed.
func (w *PythonWorker) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dead {
		return nil, ErrWorkerDead
	}

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.Communicate(req)
		done <- reply{body, err}
	}()

	var timer <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			w.kill()
			return nil, fmt.Errorf("worker %d: %w", w.ID, r.err)
		}
		return r.body, nil
	case <-timer:
		w.kill()
		return nil, fmt.Errorf("worker %d: %w after %s", w.ID, ErrTimeout, w.timeout)
	case <-ctx.Done():
		w.kill()
		return nil, ctx.Err()
	}
}

// kill marks the worker unusable and terminates the subprocess, which also
// unblocks a pending Communicate.
func (w *PythonWorker) kill() {
	w.dead = true
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
}

// DecodeResponse parses a detect payload:
//
//	[status u8]
//	status 0: [u32 nFaces] then per face
//	          [4 x i32 top,right,bottom,left][128 x f32][u32 nLeft][nLeft x (f32,f32)][u32 nRight][...]
//	status 1: [u32 msgLen][msg]
func DecodeResponse(payload []byte) ([]types.DetectedFace, error) {
	r, count, err := openResponse(payload)
	if err != nil {
		return nil, err
	}

	faces := make([]types.DetectedFace, 0, count)
	for i := uint32(0); i < count; i++ {
		f, err := readFace(r)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// DecodeLandmarks parses a landmarks payload: the same status framing as
// DecodeResponse, then per face only [u32 nLeft][points][u32 nRight][points].
func DecodeLandmarks(payload []byte) ([]*types.Landmarks, error) {
	r, count, err := openResponse(payload)
	if err != nil {
		return nil, err
	}

	marks := make([]*types.Landmarks, 0, count)
	for i := uint32(0); i < count; i++ {
		lm, err := readEyes(r)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		marks = append(marks, lm)
	}
	return marks, nil
}

// openResponse checks the status byte and reads the face count.
func openResponse(payload []byte) (*bytes.Reader, uint32, error) {
	r := bytes.NewReader(payload)

	status, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("empty worker response: %w", err)
	}
	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, 0, fmt.Errorf("malformed worker error: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, 0, fmt.Errorf("malformed worker error: message length %d exceeds payload", msgLen)
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)
		return nil, 0, fmt.Errorf("python worker error: %s", msg)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, 0, fmt.Errorf("reading face count: %w", err)
	}
	if count > maxFacesPerFrame {
		return nil, 0, fmt.Errorf("implausible face count %d", count)
	}
	return r, count, nil
}

func readFace(r io.Reader) (types.DetectedFace, error) {
	var f types.DetectedFace

	var box [4]int32
	if err := binary.Read(r, binary.BigEndian, &box); err != nil {
		return f, fmt.Errorf("reading box: %w", err)
	}
	f.Box = types.BoundingBox{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])}

	var vec [types.EncodingDim]float32
	if err := binary.Read(r, binary.BigEndian, &vec); err != nil {
		return f, fmt.Errorf("reading encoding: %w", err)
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return f, fmt.Errorf("encoding component %d is not finite", i)
		}
		f.Encoding[i] = float64(v)
	}

	lm, err := readEyes(r)
	if err != nil {
		return f, err
	}
	f.Landmarks = lm
	return f, nil
}

// readEyes reads both eye contours; nil when the worker sent neither.
func readEyes(r io.Reader) (*types.Landmarks, error) {
	left, err := readPoints(r)
	if err != nil {
		return nil, fmt.Errorf("reading left eye: %w", err)
	}
	right, err := readPoints(r)
	if err != nil {
		return nil, fmt.Errorf("reading right eye: %w", err)
	}
	if len(left) == 0 && len(right) == 0 {
		return nil, nil
	}
	return &types.Landmarks{LeftEye: left, RightEye: right}, nil
}

func readPoints(r io.Reader) ([]types.Point, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > maxLandmarks {
		return nil, fmt.Errorf("implausible landmark count %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	raw := make([]float32, 2*n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, err
	}
	pts := make([]types.Point, n)
	for i := range pts {
		x, y := float64(raw[2*i]), float64(raw[2*i+1])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("landmark %d is not finite", i)
		}
		pts[i] = types.Point{X: x, Y: y}
	}
	return pts, nil
}

// Close shuts the worker down: closing stdin makes the script exit its read loop.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	err := w.Cmd.Wait()
	if w.dead {
		return nil
	}
	return err
}
