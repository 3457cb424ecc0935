package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/frame"
	"github.com/andresmejia3/rollcall/internal/liveness"
	"github.com/andresmejia3/rollcall/internal/recognizer"
	"github.com/andresmejia3/rollcall/internal/utils"
)

const megabyte = 1024 * 1024

// WatchOptions holds the flags of the watch command.
type WatchOptions struct {
	InputPath string
	Format    string
	FPS       int
	NthFrame  int
}

var watchOpts WatchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recognize faces in a video file or camera stream with liveness checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, watchOpts)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOpts.InputPath, "input", "i", "", "Video file or capture device (e.g. /dev/video0)")
	watchCmd.Flags().StringVarP(&watchOpts.Format, "format", "f", "", "FFmpeg input format for capture devices (e.g. v4l2, avfoundation)")
	watchCmd.Flags().IntVar(&watchOpts.FPS, "fps", 0, "Resample the input to this frame rate (0 keeps the source rate)")
	watchCmd.Flags().IntVarP(&watchOpts.NthFrame, "nth-frame", "n", 1, "Process every nth frame")
	watchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(watchCmd)
}

func validateWatchFlags(opts WatchOptions) error {
	if opts.Format == "" {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			return fmt.Errorf("unable to access input: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file", opts.InputPath)
		}
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	if opts.FPS < 0 {
		return fmt.Errorf("fps must be >= 0, got %d", opts.FPS)
	}
	return nil
}

// runWatch streams MJPEG frames out of ffmpeg and runs each through the live
// pipeline with a single liveness session.
func runWatch(cmd *cobra.Command, opts WatchOptions) error {
	ctx := cmd.Context()
	if err := validateWatchFlags(opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	total := -1
	if opts.Format == "" {
		if id, err := utils.FileFingerprint(opts.InputPath); err == nil {
			fmt.Fprintf(os.Stderr, "📼 Watching video %s\n", id[:12])
		}
		if n := utils.GetTotalFrames(opts.InputPath); n > 0 {
			total = n
		}
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("👀 Watching"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	ffmpeg := utils.NewFFmpegCmd(ctx, opts.InputPath, opts.Format, opts.FPS)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	defer ffmpegOut.Close()

	if err := ffmpeg.Start(); err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	state := liveness.NewState(livenessOptions())
	rep := &reporter{}

	scanner := bufio.NewScanner(ffmpegOut)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	frames, processed := 0, 0
	for scanner.Scan() {
		frames++
		bar.Add(1)
		if frames%opts.NthFrame != 0 {
			continue
		}

		res, err := eng.pipeline.ProcessFrame(ctx, scanner.Bytes(), state)
		if errors.Is(err, frame.ErrDecode) {
			fmt.Fprintf(os.Stderr, "\n⚠️  Skipping undecodable frame %d: %v\n", frames, err)
			continue
		}
		if err != nil {
			ffmpeg.Process.Kill()
			ffmpeg.Wait()
			utils.ShowError("Recognition failed", err, eng.worker.Cmd)
			return err
		}
		processed++

		if lines := rep.update(res); len(lines) > 0 {
			bar.Clear()
			for _, l := range lines {
				fmt.Printf("[frame %d] %s\n", frames, l)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		utils.ShowError("Frame scanner failed", err, nil)
		return err
	}
	if err := ffmpeg.Wait(); err != nil && ctx.Err() == nil {
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.ShowError("FFmpeg execution failed", err, nil)
		return err
	}

	bar.Finish()
	fmt.Fprintf(os.Stderr, "\n🏁 Done. Processed %d of %d frames. Attendance recorded for: %s\n",
		processed, frames, rep.summary())
	return nil
}

// reporter turns per-frame results into change notifications so a steady
// scene does not print a line per frame.
type reporter struct {
	lastNames string
	lastLive  bool
	recorded  []string
}

func (r *reporter) update(res *recognizer.Result) []string {
	var lines []string

	names := make([]string, 0, len(res.Faces))
	for _, f := range res.Faces {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	if key := strings.Join(names, ", "); key != r.lastNames {
		r.lastNames = key
		if key == "" {
			lines = append(lines, "👻 No faces in view")
		} else {
			lines = append(lines, "👤 In view: "+key)
		}
	}

	if res.Liveness != nil && res.Liveness.Live != r.lastLive {
		r.lastLive = res.Liveness.Live
		if r.lastLive {
			lines = append(lines, fmt.Sprintf("💓 Liveness confirmed (blink: %v, motion: %v, flow: %.2f)",
				res.Liveness.Blink, res.Liveness.Motion, res.Liveness.Magnitude))
		} else {
			lines = append(lines, "🧊 No liveness signal")
		}
	}

	for _, name := range res.Recorded {
		r.recorded = append(r.recorded, name)
		lines = append(lines, "📝 Attendance recorded for "+name)
	}
	return lines
}

func (r *reporter) summary() string {
	if len(r.recorded) == 0 {
		return "nobody"
	}
	return strings.Join(r.recorded, ", ")
}
