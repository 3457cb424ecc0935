package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/recognizer"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Recognize the faces in a still image and record attendance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecognize(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
}

func runRecognize(cmd *cobra.Command, imagePath string) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	eng, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	res, err := eng.pipeline.ProcessImage(ctx, data)
	if err != nil {
		utils.ShowError("Recognition failed", err, eng.worker.Cmd)
		return err
	}

	if len(res.Faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	printResults(res)
	return nil
}

// printResults tabulates the faces of one frame and the names recorded for it.
func printResults(res *recognizer.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tDISTANCE\tBOX (T,R,B,L)")
	fmt.Fprintln(w, "----\t--------\t-------------")
	for _, f := range res.Faces {
		dist := "-"
		if f.HasDistance {
			dist = fmt.Sprintf("%.3f", f.Distance)
		}
		b := f.Face.Box
		fmt.Fprintf(w, "%s\t%s\t%d,%d,%d,%d\n", f.Name, dist, b.Top, b.Right, b.Bottom, b.Left)
	}
	w.Flush()

	for _, name := range res.Recorded {
		fmt.Printf("📝 Attendance recorded for %s\n", name)
	}
}
