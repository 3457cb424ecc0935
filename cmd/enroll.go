package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/utils"
)

var (
	enrollImages string
	enrollOut    string
	enrollPush   bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Encode a directory of labeled face images (file name = person name)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnroll(cmd)
	},
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollImages, "images", "i", "", "Directory of reference images (default from config: images)")
	enrollCmd.Flags().StringVarP(&enrollOut, "out", "o", "", "Encodings file to write (default from config: encodings.json)")
	enrollCmd.Flags().BoolVar(&enrollPush, "push", false, "Also insert the identities into the database")
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if enrollImages == "" {
		enrollImages = Cfg.Encodings.ImagesDir
	}
	if enrollOut == "" {
		enrollOut = Cfg.Encodings.File
	}
	if enrollPush && DB == nil {
		err := fmt.Errorf("--push needs a database (--db or DATABASE_URL)")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	w, err := startWorker(ctx)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	defer w.Close()

	res, err := encodeDir(ctx, w, enrollImages)
	if err != nil {
		utils.ShowError("Enrollment failed", err, w.Cmd)
		return err
	}

	if err := res.Store.Save(enrollOut); err != nil {
		utils.ShowError("Failed to write encodings", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "💾 Saved %d encodings to %s\n", res.Store.Len(), enrollOut)

	if enrollPush {
		if err := DB.AddIdentities(ctx, res.Store.Identities()); err != nil {
			utils.ShowError("Failed to push identities to the database", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🐘 Inserted %d identities into the database\n", res.Store.Len())
	}

	fmt.Printf("✅ Enrolled %d of %d images.\n", res.Store.Len(), res.Store.Len()+len(res.Skipped))
	return nil
}
