package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/attendance"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var attendanceDate string

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show who was recorded present on a day",
	Run: func(cmd *cobra.Command, args []string) {
		day, err := parseDay(attendanceDate, time.Now())
		if err != nil {
			utils.Die("Invalid date", err, nil)
		}

		ledger, err := newRecorder()
		if err != nil {
			utils.Die("Failed to open attendance ledger", err, nil)
		}
		records, err := ledger.List(cmd.Context(), day)
		if err != nil {
			utils.Die("Failed to list attendance", err, nil)
		}

		if len(records) == 0 {
			fmt.Printf("No attendance recorded on %s.\n", day.Format(attendance.DateLayout))
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tDATE\tTIME")
		fmt.Fprintln(w, "----\t----\t----")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Time.Format(attendance.DateLayout), r.Time.Format(attendance.TimeLayout))
		}
		w.Flush()
	},
}

func init() {
	attendanceCmd.Flags().StringVarP(&attendanceDate, "date", "d", "", "Day to show, in "+attendance.DateLayout+" form (default: today)")
	rootCmd.AddCommand(attendanceCmd)
}

// parseDay parses a --date value in local time; an empty value means the day of now.
func parseDay(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	return time.ParseInLocation(attendance.DateLayout, s, time.Local)
}
