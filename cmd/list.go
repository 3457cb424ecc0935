package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/encodings"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	if DB != nil {
		identities, err := DB.ListIdentities(cmd.Context())
		if err != nil {
			utils.Die("Failed to list identities", err, nil)
		}
		if len(identities) == 0 {
			fmt.Println("No identities found in database.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFACE COUNT\tCREATED")
		fmt.Fprintln(w, "--\t----\t----------\t-------")
		for _, id := range identities {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", id.ID, id.Name, id.Count, id.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		w.Flush()
		return
	}

	s, err := encodings.Load(Cfg.Encodings.File)
	if err != nil {
		utils.Die("Failed to load encodings", err, nil)
	}
	names, counts := countTemplates(s)
	if len(names) == 0 {
		fmt.Printf("No identities found in %s.\n", Cfg.Encodings.File)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tFACE COUNT")
	fmt.Fprintln(w, "----\t----------")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
	w.Flush()
}

// countTemplates returns the enrolled names in first-enrollment order and the
// number of templates stored under each.
func countTemplates(s *encodings.Store) ([]string, map[string]int) {
	var names []string
	counts := make(map[string]int)
	for _, id := range s.Identities() {
		if counts[id.Name] == 0 {
			names = append(names, id.Name)
		}
		counts[id.Name]++
	}
	return names, counts
}
